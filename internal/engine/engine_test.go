package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milestonefund/internal/model"
	"milestonefund/internal/service/campaign"
	"milestonefund/internal/service/governor"
	"milestonefund/internal/store"
	"milestonefund/pkg/rbac"
)

var (
	t0       = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	platform = model.Actor{ID: "platform-owner", Role: rbac.RoleOwner}
	admin    = model.Actor{ID: "ops", Role: rbac.RoleAdmin}
	founder  = model.Actor{ID: "founder", Role: rbac.RoleUser}
	alice    = model.Actor{ID: "alice", Role: rbac.RoleUser}
	bob      = model.Actor{ID: "bob", Role: rbac.RoleUser}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// flakyCommitter 在 fail 为 true 时模拟存储故障
type flakyCommitter struct {
	*store.MemoryLog
	mu   sync.Mutex
	fail bool
}

var errStorage = errors.New("storage unavailable")

func (f *flakyCommitter) Commit(ctx context.Context, cs store.ChangeSet) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errStorage
	}
	return f.MemoryLog.Commit(ctx, cs)
}

func (f *flakyCommitter) SetFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

type harness struct {
	eng   *Engine
	clock *clock
	log   *flakyCommitter
}

func newHarness(t *testing.T, cfg model.PlatformConfig) *harness {
	t.Helper()
	clk := &clock{now: t0}
	log := &flakyCommitter{MemoryLog: store.NewMemoryLog()}
	eng, err := New(Dependencies{
		Committer: log,
		Platform:  cfg,
		Campaign: campaign.Config{
			MinimumTargetAmount:  1000,
			MaxTitleLength:       200,
			MaxDescriptionLength: 5000,
			MaxDuration:          365 * 24 * time.Hour,
			DefaultUnitPrice:     1,
		},
		Governance: governor.Config{
			Thresholds:               governor.Thresholds{ApprovalBps: 5100, ParticipationBps: 5100},
			MinVotingDuration:        time.Hour,
			MaxVotingDuration:        30 * 24 * time.Hour,
			MaxMilestonesPerCampaign: 20,
		},
	}, WithClock(clk.Now))
	require.NoError(t, err)
	return &harness{eng: eng, clock: clk, log: log}
}

func (h *harness) campaign(t *testing.T, target int64, deadline time.Duration) model.Campaign {
	t.Helper()
	c, err := h.eng.CreateCampaign(context.Background(), founder, campaign.CreateInput{
		Title:        "Open hardware lab",
		Description:  "Tools and space for the neighbourhood makers",
		TargetAmount: target,
		Deadline:     h.clock.Now().Add(deadline),
	})
	require.NoError(t, err)
	return c
}

// assertInvariants raisedAmount 等于台账汇总，托管余额不超过 raisedAmount，余额恒等式成立
func (h *harness) assertInvariants(t *testing.T, campaignID int64) {
	t.Helper()
	ctx := context.Background()
	c, err := h.eng.GetCampaign(ctx, campaignID)
	require.NoError(t, err)
	invs, err := h.eng.GetCampaignContributors(ctx, campaignID)
	require.NoError(t, err)
	bal, err := h.eng.GetEscrowBalance(ctx, campaignID)
	require.NoError(t, err)

	var sum int64
	for _, inv := range invs {
		assert.Equal(t, inv.GrossAmount, inv.FeeAmount+inv.NetAmount)
		if !inv.Refunded {
			sum += inv.NetAmount
		}
	}
	assert.Equal(t, sum, c.RaisedAmount, "raised amount matches ledger")
	assert.LessOrEqual(t, bal.Balance, c.RaisedAmount, "escrow balance bounded by raised amount")
	assert.GreaterOrEqual(t, bal.Balance, int64(0))
	assert.Equal(t, bal.Deposited-bal.Released-bal.Refunded, bal.Balance)
}

func TestScenarioA_FeeSplit(t *testing.T) {
	h := newHarness(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 1})
	c := h.campaign(t, 10_000_000, 30*24*time.Hour)

	res, err := h.eng.Invest(context.Background(), alice, c.ID, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(25_000), res.FeeAmount)
	assert.Equal(t, int64(975_000), res.NetAmount)
	assert.Equal(t, int64(975_000), res.Campaign.RaisedAmount)
	assert.Equal(t, int64(975_000), res.Escrow.Balance)
	assert.Equal(t, int64(25_000), res.FeePool)
	assert.Equal(t, int64(25_000), h.eng.GetPlatformState().FeePool)

	quote, err := h.eng.CalculatePlatformFee(1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(25_000), quote.FeeAmount)
	h.assertInvariants(t, c.ID)
}

func TestScenarioB_WeightedApproval(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{FeeBasisPoints: 0, MinimumInvestment: 1})
	c := h.campaign(t, 10_000_000, 60*24*time.Hour)

	_, err := h.eng.Invest(ctx, alice, c.ID, 6_000_000)
	require.NoError(t, err)
	_, err = h.eng.Invest(ctx, bob, c.ID, 3_000_000)
	require.NoError(t, err)

	m, err := h.eng.CreateMilestone(ctx, founder, c.ID, governor.MilestoneInput{
		Title: "Lease and fit-out", TargetAmount: 5_000_000, VotingDuration: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	_, err = h.eng.Vote(ctx, alice, c.ID, m.Index, true)
	require.NoError(t, err)
	vr, err := h.eng.Vote(ctx, bob, c.ID, m.Index, false)
	require.NoError(t, err)
	assert.Equal(t, int64(6_000_000), vr.Milestone.VotesFor)
	assert.Equal(t, int64(3_000_000), vr.Milestone.VotesAgainst)

	_, err = h.eng.ExecuteMilestone(ctx, founder, c.ID, m.Index)
	assert.ErrorIs(t, err, model.ErrVotingNotEnded)

	h.clock.Set(m.VotingDeadline)
	st, err := h.eng.GetMilestoneVotingStatus(ctx, c.ID, m.Index)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneApproved, st.Status, "closed lazily on read")
	assert.Equal(t, "66.67", st.ApprovalPercent)
	assert.Equal(t, "100.00", st.ParticipationPercent)

	res, err := h.eng.ExecuteMilestone(ctx, bob, c.ID, m.Index)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneExecuted, res.Milestone.Status)
	require.NotNil(t, res.Transfer)
	assert.Equal(t, founder.ID, res.Transfer.Recipient)
	assert.Equal(t, int64(5_000_000), res.Transfer.Amount)
	assert.Equal(t, int64(4_000_000), res.Escrow.Balance)

	_, err = h.eng.ExecuteMilestone(ctx, bob, c.ID, m.Index)
	assert.ErrorIs(t, err, model.ErrAlreadyExecuted)
	h.assertInvariants(t, c.ID)
}

func TestScenarioC_ExpiryRefundsEveryone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 1})
	c := h.campaign(t, 10_000_000, 24*time.Hour)

	_, err := h.eng.Invest(ctx, alice, c.ID, 400_000)
	require.NoError(t, err)
	_, err = h.eng.Invest(ctx, bob, c.ID, 200_000)
	require.NoError(t, err)
	m, err := h.eng.CreateMilestone(ctx, founder, c.ID, governor.MilestoneInput{Title: "Tools", TargetAmount: 100_000, VotingDuration: 48 * time.Hour})
	require.NoError(t, err)

	h.clock.Set(c.Deadline.Add(time.Minute))
	_, err = h.eng.Invest(ctx, model.Actor{ID: "carol"}, c.ID, 10_000)
	assert.ErrorIs(t, err, model.ErrCampaignNotInvestable)

	got, err := h.eng.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignExpired, got.Status)
	assert.Zero(t, got.RaisedAmount)

	for _, who := range []string{alice.ID, bob.ID} {
		inv, err := h.eng.GetInvestment(ctx, c.ID, who)
		require.NoError(t, err)
		assert.True(t, inv.Refunded)
	}
	bal, err := h.eng.GetEscrowBalance(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, bal.Balance)
	assert.Equal(t, int64(390_000+195_000), bal.Refunded)

	ms, err := h.eng.GetMilestone(ctx, c.ID, m.Index)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneFailed, ms.Status)

	var refunds int
	for _, tr := range h.log.Transfers() {
		if tr.Kind == model.TransferRefund {
			refunds++
		}
	}
	assert.Equal(t, 2, refunds)
	h.assertInvariants(t, c.ID)
}

func TestScenarioD_BelowMinimum(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 500})
	c := h.campaign(t, 10_000, 24*time.Hour)

	_, err := h.eng.Invest(ctx, alice, c.ID, 499)
	require.ErrorIs(t, err, model.ErrBelowMinimum)

	got, err := h.eng.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RaisedAmount)
	assert.Zero(t, h.eng.GetPlatformState().FeePool)
}

func TestInvestRefundRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 1})
	c := h.campaign(t, 10_000_000, 24*time.Hour)
	_, err := h.eng.Invest(ctx, bob, c.ID, 50_000)
	require.NoError(t, err)

	before, err := h.eng.GetEscrowBalance(ctx, c.ID)
	require.NoError(t, err)

	_, err = h.eng.Invest(ctx, alice, c.ID, 100)
	require.NoError(t, err)

	_, err = h.eng.RefundContributor(ctx, bob, c.ID, alice.ID)
	assert.ErrorIs(t, err, model.ErrNotAuthorized)

	res, err := h.eng.RefundContributor(ctx, alice, c.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(98), res.Refund.Amount)
	require.NotNil(t, res.Transfer)
	assert.Equal(t, before.Balance, res.Escrow.Balance)
	assert.Equal(t, before.RaisedAmount, res.Campaign.RaisedAmount)
	assert.True(t, res.Investment.Refunded)

	_, err = h.eng.RefundContributor(ctx, alice, c.ID, alice.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = h.eng.Invest(ctx, alice, c.ID, 100)
	assert.ErrorIs(t, err, model.ErrInvestmentRefunded)
	h.assertInvariants(t, c.ID)
}

func TestEvaluateExpiry_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{MinimumInvestment: 1})
	c := h.campaign(t, 10_000, time.Hour)
	_, err := h.eng.Invest(ctx, alice, c.ID, 5_000)
	require.NoError(t, err)

	h.clock.Set(c.Deadline)
	first, err := h.eng.EvaluateExpiry(ctx, c.ID)
	require.NoError(t, err)
	commits := h.log.Commits()
	bal1, err := h.eng.GetEscrowBalance(ctx, c.ID)
	require.NoError(t, err)

	h.clock.Set(c.Deadline.Add(time.Hour))
	second, err := h.eng.EvaluateExpiry(ctx, c.ID)
	require.NoError(t, err)
	bal2, err := h.eng.GetEscrowBalance(ctx, c.ID)
	require.NoError(t, err)

	assert.Equal(t, model.CampaignExpired, first.Status)
	assert.Equal(t, first, second)
	assert.Equal(t, bal1, bal2)
	assert.Equal(t, commits, h.log.Commits(), "no further commits")
}

func TestFundedCampaignDoesNotExpire(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{MinimumInvestment: 1})
	c := h.campaign(t, 10_000, time.Hour)
	res, err := h.eng.Invest(ctx, alice, c.ID, 10_000)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignFunded, res.Campaign.Status)

	h.clock.Set(c.Deadline.Add(24 * time.Hour))
	got, err := h.eng.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignFunded, got.Status)
	assert.Equal(t, int64(10_000), got.RaisedAmount)

	_, err = h.eng.RefundContributor(ctx, alice, c.ID, alice.ID)
	assert.ErrorIs(t, err, model.ErrInvalidStatus)
	_, err = h.eng.RefundContributor(ctx, admin, c.ID, alice.ID)
	require.NoError(t, err)
}

func TestZeroVoteMilestoneFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{MinimumInvestment: 1})
	c := h.campaign(t, 10_000, 30*24*time.Hour)
	_, err := h.eng.Invest(ctx, alice, c.ID, 5_000)
	require.NoError(t, err)
	m, err := h.eng.CreateMilestone(ctx, founder, c.ID, governor.MilestoneInput{Title: "Kickoff", TargetAmount: 1_000, VotingDuration: 2 * time.Hour})
	require.NoError(t, err)

	h.clock.Set(m.VotingDeadline)
	res, err := h.eng.ExecuteMilestone(ctx, alice, c.ID, m.Index)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneFailed, res.Milestone.Status)
	assert.Nil(t, res.Transfer)
	assert.Equal(t, int64(5_000), res.Escrow.Balance)
}

func TestRefundAfterReleaseIsProRata(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{MinimumInvestment: 1})
	c := h.campaign(t, 100_000, 30*24*time.Hour)
	_, err := h.eng.Invest(ctx, alice, c.ID, 6_000)
	require.NoError(t, err)
	_, err = h.eng.Invest(ctx, bob, c.ID, 4_000)
	require.NoError(t, err)

	m, err := h.eng.CreateMilestone(ctx, founder, c.ID, governor.MilestoneInput{Title: "Deposit", TargetAmount: 5_000, VotingDuration: time.Hour})
	require.NoError(t, err)
	_, err = h.eng.Vote(ctx, alice, c.ID, m.Index, true)
	require.NoError(t, err)
	h.clock.Set(m.VotingDeadline)
	_, err = h.eng.ExecuteMilestone(ctx, alice, c.ID, m.Index)
	require.NoError(t, err)

	res, err := h.eng.RefundContributor(ctx, bob, c.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4_000), res.Refund.NetAmount)
	assert.Equal(t, int64(2_000), res.Refund.Amount)
	assert.Equal(t, int64(3_000), res.Escrow.Balance)
	h.assertInvariants(t, c.ID)

	cancel, err := h.eng.CancelCampaign(ctx, admin, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCancelled, cancel.Campaign.Status)
	assert.Equal(t, int64(3_000), cancel.Settlement.Total)
	assert.Zero(t, cancel.Escrow.Balance)
	assert.Equal(t, int64(5_000), cancel.Escrow.Released, "released funds are not clawed back")
	h.assertInvariants(t, c.ID)
}

func TestRefundVoidsOpenVotes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{MinimumInvestment: 1})
	c := h.campaign(t, 100_000, 30*24*time.Hour)
	_, err := h.eng.Invest(ctx, alice, c.ID, 6_000)
	require.NoError(t, err)
	_, err = h.eng.Invest(ctx, bob, c.ID, 4_000)
	require.NoError(t, err)
	m, err := h.eng.CreateMilestone(ctx, founder, c.ID, governor.MilestoneInput{Title: "Deposit", TargetAmount: 3_000, VotingDuration: time.Hour})
	require.NoError(t, err)
	_, err = h.eng.Vote(ctx, alice, c.ID, m.Index, true)
	require.NoError(t, err)

	_, err = h.eng.RefundContributor(ctx, alice, c.ID, alice.ID)
	require.NoError(t, err)

	got, err := h.eng.GetMilestone(ctx, c.ID, m.Index)
	require.NoError(t, err)
	assert.Zero(t, got.VotesFor)
	assert.Zero(t, got.VoteCount)

	_, err = h.eng.Vote(ctx, alice, c.ID, m.Index, true)
	assert.ErrorIs(t, err, model.ErrNotInvestor)
}

func TestCommitFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 1})
	c := h.campaign(t, 10_000_000, 24*time.Hour)
	_, err := h.eng.Invest(ctx, alice, c.ID, 10_000)
	require.NoError(t, err)

	h.log.SetFail(true)
	_, err = h.eng.Invest(ctx, bob, c.ID, 20_000)
	require.ErrorIs(t, err, errStorage)
	assert.Equal(t, "Internal", model.Kind(err))
	h.log.SetFail(false)

	got, err := h.eng.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9_750), got.RaisedAmount)
	assert.Equal(t, int64(250), h.eng.GetPlatformState().FeePool)
	_, err = h.eng.GetInvestment(ctx, c.ID, bob.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// 过期检查的提交失败同样原样返回，之后可以重试
	h.clock.Set(c.Deadline)
	h.log.SetFail(true)
	_, err = h.eng.GetCampaign(ctx, c.ID)
	require.ErrorIs(t, err, errStorage)
	h.log.SetFail(false)
	got, err = h.eng.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignExpired, got.Status)
	h.assertInvariants(t, c.ID)
}

func TestPlatformAdministration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 1})

	_, err := h.eng.SetPlatformFeeBasisPoints(ctx, admin, 100)
	assert.ErrorIs(t, err, model.ErrNotAuthorized)
	_, err = h.eng.SetPlatformFeeBasisPoints(ctx, platform, 1001)
	assert.ErrorIs(t, err, model.ErrInvalidRate)

	cfg, err := h.eng.SetPlatformFeeBasisPoints(ctx, platform, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), cfg.FeeBasisPoints)

	_, err = h.eng.SetInvestmentLimits(ctx, platform, InvestmentLimits{MinimumInvestment: 100, MaximumInvestmentPerCampaign: 50})
	assert.ErrorIs(t, err, model.ErrValidation)
	cfg, err = h.eng.SetInvestmentLimits(ctx, platform, InvestmentLimits{MinimumInvestment: 100, MaximumInvestmentPerCampaign: 5_000})
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), cfg.MaximumInvestmentPerCampaign)
	assert.Equal(t, int64(500), cfg.FeeBasisPoints)

	c := h.campaign(t, 100_000, 24*time.Hour)
	_, err = h.eng.Invest(ctx, alice, c.ID, 5_001)
	assert.ErrorIs(t, err, model.ErrLimitExceeded)
	_, err = h.eng.Invest(ctx, alice, c.ID, 4_000)
	require.NoError(t, err)

	_, err = h.eng.WithdrawPlatformFees(ctx, admin, "treasury")
	assert.ErrorIs(t, err, model.ErrNotAuthorized)
	w, err := h.eng.WithdrawPlatformFees(ctx, platform, "treasury")
	require.NoError(t, err)
	assert.Equal(t, int64(200), w.Amount)
	assert.Zero(t, w.Platform.FeePool)
	_, err = h.eng.WithdrawPlatformFees(ctx, platform, "treasury")
	assert.ErrorIs(t, err, model.ErrValidation)

	bal, err := h.eng.GetEscrowBalance(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3_800), bal.Balance, "fee withdrawal never touches campaign escrow")
}

func TestPauseBlocksInvestmentAndVoting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{MinimumInvestment: 1})
	c := h.campaign(t, 100_000, 30*24*time.Hour)
	_, err := h.eng.Invest(ctx, alice, c.ID, 1_000)
	require.NoError(t, err)
	m, err := h.eng.CreateMilestone(ctx, founder, c.ID, governor.MilestoneInput{Title: "Deposit", TargetAmount: 500, VotingDuration: time.Hour})
	require.NoError(t, err)

	_, err = h.eng.PauseCampaign(ctx, founder, c.ID)
	assert.ErrorIs(t, err, model.ErrNotAuthorized)
	paused, err := h.eng.PauseCampaign(ctx, admin, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignPaused, paused.Status)

	_, err = h.eng.Invest(ctx, bob, c.ID, 1_000)
	assert.ErrorIs(t, err, model.ErrCampaignNotInvestable)
	_, err = h.eng.Vote(ctx, alice, c.ID, m.Index, true)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = h.eng.UnpauseCampaign(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = h.eng.Vote(ctx, alice, c.ID, m.Index, true)
	require.NoError(t, err)
}

func TestAuditLog(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 1})
	c := h.campaign(t, 10_000, 24*time.Hour)
	_, err := h.eng.Invest(ctx, alice, c.ID, 1_000)
	require.NoError(t, err)

	_, err = h.eng.AuditLog(ctx, alice, 0, 10)
	assert.ErrorIs(t, err, model.ErrNotAuthorized)

	events, err := h.eng.AuditLog(ctx, admin, 0, 0)
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{model.EventCampaignCreated, model.EventInvestmentRecorded}, types)
	assert.Equal(t, alice.ID, events[1].Actor)
	assert.Equal(t, c.ID, events[1].CampaignID)
}

func TestHydrateRestoresState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 1})

	h.eng.Hydrate(store.Snapshot{
		Platform:    &model.PlatformState{Config: model.PlatformConfig{FeeBasisPoints: 100, MinimumInvestment: 1}, FeePool: 10},
		Campaigns:   []model.Campaign{{ID: 4, Owner: founder.ID, Title: "t", TargetAmount: 10_000, UnitPrice: 1, Deadline: t0.Add(time.Hour), Status: model.CampaignActive, RaisedAmount: 990}},
		Investments: []model.Investment{{CampaignID: 4, ContributorID: alice.ID, GrossAmount: 1_000, FeeAmount: 10, NetAmount: 990, EntitlementUnits: 990, CreatedAt: t0}},
		Escrows:     []model.EscrowAccount{{CampaignID: 4, Deposited: 990}},
	})

	res, err := h.eng.Invest(ctx, bob, 4, 1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.FeeAmount)
	assert.Equal(t, int64(1_980), res.Campaign.RaisedAmount)
	assert.Equal(t, int64(20), res.FeePool)
	h.assertInvariants(t, 4)

	next := h.campaign(t, 10_000, time.Hour)
	assert.Equal(t, int64(5), next.ID)
}

func TestConcurrentInvestmentsAreSerialized(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 1})
	a := h.campaign(t, 1_000_000_000, 24*time.Hour)
	b := h.campaign(t, 1_000_000_000, 24*time.Hour)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := a.ID
			if i%2 == 1 {
				target = b.ID
			}
			_, err := h.eng.Invest(ctx, model.Actor{ID: fmt.Sprintf("c%d", i)}, target, 1_000)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, id := range []int64{a.ID, b.ID} {
		got, err := h.eng.GetCampaign(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(25*975), got.RaisedAmount)
		h.assertInvariants(t, id)
	}
	assert.Equal(t, int64(50*25), h.eng.GetPlatformState().FeePool)
}
