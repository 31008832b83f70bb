package ledger

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milestonefund/internal/model"
	"milestonefund/internal/service/escrow"
	"milestonefund/internal/service/fee"
	"milestonefund/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeBook struct {
	campaigns map[int64]*model.Campaign
}

func (f *fakeBook) Get(id int64) (*model.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: campaign %d", model.ErrNotFound, id)
	}
	return c, nil
}

func (f *fakeBook) AddRaised(tx *store.Txn, id, delta int64) error {
	c, err := f.Get(id)
	if err != nil {
		return err
	}
	tx.Campaign(c)
	c.RaisedAmount += delta
	return nil
}

func setup(t *testing.T, cfg model.PlatformConfig) (*Ledger, *fakeBook, *escrow.Controller) {
	t.Helper()
	book := &fakeBook{campaigns: map[int64]*model.Campaign{
		1: {ID: 1, Owner: "owner", TargetAmount: 100_000_000, UnitPrice: 1000, Deadline: now.Add(24 * time.Hour), Status: model.CampaignActive},
	}}
	esc := escrow.NewController(cfg)
	tx := store.NewTxn(now, "test", "")
	esc.Open(tx, 1)
	return New(book, esc, fee.NewCalculator()), book, esc
}

func invest(t *testing.T, l *Ledger, campaignID int64, who string, gross int64) (*model.Investment, int64, error) {
	t.Helper()
	tx := store.NewTxn(now, who, "")
	inv, net, err := l.RecordInvestment(tx, campaignID, who, gross)
	if err != nil {
		tx.Rollback()
	}
	return inv, net, err
}

func TestRecordInvestment_SplitsFee(t *testing.T) {
	l, book, esc := setup(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 1})

	inv, net, err := invest(t, l, 1, "alice", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(975_000), net)
	assert.Equal(t, int64(25_000), inv.FeeAmount)
	assert.Equal(t, int64(975), inv.EntitlementUnits)
	assert.Equal(t, int64(975_000), book.campaigns[1].RaisedAmount)
	assert.Equal(t, int64(25_000), esc.Platform().FeePool)

	bal, err := esc.Balance(1)
	require.NoError(t, err)
	assert.Equal(t, int64(975_000), bal)
}

func TestRecordInvestment_Accumulates(t *testing.T) {
	l, book, _ := setup(t, model.PlatformConfig{FeeBasisPoints: 100, MinimumInvestment: 1})

	_, _, err := invest(t, l, 1, "alice", 10_000)
	require.NoError(t, err)
	inv, _, err := invest(t, l, 1, "alice", 20_000)
	require.NoError(t, err)

	assert.Equal(t, int64(30_000), inv.GrossAmount)
	assert.Equal(t, int64(300), inv.FeeAmount)
	assert.Equal(t, int64(29_700), inv.NetAmount)
	assert.Equal(t, inv.GrossAmount, inv.FeeAmount+inv.NetAmount)
	assert.Equal(t, int64(29_700), book.campaigns[1].RaisedAmount)
	assert.Len(t, l.Contributors(1), 1)
}

func TestRecordInvestment_Rejections(t *testing.T) {
	cfg := model.PlatformConfig{
		FeeBasisPoints:                       250,
		MinimumInvestment:                    100,
		MaximumInvestmentPerCampaign:         10_000,
		MaximumTotalInvestmentPerContributor: 15_000,
	}

	tests := []struct {
		name    string
		prepare func(t *testing.T, l *Ledger, book *fakeBook)
		who     string
		gross   int64
		want    error
	}{
		{"zero amount", nil, "alice", 0, model.ErrInvalidAmount},
		{"below minimum", nil, "alice", 99, model.ErrBelowMinimum},
		{"owner", nil, "owner", 1000, model.ErrSelfInvestment},
		{"paused", func(_ *testing.T, _ *Ledger, b *fakeBook) { b.campaigns[1].Status = model.CampaignPaused }, "alice", 1000, model.ErrCampaignNotInvestable},
		{"past deadline", func(_ *testing.T, _ *Ledger, b *fakeBook) { b.campaigns[1].Deadline = now }, "alice", 1000, model.ErrCampaignNotInvestable},
		{"per campaign limit", func(t *testing.T, l *Ledger, _ *fakeBook) {
			_, _, err := invest(t, l, 1, "alice", 9_000)
			require.NoError(t, err)
		}, "alice", 1_001, model.ErrLimitExceeded},
		{"all campaign limit", func(t *testing.T, l *Ledger, b *fakeBook) {
			b.campaigns[2] = &model.Campaign{ID: 2, Owner: "other", Deadline: now.Add(time.Hour), Status: model.CampaignActive}
			_, _, err := invest(t, l, 1, "alice", 10_000)
			require.NoError(t, err)
		}, "alice", 5_001, model.ErrLimitExceeded},
		{"missing campaign", nil, "alice", 1000, model.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, book, esc := setup(t, cfg)
			campaignID := int64(1)
			if tt.prepare != nil {
				tt.prepare(t, l, book)
			}
			if tt.name == "all campaign limit" {
				tx := store.NewTxn(now, "test", "")
				esc.Open(tx, 2)
				campaignID = 2
			}
			if tt.name == "missing campaign" {
				campaignID = 99
			}
			raised := int64(0)
			if c, ok := book.campaigns[campaignID]; ok {
				raised = c.RaisedAmount
			}
			pool := esc.Platform().FeePool

			_, _, err := invest(t, l, campaignID, tt.who, tt.gross)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			if c, ok := book.campaigns[campaignID]; ok {
				assert.Equal(t, raised, c.RaisedAmount)
			}
			assert.Equal(t, pool, esc.Platform().FeePool)
		})
	}
}

func TestRecordInvestment_OverflowIsLimitExceeded(t *testing.T) {
	l, book, esc := setup(t, model.PlatformConfig{MinimumInvestment: 1})
	half := int64(math.MaxInt64/2 + 10)

	_, _, err := invest(t, l, 1, "alice", half)
	require.NoError(t, err)

	for _, who := range []string{"bob", "alice"} {
		_, _, err = invest(t, l, 1, who, half)
		require.ErrorIs(t, err, model.ErrLimitExceeded, who)
		assert.Equal(t, "LimitExceeded", model.Kind(err))
	}

	assert.Equal(t, half, book.campaigns[1].RaisedAmount)
	bal, err := esc.Balance(1)
	require.NoError(t, err)
	assert.Equal(t, half, bal)
	_, err = l.GetInvestment(1, "bob")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRecordInvestment_RollbackRemovesNewRecord(t *testing.T) {
	l, book, esc := setup(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 1, MaximumTotalInvestmentPerContributor: 50_000})

	tx := store.NewTxn(now, "alice", "")
	_, _, err := l.RecordInvestment(tx, 1, "alice", 40_000)
	require.NoError(t, err)
	tx.Rollback()

	_, err = l.GetInvestment(1, "alice")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Zero(t, book.campaigns[1].RaisedAmount)
	assert.Zero(t, esc.Platform().FeePool)
	bal, _ := esc.Balance(1)
	assert.Zero(t, bal)

	// 回滚后累计额度也恢复
	_, _, err = invest(t, l, 1, "alice", 40_000)
	require.NoError(t, err)
}

func TestRefund_RoundTrip(t *testing.T) {
	l, book, _ := setup(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 1})
	_, _, err := invest(t, l, 1, "bob", 50_000)
	require.NoError(t, err)
	before := book.campaigns[1].RaisedAmount

	_, _, err = invest(t, l, 1, "alice", 100)
	require.NoError(t, err)

	tx := store.NewTxn(now, "alice", "")
	r, err := l.Refund(tx, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(98), r.NetAmount)
	assert.Equal(t, int64(98), r.Amount)
	assert.Equal(t, before, book.campaigns[1].RaisedAmount)

	inv, err := l.GetInvestment(1, "alice")
	require.NoError(t, err)
	assert.True(t, inv.Refunded)
	assert.Zero(t, inv.NetAmount)
	assert.Zero(t, l.VotingWeight(1, "alice"))

	_, err = l.Refund(store.NewTxn(now, "alice", ""), 1, "alice")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, _, err = invest(t, l, 1, "alice", 100)
	assert.ErrorIs(t, err, model.ErrInvestmentRefunded)
}

func TestRefundAll_ProRataAfterRelease(t *testing.T) {
	l, book, esc := setup(t, model.PlatformConfig{FeeBasisPoints: 0, MinimumInvestment: 1})
	for who, amt := range map[string]int64{"a": 3_333, "b": 3_333, "c": 3_334} {
		_, _, err := invest(t, l, 1, who, amt)
		require.NoError(t, err)
	}

	tx := store.NewTxn(now, "gov", "")
	_, err := esc.Release(tx, escrow.AuthorityGovernor, 1, "owner", 5_000)
	require.NoError(t, err)

	tx = store.NewTxn(now, "registry", "")
	refunds, total, err := l.RefundAll(tx, 1)
	require.NoError(t, err)
	require.Len(t, refunds, 3)
	assert.Equal(t, int64(5_000), total)

	var sum int64
	for _, r := range refunds {
		sum += r.Amount
		assert.LessOrEqual(t, r.Amount, r.NetAmount)
	}
	assert.Equal(t, total, sum)
	assert.Zero(t, book.campaigns[1].RaisedAmount)
	assert.Zero(t, l.TotalRaised(1))
}

func TestRefundAll_FullRefundWithoutRelease(t *testing.T) {
	l, _, _ := setup(t, model.PlatformConfig{FeeBasisPoints: 250, MinimumInvestment: 1})
	_, _, err := invest(t, l, 1, "a", 1_000)
	require.NoError(t, err)
	_, _, err = invest(t, l, 1, "b", 2_000)
	require.NoError(t, err)

	refunds, total, err := l.RefundAll(store.NewTxn(now, "registry", ""), 1)
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	assert.Equal(t, refunds[0].NetAmount, refunds[0].Amount)
	assert.Equal(t, refunds[1].NetAmount, refunds[1].Amount)
	assert.Equal(t, int64(975+1950), total)

	// 再次调用没有可退款的投资
	refunds, total, err = l.RefundAll(store.NewTxn(now, "registry", ""), 1)
	require.NoError(t, err)
	assert.Empty(t, refunds)
	assert.Zero(t, total)
}

func TestVotingPower(t *testing.T) {
	l, _, _ := setup(t, model.PlatformConfig{MinimumInvestment: 1})
	_, _, err := invest(t, l, 1, "a", 6_000_000)
	require.NoError(t, err)
	_, _, err = invest(t, l, 1, "b", 3_000_000)
	require.NoError(t, err)

	assert.Equal(t, int64(6_000_000), l.VotingWeight(1, "a"))
	assert.Equal(t, int64(0), l.VotingWeight(1, "nobody"))
	assert.Equal(t, int64(9_000_000), l.TotalVotingPower(1))
}

func TestRestore(t *testing.T) {
	l, _, _ := setup(t, model.PlatformConfig{MinimumInvestment: 1, MaximumTotalInvestmentPerContributor: 1_000})
	l.Restore([]model.Investment{
		{CampaignID: 1, ContributorID: "b", GrossAmount: 500, NetAmount: 500, CreatedAt: now.Add(time.Minute)},
		{CampaignID: 1, ContributorID: "a", GrossAmount: 400, NetAmount: 400, CreatedAt: now},
	})

	got := l.Contributors(1)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ContributorID)
	assert.Equal(t, int64(900), l.TotalRaised(1))

	_, _, err := invest(t, l, 1, "b", 501)
	assert.ErrorIs(t, err, model.ErrLimitExceeded)
}
