package ledger

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"milestonefund/internal/model"
	"milestonefund/internal/store"
)

// CampaignBook 活动登记处中投资台账需要的部分
type CampaignBook interface {
	Get(campaignID int64) (*model.Campaign, error)
	AddRaised(tx *store.Txn, campaignID, delta int64) error
}

// Escrow 托管控制器中投资台账需要的部分
type Escrow interface {
	Deposit(tx *store.Txn, campaignID, amount int64) error
	CollectFee(tx *store.Txn, amount int64) error
	Balance(campaignID int64) (int64, error)
	Account(campaignID int64) (model.EscrowAccount, error)
	Platform() model.PlatformState
	Config() model.PlatformConfig
}

// FeeCalculator 手续费拆分
type FeeCalculator interface {
	Compute(gross, feeBasisPoints int64) (fee, net int64, err error)
}

type book struct {
	order       []string
	investments map[string]*model.Investment
}

// Ledger 按活动追加的投资台账：只追加或退款清零，从不改写历史记录
type Ledger struct {
	campaigns CampaignBook
	escrow    Escrow
	fees      FeeCalculator

	mu    sync.RWMutex
	books map[int64]*book

	totalsMu sync.Mutex
	totals   map[string]int64 // 贡献者在所有活动中的未退款总投资（毛额）
}

func New(campaigns CampaignBook, escrow Escrow, fees FeeCalculator) *Ledger {
	return &Ledger{
		campaigns: campaigns,
		escrow:    escrow,
		fees:      fees,
		books:     make(map[int64]*book),
		totals:    make(map[string]int64),
	}
}

// RecordInvestment 校验 -> 拆分手续费 -> 写入台账和托管，任何一步失败都不会留下部分状态
func (l *Ledger) RecordInvestment(tx *store.Txn, campaignID int64, contributorID string, gross int64) (*model.Investment, int64, error) {
	contributorID = strings.TrimSpace(contributorID)
	if contributorID == "" {
		return nil, 0, fmt.Errorf("%w: empty contributor", model.ErrValidation)
	}
	if gross <= 0 {
		return nil, 0, fmt.Errorf("%w: gross %d", model.ErrInvalidAmount, gross)
	}
	cfg := l.escrow.Config()
	if gross < cfg.MinimumInvestment {
		return nil, 0, fmt.Errorf("%w: %d < %d", model.ErrBelowMinimum, gross, cfg.MinimumInvestment)
	}

	c, err := l.campaigns.Get(campaignID)
	if err != nil {
		return nil, 0, err
	}
	if c.Owner == contributorID {
		return nil, 0, model.ErrSelfInvestment
	}
	if !c.Investable(tx.Now()) {
		return nil, 0, fmt.Errorf("%w: campaign %d is %s, deadline %s", model.ErrCampaignNotInvestable, c.ID, c.Status, c.Deadline.UTC().Format("2006-01-02T15:04:05Z"))
	}

	existing := l.lookup(campaignID, contributorID)
	if existing != nil && existing.Refunded {
		return nil, 0, model.ErrInvestmentRefunded
	}
	var campaignGross int64
	if existing != nil {
		campaignGross = existing.GrossAmount
	}
	if model.AddOverflows(campaignGross, gross) {
		return nil, 0, fmt.Errorf("%w: campaign total %d + %d overflows", model.ErrLimitExceeded, campaignGross, gross)
	}
	total := l.contributorTotal(contributorID)
	if model.AddOverflows(total, gross) {
		return nil, 0, fmt.Errorf("%w: contributor total %d + %d overflows", model.ErrLimitExceeded, total, gross)
	}
	if cfg.MaximumInvestmentPerCampaign > 0 && campaignGross+gross > cfg.MaximumInvestmentPerCampaign {
		return nil, 0, fmt.Errorf("%w: campaign total %d exceeds %d", model.ErrLimitExceeded, campaignGross+gross, cfg.MaximumInvestmentPerCampaign)
	}
	if cfg.MaximumTotalInvestmentPerContributor > 0 && total+gross > cfg.MaximumTotalInvestmentPerContributor {
		return nil, 0, fmt.Errorf("%w: contributor total %d exceeds %d", model.ErrLimitExceeded, total+gross, cfg.MaximumTotalInvestmentPerContributor)
	}

	fee, net, err := l.fees.Compute(gross, cfg.FeeBasisPoints)
	if err != nil {
		return nil, 0, err
	}
	if model.AddOverflows(c.RaisedAmount, net) {
		return nil, 0, fmt.Errorf("%w: raised amount %d + %d overflows", model.ErrLimitExceeded, c.RaisedAmount, net)
	}
	if acc, err := l.escrow.Account(campaignID); err == nil && model.AddOverflows(acc.Deposited, net) {
		return nil, 0, fmt.Errorf("%w: escrow deposits %d + %d overflow", model.ErrLimitExceeded, acc.Deposited, net)
	}
	if pool := l.escrow.Platform(); model.AddOverflows(pool.FeesCollected, fee) {
		return nil, 0, fmt.Errorf("%w: platform fees %d + %d overflow", model.ErrLimitExceeded, pool.FeesCollected, fee)
	}

	inv := existing
	if inv == nil {
		inv = l.insert(tx, campaignID, contributorID)
	}
	tx.Investment(inv)
	inv.GrossAmount += gross
	inv.FeeAmount += fee
	inv.NetAmount += net
	if c.UnitPrice > 0 {
		inv.EntitlementUnits = inv.NetAmount / c.UnitPrice
	}
	inv.UpdatedAt = tx.Now()
	l.addTotal(tx, contributorID, gross)

	if err := l.escrow.Deposit(tx, campaignID, net); err != nil {
		return nil, 0, err
	}
	if err := l.escrow.CollectFee(tx, fee); err != nil {
		return nil, 0, err
	}
	if err := l.campaigns.AddRaised(tx, campaignID, net); err != nil {
		return nil, 0, err
	}

	tx.Emit(model.EventInvestmentRecorded, campaignID, map[string]any{
		"contributor_id": contributorID,
		"gross_amount":   gross,
		"fee_amount":     fee,
		"net_amount":     net,
		"investment":     inv,
	})
	return inv, net, nil
}

// Refund 注销一个贡献者的投资，返回应从托管退回的金额（由托管控制器执行划转）
func (l *Ledger) Refund(tx *store.Txn, campaignID int64, contributorID string) (model.Refund, error) {
	inv := l.lookup(campaignID, strings.TrimSpace(contributorID))
	if !inv.Active() {
		return model.Refund{}, fmt.Errorf("%w: no active investment by %q in campaign %d", model.ErrNotFound, contributorID, campaignID)
	}
	c, err := l.campaigns.Get(campaignID)
	if err != nil {
		return model.Refund{}, err
	}
	balance, err := l.escrow.Balance(campaignID)
	if err != nil {
		return model.Refund{}, err
	}
	amount := proRata(inv.NetAmount, balance, c.RaisedAmount)
	return l.refundOne(tx, inv, amount)
}

// RefundAll 活动过期或取消时注销全部有效投资
// 已有部分放款时按比例退回剩余托管，最后一个贡献者拿走余数，保证托管清零
func (l *Ledger) RefundAll(tx *store.Txn, campaignID int64) ([]model.Refund, int64, error) {
	c, err := l.campaigns.Get(campaignID)
	if err != nil {
		return nil, 0, err
	}
	balance, err := l.escrow.Balance(campaignID)
	if err != nil {
		return nil, 0, err
	}
	active := l.active(campaignID)
	raised := c.RaisedAmount

	var (
		refunds []model.Refund
		total   int64
	)
	for i, inv := range active {
		amount := proRata(inv.NetAmount, balance, raised)
		if i == len(active)-1 {
			amount = balance - total
		}
		r, err := l.refundOne(tx, inv, amount)
		if err != nil {
			return nil, 0, err
		}
		refunds = append(refunds, r)
		total += r.Amount
	}
	return refunds, total, nil
}

func (l *Ledger) refundOne(tx *store.Txn, inv *model.Investment, amount int64) (model.Refund, error) {
	net, gross := inv.NetAmount, inv.GrossAmount

	tx.Investment(inv)
	inv.Refunded = true
	inv.RefundedAmount = amount
	inv.GrossAmount, inv.FeeAmount, inv.NetAmount, inv.EntitlementUnits = 0, 0, 0, 0
	inv.UpdatedAt = tx.Now()
	l.addTotal(tx, inv.ContributorID, -gross)

	if err := l.campaigns.AddRaised(tx, inv.CampaignID, -net); err != nil {
		return model.Refund{}, err
	}

	r := model.Refund{ContributorID: inv.ContributorID, NetAmount: net, Amount: amount}
	tx.Emit(model.EventInvestmentRefunded, inv.CampaignID, r)
	return r, nil
}

// proRata net * balance / raised（向下取整）；没有放款时等于 net
func proRata(net, balance, raised int64) int64 {
	if raised <= 0 || balance >= raised {
		return net
	}
	if balance <= 0 {
		return 0
	}
	return decimal.NewFromInt(net).
		Mul(decimal.NewFromInt(balance)).
		Div(decimal.NewFromInt(raised)).
		Floor().
		IntPart()
}

func (l *Ledger) insert(tx *store.Txn, campaignID int64, contributorID string) *model.Investment {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.books[campaignID]
	if !ok {
		b = &book{investments: make(map[string]*model.Investment)}
		l.books[campaignID] = b
	}
	inv := &model.Investment{CampaignID: campaignID, ContributorID: contributorID, CreatedAt: tx.Now()}
	b.investments[contributorID] = inv
	b.order = append(b.order, contributorID)
	tx.OnRollback(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(b.investments, contributorID)
		if n := len(b.order); n > 0 && b.order[n-1] == contributorID {
			b.order = b.order[:n-1]
		}
	})
	return inv
}

func (l *Ledger) addTotal(tx *store.Txn, contributorID string, delta int64) {
	l.totalsMu.Lock()
	l.totals[contributorID] += delta
	l.totalsMu.Unlock()
	tx.OnRollback(func() {
		l.totalsMu.Lock()
		l.totals[contributorID] -= delta
		l.totalsMu.Unlock()
	})
}

func (l *Ledger) contributorTotal(contributorID string) int64 {
	l.totalsMu.Lock()
	defer l.totalsMu.Unlock()
	return l.totals[contributorID]
}

func (l *Ledger) lookup(campaignID int64, contributorID string) *model.Investment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.books[campaignID]
	if !ok {
		return nil
	}
	return b.investments[contributorID]
}

func (l *Ledger) active(campaignID int64) []*model.Investment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.books[campaignID]
	if !ok {
		return nil
	}
	var out []*model.Investment
	for _, id := range b.order {
		if inv := b.investments[id]; inv.Active() {
			out = append(out, inv)
		}
	}
	return out
}

// GetInvestment 查询单个投资记录
func (l *Ledger) GetInvestment(campaignID int64, contributorID string) (model.Investment, error) {
	inv := l.lookup(campaignID, strings.TrimSpace(contributorID))
	if inv == nil {
		return model.Investment{}, fmt.Errorf("%w: investment by %q in campaign %d", model.ErrNotFound, contributorID, campaignID)
	}
	return *inv, nil
}

// Contributors 按首次投资顺序返回活动的全部投资记录（包含已退款的）
func (l *Ledger) Contributors(campaignID int64) []model.Investment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.books[campaignID]
	if !ok {
		return nil
	}
	out := make([]model.Investment, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.investments[id])
	}
	return out
}

// TotalRaised 从台账重新汇总的未退款净投资
func (l *Ledger) TotalRaised(campaignID int64) int64 {
	var total int64
	for _, inv := range l.active(campaignID) {
		total += inv.NetAmount
	}
	return total
}

// VotingWeight 贡献者当前的投票权重（未退款的净投资）
func (l *Ledger) VotingWeight(campaignID int64, contributorID string) int64 {
	inv := l.lookup(campaignID, contributorID)
	if !inv.Active() {
		return 0
	}
	return inv.NetAmount
}

// TotalVotingPower 活动的总投票权重
func (l *Ledger) TotalVotingPower(campaignID int64) int64 {
	return l.TotalRaised(campaignID)
}

// Restore 用已提交的快照恢复台账
func (l *Ledger) Restore(investments []model.Investment) {
	sorted := slices.Clone(investments)
	slices.SortStableFunc(sorted, func(a, b model.Investment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalsMu.Lock()
	defer l.totalsMu.Unlock()
	for _, v := range sorted {
		inv := v
		b, ok := l.books[inv.CampaignID]
		if !ok {
			b = &book{investments: make(map[string]*model.Investment)}
			l.books[inv.CampaignID] = b
		}
		if _, dup := b.investments[inv.ContributorID]; !dup {
			b.order = append(b.order, inv.ContributorID)
		}
		b.investments[inv.ContributorID] = &inv
		if !inv.Refunded {
			l.totals[inv.ContributorID] += inv.GrossAmount
		}
	}
}
