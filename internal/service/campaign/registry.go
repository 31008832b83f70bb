package campaign

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"milestonefund/internal/model"
	"milestonefund/internal/service/escrow"
	"milestonefund/internal/store"
	"milestonefund/pkg/rbac"
)

// Config 活动创建时的校验参数
type Config struct {
	MinimumTargetAmount  int64
	MaxTitleLength       int
	MaxDescriptionLength int
	MaxDuration          time.Duration // 0 表示不限制
	DefaultUnitPrice     int64
}

// Ledger 活动过期或取消时需要的台账操作
type Ledger interface {
	RefundAll(tx *store.Txn, campaignID int64) ([]model.Refund, int64, error)
}

// Escrow 托管控制器中登记处需要的部分
type Escrow interface {
	Open(tx *store.Txn, campaignID int64) *model.EscrowAccount
	RefundTransfer(tx *store.Txn, auth escrow.Authority, campaignID int64, contributorID string, amount int64) (model.Transfer, error)
}

// CreateInput 创建活动的参数
type CreateInput struct {
	Title        string
	Description  string
	TargetAmount int64
	Deadline     time.Time
	UnitPrice    int64 // 0 使用默认单价
}

// Settlement 过期或取消时的退款结果
type Settlement struct {
	Refunds   []model.Refund   `json:"refunds"`
	Transfers []model.Transfer `json:"transfers"`
	Total     int64            `json:"total"`
}

// Registry 活动身份、配置和生命周期状态
type Registry struct {
	cfg    Config
	ledger Ledger
	escrow Escrow

	mu        sync.RWMutex
	campaigns map[int64]*model.Campaign
	nextID    int64
}

func New(cfg Config, escrow Escrow) *Registry {
	if cfg.DefaultUnitPrice <= 0 {
		cfg.DefaultUnitPrice = 1
	}
	return &Registry{
		cfg:       cfg,
		escrow:    escrow,
		campaigns: make(map[int64]*model.Campaign),
	}
}

// AttachLedger 台账依赖登记处，登记处的退款路径又依赖台账，所以台账在构造后注入
func (r *Registry) AttachLedger(l Ledger) {
	r.ledger = l
}

// ReserveID 分配下一个活动 ID。创建失败时 ID 不会回收，保证单调递增
func (r *Registry) ReserveID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// Create 校验并创建活动，初始状态为 Active
func (r *Registry) Create(tx *store.Txn, id int64, owner string, in CreateInput) (*model.Campaign, error) {
	owner = strings.TrimSpace(owner)
	title := strings.TrimSpace(in.Title)
	desc := strings.TrimSpace(in.Description)
	now := tx.Now()

	switch {
	case owner == "":
		return nil, fmt.Errorf("%w: empty owner", model.ErrValidation)
	case title == "":
		return nil, fmt.Errorf("%w: empty title", model.ErrValidation)
	case desc == "":
		return nil, fmt.Errorf("%w: empty description", model.ErrValidation)
	case r.cfg.MaxTitleLength > 0 && utf8.RuneCountInString(title) > r.cfg.MaxTitleLength:
		return nil, fmt.Errorf("%w: title longer than %d", model.ErrValidation, r.cfg.MaxTitleLength)
	case r.cfg.MaxDescriptionLength > 0 && utf8.RuneCountInString(desc) > r.cfg.MaxDescriptionLength:
		return nil, fmt.Errorf("%w: description longer than %d", model.ErrValidation, r.cfg.MaxDescriptionLength)
	case in.TargetAmount <= 0 || in.TargetAmount < r.cfg.MinimumTargetAmount:
		return nil, fmt.Errorf("%w: target %d below minimum %d", model.ErrInvalidAmount, in.TargetAmount, r.cfg.MinimumTargetAmount)
	case !in.Deadline.After(now):
		return nil, fmt.Errorf("%w: deadline must be in the future", model.ErrValidation)
	case r.cfg.MaxDuration > 0 && in.Deadline.Sub(now) > r.cfg.MaxDuration:
		return nil, fmt.Errorf("%w: deadline more than %s ahead", model.ErrValidation, r.cfg.MaxDuration)
	case in.UnitPrice < 0:
		return nil, fmt.Errorf("%w: unit price %d", model.ErrInvalidAmount, in.UnitPrice)
	}

	unitPrice := in.UnitPrice
	if unitPrice == 0 {
		unitPrice = r.cfg.DefaultUnitPrice
	}

	c := &model.Campaign{
		ID:           id,
		Owner:        owner,
		Title:        title,
		Description:  desc,
		TargetAmount: in.TargetAmount,
		UnitPrice:    unitPrice,
		Deadline:     in.Deadline.UTC(),
		Status:       model.CampaignActive,
		MilestoneIDs: []int{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.mu.Lock()
	if _, exists := r.campaigns[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: campaign %d already exists", model.ErrValidation, id)
	}
	r.campaigns[id] = c
	r.mu.Unlock()
	tx.OnRollback(func() {
		r.mu.Lock()
		delete(r.campaigns, id)
		r.mu.Unlock()
	})
	tx.Campaign(c)
	r.escrow.Open(tx, id)

	tx.Emit(model.EventCampaignCreated, id, c)
	return c, nil
}

// Get 返回活动指针，调用方必须持有该活动的锁
func (r *Registry) Get(campaignID int64) (*model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return nil, fmt.Errorf("%w: campaign %d", model.ErrNotFound, campaignID)
	}
	return c, nil
}

// AddRaised 台账写入后更新缓存的募集总额，达到目标时进入 Funded
func (r *Registry) AddRaised(tx *store.Txn, campaignID, delta int64) error {
	c, err := r.Get(campaignID)
	if err != nil {
		return err
	}
	if model.AddOverflows(c.RaisedAmount, delta) {
		return fmt.Errorf("%w: raised amount of campaign %d would overflow", model.ErrLimitExceeded, campaignID)
	}
	if c.RaisedAmount+delta < 0 {
		return fmt.Errorf("raised amount of campaign %d would become negative", campaignID)
	}
	tx.Campaign(c)
	c.RaisedAmount += delta
	c.UpdatedAt = tx.Now()

	if delta > 0 && c.Status == model.CampaignActive && c.RaisedAmount >= c.TargetAmount {
		c.Status = model.CampaignFunded
		tx.Emit(model.EventCampaignFunded, c.ID, map[string]int64{
			"raised_amount": c.RaisedAmount,
			"target_amount": c.TargetAmount,
		})
	}
	return nil
}

// AppendMilestone 记录新里程碑的序号
func (r *Registry) AppendMilestone(tx *store.Txn, campaignID int64, index int) error {
	c, err := r.Get(campaignID)
	if err != nil {
		return err
	}
	tx.Campaign(c)
	c.MilestoneIDs = append(slices.Clone(c.MilestoneIDs), index)
	c.UpdatedAt = tx.Now()
	return nil
}

// Pause 管理员暂停活动，暂停期间不接受投资和投票，已记录的状态不变
func (r *Registry) Pause(tx *store.Txn, actor model.Actor, campaignID int64) (*model.Campaign, error) {
	return r.transition(tx, actor, campaignID, model.CampaignActive, model.CampaignPaused, model.EventCampaignPaused)
}

func (r *Registry) Unpause(tx *store.Txn, actor model.Actor, campaignID int64) (*model.Campaign, error) {
	return r.transition(tx, actor, campaignID, model.CampaignPaused, model.CampaignActive, model.EventCampaignUnpaused)
}

func (r *Registry) transition(tx *store.Txn, actor model.Actor, campaignID int64, from, to model.CampaignStatus, event string) (*model.Campaign, error) {
	if err := model.Authorize(actor, rbac.PermissionPauseCampaign); err != nil {
		return nil, err
	}
	c, err := r.Get(campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != from {
		return nil, fmt.Errorf("%w: campaign %d is %s", model.ErrInvalidStatus, campaignID, c.Status)
	}
	tx.Campaign(c)
	c.Status = to
	c.UpdatedAt = tx.Now()
	tx.Emit(event, campaignID, map[string]string{"status": string(to)})
	return c, nil
}

// EvaluateExpiry 截止时间已过且仍为 Active/Paused 时转为 Expired 并全额退款
// 已经处理过的活动返回 false，不产生任何变更
func (r *Registry) EvaluateExpiry(tx *store.Txn, campaignID int64) (bool, Settlement, error) {
	c, err := r.Get(campaignID)
	if err != nil {
		return false, Settlement{}, err
	}
	if !c.ExpiryDue(tx.Now()) {
		return false, Settlement{}, nil
	}
	tx.Campaign(c)
	c.Status = model.CampaignExpired
	c.UpdatedAt = tx.Now()

	s, err := r.settle(tx, campaignID)
	if err != nil {
		return false, Settlement{}, err
	}
	tx.Emit(model.EventCampaignExpired, campaignID, s)
	return true, s, nil
}

// Cancel 管理员紧急取消，不论截止时间都退回剩余托管；已放款的部分不回滚
func (r *Registry) Cancel(tx *store.Txn, actor model.Actor, campaignID int64) (*model.Campaign, Settlement, error) {
	if err := model.Authorize(actor, rbac.PermissionCancelCampaign); err != nil {
		return nil, Settlement{}, err
	}
	c, err := r.Get(campaignID)
	if err != nil {
		return nil, Settlement{}, err
	}
	if c.Status.Terminal() || c.Status == model.CampaignDraft {
		return nil, Settlement{}, fmt.Errorf("%w: campaign %d is %s", model.ErrInvalidStatus, campaignID, c.Status)
	}
	tx.Campaign(c)
	c.Status = model.CampaignCancelled
	c.UpdatedAt = tx.Now()

	s, err := r.settle(tx, campaignID)
	if err != nil {
		return nil, Settlement{}, err
	}
	tx.Emit(model.EventCampaignCancelled, campaignID, s)
	return c, s, nil
}

func (r *Registry) settle(tx *store.Txn, campaignID int64) (Settlement, error) {
	refunds, total, err := r.ledger.RefundAll(tx, campaignID)
	if err != nil {
		return Settlement{}, err
	}
	s := Settlement{Refunds: refunds, Total: total}
	for _, rf := range refunds {
		if rf.Amount == 0 {
			continue
		}
		tr, err := r.escrow.RefundTransfer(tx, escrow.AuthorityRegistry, campaignID, rf.ContributorID, rf.Amount)
		if err != nil {
			return Settlement{}, err
		}
		s.Transfers = append(s.Transfers, tr)
	}
	return s, nil
}

// IDs 当前所有活动 ID
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.campaigns))
	for id := range r.campaigns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Restore 用已提交的快照恢复登记处，nextID 从最大 ID 继续
func (r *Registry) Restore(campaigns []model.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range campaigns {
		c := v
		c.MilestoneIDs = slices.Clone(v.MilestoneIDs)
		r.campaigns[c.ID] = &c
		if c.ID > r.nextID {
			r.nextID = c.ID
		}
	}
}
