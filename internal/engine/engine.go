package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"milestonefund/internal/model"
	"milestonefund/internal/service/campaign"
	"milestonefund/internal/service/escrow"
	"milestonefund/internal/service/fee"
	"milestonefund/internal/service/governor"
	"milestonefund/internal/service/ledger"
	"milestonefund/internal/store"
	"milestonefund/pkg/logger"
	"milestonefund/pkg/metrics"
	"milestonefund/pkg/rbac"
	"milestonefund/pkg/trace"
)

// systemActor 惰性状态转换（过期、投票截止）的执行者
const systemActor = "system"

// AuditLog 已提交审计事件的只读视图
type AuditLog interface {
	Events(ctx context.Context, offset, limit int) ([]model.AuditEvent, error)
}

// Dependencies 引擎的外部协作者和规则配置
type Dependencies struct {
	Logger     *zap.Logger
	Committer  store.Committer // 为空时只保存在内存中
	Audit      AuditLog        // 为空时使用 Committer（如果它实现了 AuditLog）
	Platform   model.PlatformConfig
	Campaign   campaign.Config
	Governance governor.Config
}

type Option func(*Engine)

// WithClock 替换时钟，测试用来跨越截止时间
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine 托管台账和加权投票治理引擎
// 同一活动上的变更通过活动锁串行化；平台配置和手续费池由平台锁保护
// 加锁顺序固定为：先活动锁，后平台锁
type Engine struct {
	logger    *zap.Logger
	committer store.Committer
	audit     AuditLog
	now       func() time.Time

	fees     fee.Calculator
	escrow   *escrow.Controller
	registry *campaign.Registry
	ledger   *ledger.Ledger
	governor *governor.Governor

	locksMu    sync.Mutex
	locks      map[int64]*sync.Mutex
	platformMu sync.RWMutex
}

// New 组装五个组件。组件之间只通过接口引用，在这里一次性注入
func New(deps Dependencies, opts ...Option) (*Engine, error) {
	if err := fee.ValidateRate(deps.Platform.FeeBasisPoints); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Committer == nil {
		deps.Committer = store.NewMemoryLog()
	}
	if deps.Audit == nil {
		if a, ok := deps.Committer.(AuditLog); ok {
			deps.Audit = a
		}
	}

	fees := fee.NewCalculator()
	esc := escrow.NewController(deps.Platform)
	reg := campaign.New(deps.Campaign, esc)
	l := ledger.New(reg, esc, fees)
	reg.AttachLedger(l)
	gov := governor.New(deps.Governance, reg, l, esc)

	e := &Engine{
		logger:    deps.Logger,
		committer: deps.Committer,
		audit:     deps.Audit,
		now:       time.Now,
		fees:      fees,
		escrow:    esc,
		registry:  reg,
		ledger:    l,
		governor:  gov,
		locks:     make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Hydrate 进程启动时用已提交的快照恢复状态，必须在对外服务之前调用
func (e *Engine) Hydrate(s store.Snapshot) {
	e.platformMu.Lock()
	defer e.platformMu.Unlock()
	e.escrow.Restore(s.Escrows, s.Platform)
	e.registry.Restore(s.Campaigns)
	e.ledger.Restore(s.Investments)
	e.governor.Restore(s.Milestones, s.Votes)
	e.logger.Info("Engine hydrated",
		zap.Int("campaigns", len(s.Campaigns)),
		zap.Int("investments", len(s.Investments)),
		zap.Int("milestones", len(s.Milestones)),
		zap.Int("votes", len(s.Votes)),
	)
}

func (e *Engine) lockCampaign(campaignID int64) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[campaignID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[campaignID] = mu
	}
	e.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// call 描述一次引擎调用
type call struct {
	op         string
	actor      model.Actor
	campaignID int64 // 0 表示不涉及具体活动
	platform   bool  // 是否修改平台状态（手续费池、配置）
}

// mutate 在活动锁内：先应用到期的状态转换，再执行 fn，最后通过存储组件提交
// fn 或提交失败时撤销全部修改，错误原样返回
func (e *Engine) mutate(ctx context.Context, c call, fn func(tx *store.Txn) error) (err error) {
	start := time.Now()
	log := logger.WithTrace(ctx, e.logger).With(zap.String("op", c.op), zap.String("actor", c.actor.ID))
	if c.campaignID > 0 {
		log = log.With(zap.Int64("campaign_id", c.campaignID))
	}
	defer func() { e.observe(log, c.op, start, err) }()

	if c.campaignID > 0 {
		unlock := e.lockCampaign(c.campaignID)
		defer unlock()
	}
	if c.platform {
		e.platformMu.Lock()
		defer e.platformMu.Unlock()
	} else {
		e.platformMu.RLock()
		defer e.platformMu.RUnlock()
	}

	now := e.now()
	if c.campaignID > 0 {
		if err := e.settle(ctx, log, c.campaignID, now); err != nil {
			return err
		}
	}

	tx := store.NewTxn(now, c.actor.ID, trace.FromContext(ctx))
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := e.commit(ctx, tx); err != nil {
		return err
	}
	if !tx.Empty() {
		log.Info("Mutation committed", zap.Int("events", len(tx.Events())))
	}
	return nil
}

// read 在活动锁内读取，读取之前同样应用到期的状态转换
func (e *Engine) read(ctx context.Context, op string, campaignID int64, fn func() error) (err error) {
	start := time.Now()
	log := logger.WithTrace(ctx, e.logger).With(zap.String("op", op), zap.Int64("campaign_id", campaignID))
	defer func() { e.observe(log, op, start, err) }()

	unlock := e.lockCampaign(campaignID)
	defer unlock()
	e.platformMu.RLock()
	defer e.platformMu.RUnlock()

	if err := e.settle(ctx, log, campaignID, e.now()); err != nil {
		return err
	}
	return fn()
}

// settle 惰性处理截止时间：活动过期则全额退款并终止里程碑，否则关闭已到期的投票
func (e *Engine) settle(ctx context.Context, log *zap.Logger, campaignID int64, now time.Time) error {
	if _, err := e.registry.Get(campaignID); err != nil {
		// 活动不存在时交给具体操作返回 NotFound
		return nil
	}
	tx := store.NewTxn(now, systemActor, trace.FromContext(ctx))
	expired, s, err := e.registry.EvaluateExpiry(tx, campaignID)
	if err != nil {
		tx.Rollback()
		return err
	}
	var closed, abandoned []model.Milestone
	if expired {
		abandoned = e.governor.Abandon(tx, campaignID)
	} else {
		closed = e.governor.CloseDue(tx, campaignID)
	}
	if tx.Empty() {
		return nil
	}
	if err := e.commit(ctx, tx); err != nil {
		return err
	}

	if expired {
		metrics.IncrementLazyTransition("campaign_expired", 1)
		log.Info("Campaign expired",
			zap.Int("refunds", len(s.Refunds)),
			zap.Int64("refunded_total", s.Total),
			zap.Int("milestones_failed", len(abandoned)),
		)
	}
	if len(closed) > 0 {
		metrics.IncrementLazyTransition("milestone_closed", len(closed))
		log.Info("Milestone voting closed", zap.Int("count", len(closed)))
	}
	return nil
}

func (e *Engine) commit(ctx context.Context, tx *store.Txn) error {
	if tx.Empty() {
		return nil
	}
	if err := e.committer.Commit(ctx, tx.Changes()); err != nil {
		tx.Rollback()
		logger.WithTrace(ctx, e.logger).Error("Failed to commit changes", zap.Error(err))
		return err
	}
	for _, tr := range tx.Transfers() {
		metrics.AddEscrowTransfer(string(tr.Kind), tr.Amount)
	}
	return nil
}

func (e *Engine) observe(log *zap.Logger, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = model.Kind(err)
		if result == "Internal" {
			log.Error("Operation failed", zap.Error(err))
		} else {
			log.Warn("Operation rejected", zap.String("kind", result), zap.Error(err))
		}
	}
	metrics.RecordEngineOperation(op, result, time.Since(start))
}

func (e *Engine) escrowBalance(campaignID int64) (model.EscrowBalance, error) {
	c, err := e.registry.Get(campaignID)
	if err != nil {
		return model.EscrowBalance{}, err
	}
	acc, err := e.escrow.Account(campaignID)
	if err != nil {
		return model.EscrowBalance{}, err
	}
	return model.EscrowBalance{
		CampaignID:   campaignID,
		RaisedAmount: c.RaisedAmount,
		Deposited:    acc.Deposited,
		Released:     acc.Released,
		Refunded:     acc.Refunded,
		Balance:      acc.Balance(),
	}, nil
}

func (e *Engine) campaign(campaignID int64) (model.Campaign, error) {
	c, err := e.registry.Get(campaignID)
	if err != nil {
		return model.Campaign{}, err
	}
	return *c, nil
}

var errNoAudit = errors.New("audit log is not configured")

// AuditLog 查询已提交的审计事件，需要 audit:read 权限
func (e *Engine) AuditLog(ctx context.Context, actor model.Actor, offset, limit int) ([]model.AuditEvent, error) {
	if err := model.Authorize(actor, rbac.PermissionReadAudit); err != nil {
		return nil, err
	}
	if e.audit == nil {
		return nil, errNoAudit
	}
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: offset %d limit %d", model.ErrValidation, offset, limit)
	}
	return e.audit.Events(ctx, offset, limit)
}
