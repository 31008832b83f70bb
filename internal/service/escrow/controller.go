package escrow

import (
	"fmt"
	"strings"
	"sync"

	"milestonefund/internal/model"
	"milestonefund/internal/store"
	"milestonefund/pkg/rbac"
)

// Authority 内部调用方身份，只有被授权的组件可以从托管账户划出资金
type Authority int

const (
	AuthorityGovernor Authority = iota + 1
	AuthorityRegistry
	AuthorityLedger
)

func (a Authority) String() string {
	switch a {
	case AuthorityGovernor:
		return "governor"
	case AuthorityRegistry:
		return "registry"
	case AuthorityLedger:
		return "ledger"
	default:
		return "unknown"
	}
}

// Controller 托管账户和平台手续费池
// 账户内容只在持有对应活动锁时修改，平台状态只在持有平台锁时修改
type Controller struct {
	mu       sync.RWMutex
	accounts map[int64]*model.EscrowAccount
	platform *model.PlatformState
}

func NewController(cfg model.PlatformConfig) *Controller {
	return &Controller{
		accounts: make(map[int64]*model.EscrowAccount),
		platform: &model.PlatformState{Config: cfg},
	}
}

// Open 为新活动创建托管账户
func (c *Controller) Open(tx *store.Txn, campaignID int64) *model.EscrowAccount {
	c.mu.Lock()
	defer c.mu.Unlock()
	if acc, ok := c.accounts[campaignID]; ok {
		return acc
	}
	acc := &model.EscrowAccount{CampaignID: campaignID, UpdatedAt: tx.Now()}
	c.accounts[campaignID] = acc
	tx.OnRollback(func() {
		c.mu.Lock()
		delete(c.accounts, campaignID)
		c.mu.Unlock()
	})
	tx.Escrow(acc)
	return acc
}

func (c *Controller) account(campaignID int64) (*model.EscrowAccount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	acc, ok := c.accounts[campaignID]
	if !ok {
		return nil, fmt.Errorf("%w: escrow account for campaign %d", model.ErrNotFound, campaignID)
	}
	return acc, nil
}

// Deposit 投资净额进入托管
func (c *Controller) Deposit(tx *store.Txn, campaignID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: deposit %d", model.ErrInvalidAmount, amount)
	}
	acc, err := c.account(campaignID)
	if err != nil {
		return err
	}
	if model.AddOverflows(acc.Deposited, amount) {
		return fmt.Errorf("%w: escrow deposits of campaign %d would overflow", model.ErrLimitExceeded, campaignID)
	}
	tx.Escrow(acc)
	acc.Deposited += amount
	acc.UpdatedAt = tx.Now()
	return nil
}

// CollectFee 手续费进入平台费用池，与活动托管完全分离
func (c *Controller) CollectFee(tx *store.Txn, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: fee %d", model.ErrInvalidAmount, amount)
	}
	if model.AddOverflows(c.platform.FeesCollected, amount) {
		return fmt.Errorf("%w: platform fees would overflow", model.ErrLimitExceeded)
	}
	tx.Platform(c.platform)
	c.platform.FeePool += amount
	c.platform.FeesCollected += amount
	c.platform.UpdatedAt = tx.Now()
	return nil
}

// Release 里程碑通过后放款给发起人
func (c *Controller) Release(tx *store.Txn, auth Authority, campaignID int64, recipient string, amount int64) (model.Transfer, error) {
	if auth != AuthorityGovernor && auth != AuthorityRegistry {
		return model.Transfer{}, fmt.Errorf("%w: %s cannot release escrow", model.ErrNotAuthorized, auth)
	}
	acc, err := c.withdrawable(campaignID, recipient, amount)
	if err != nil {
		return model.Transfer{}, err
	}
	tx.Escrow(acc)
	acc.Released += amount
	acc.UpdatedAt = tx.Now()

	tr := tx.AddTransfer(model.Transfer{Kind: model.TransferRelease, CampaignID: campaignID, Recipient: recipient, Amount: amount})
	tx.Emit(model.EventEscrowReleased, campaignID, tr)
	return tr, nil
}

// RefundTransfer 把退款金额划回贡献者
func (c *Controller) RefundTransfer(tx *store.Txn, auth Authority, campaignID int64, contributorID string, amount int64) (model.Transfer, error) {
	if auth != AuthorityRegistry && auth != AuthorityLedger {
		return model.Transfer{}, fmt.Errorf("%w: %s cannot refund escrow", model.ErrNotAuthorized, auth)
	}
	acc, err := c.withdrawable(campaignID, contributorID, amount)
	if err != nil {
		return model.Transfer{}, err
	}
	tx.Escrow(acc)
	acc.Refunded += amount
	acc.UpdatedAt = tx.Now()

	tr := tx.AddTransfer(model.Transfer{Kind: model.TransferRefund, CampaignID: campaignID, Recipient: contributorID, Amount: amount})
	tx.Emit(model.EventEscrowRefunded, campaignID, tr)
	return tr, nil
}

func (c *Controller) withdrawable(campaignID int64, recipient string, amount int64) (*model.EscrowAccount, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, fmt.Errorf("%w: empty recipient", model.ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: transfer %d", model.ErrInvalidAmount, amount)
	}
	acc, err := c.account(campaignID)
	if err != nil {
		return nil, err
	}
	if amount > acc.Balance() {
		return nil, fmt.Errorf("%w: requested %d, balance %d", model.ErrInsufficientEscrow, amount, acc.Balance())
	}
	return acc, nil
}

// WithdrawPlatformFees 平台所有者提取全部手续费，费用池清零
func (c *Controller) WithdrawPlatformFees(tx *store.Txn, actor model.Actor, recipient string) (int64, model.Transfer, error) {
	if err := model.Authorize(actor, rbac.PermissionWithdrawFees); err != nil {
		return 0, model.Transfer{}, err
	}
	if strings.TrimSpace(recipient) == "" {
		return 0, model.Transfer{}, fmt.Errorf("%w: empty recipient", model.ErrValidation)
	}
	amount := c.platform.FeePool
	if amount <= 0 {
		return 0, model.Transfer{}, fmt.Errorf("%w: platform fee pool is empty", model.ErrValidation)
	}
	tx.Platform(c.platform)
	c.platform.FeePool = 0
	c.platform.FeesWithdrawn += amount
	c.platform.UpdatedAt = tx.Now()

	tr := tx.AddTransfer(model.Transfer{Kind: model.TransferFeeWithdrawal, Recipient: recipient, Amount: amount})
	tx.Emit(model.EventPlatformFeesWithdrawn, 0, tr)
	return amount, tr, nil
}

// UpdateConfig 平台所有者修改配置，fn 返回错误时不做任何修改
func (c *Controller) UpdateConfig(tx *store.Txn, actor model.Actor, permission string, fn func(cfg *model.PlatformConfig) error) (model.PlatformConfig, error) {
	if err := model.Authorize(actor, permission); err != nil {
		return model.PlatformConfig{}, err
	}
	next := c.platform.Config
	if err := fn(&next); err != nil {
		return model.PlatformConfig{}, err
	}
	tx.Platform(c.platform)
	c.platform.Config = next
	c.platform.UpdatedAt = tx.Now()
	return next, nil
}

// Config 当前平台配置
func (c *Controller) Config() model.PlatformConfig {
	return c.platform.Config
}

func (c *Controller) Platform() model.PlatformState {
	return *c.platform
}

// Balance 活动当前托管余额
func (c *Controller) Balance(campaignID int64) (int64, error) {
	acc, err := c.account(campaignID)
	if err != nil {
		return 0, err
	}
	return acc.Balance(), nil
}

func (c *Controller) Account(campaignID int64) (model.EscrowAccount, error) {
	acc, err := c.account(campaignID)
	if err != nil {
		return model.EscrowAccount{}, err
	}
	return *acc, nil
}

// Restore 用已提交的快照恢复状态
func (c *Controller) Restore(accounts []model.EscrowAccount, platform *model.PlatformState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range accounts {
		acc := a
		c.accounts[a.CampaignID] = &acc
	}
	if platform != nil {
		p := *platform
		c.platform = &p
	}
}
