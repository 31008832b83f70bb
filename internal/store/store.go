package store

import (
	"context"
	"slices"
	"sync"

	"milestonefund/internal/model"
)

// ChangeSet 一次已校验变更的完整内容
type ChangeSet struct {
	Campaigns   []model.Campaign
	Investments []model.Investment
	Milestones  []model.Milestone
	Votes       []model.Vote
	Escrows     []model.EscrowAccount
	Platform    *model.PlatformState
	Transfers   []model.Transfer
	Events      []model.AuditEvent
}

// Committer 外部存储组件。Commit 失败时错误原样返回给调用方，引擎不做重试
type Committer interface {
	Commit(ctx context.Context, cs ChangeSet) error
}

// Snapshot 已提交状态的完整快照，用于进程启动时恢复引擎
type Snapshot struct {
	Platform    *model.PlatformState
	Campaigns   []model.Campaign
	Investments []model.Investment
	Milestones  []model.Milestone
	Votes       []model.Vote
	Escrows     []model.EscrowAccount
}

// MemoryLog 内存实现：追加式保存审计事件和资金划转
type MemoryLog struct {
	mu        sync.RWMutex
	events    []model.AuditEvent
	transfers []model.Transfer
	commits   int
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Commit(_ context.Context, cs ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, cs.Events...)
	m.transfers = append(m.transfers, cs.Transfers...)
	m.commits++
	return nil
}

// Events 返回 offset 之后的事件，最多 limit 条（limit <= 0 表示全部）
func (m *MemoryLog) Events(_ context.Context, offset, limit int) ([]model.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(m.events) {
		return nil, nil
	}
	end := len(m.events)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return slices.Clone(m.events[offset:end]), nil
}

func (m *MemoryLog) Transfers() []model.Transfer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.transfers)
}

func (m *MemoryLog) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

// Chain 依次提交到多个存储组件，第一个失败即返回
type Chain []Committer

func (c Chain) Commit(ctx context.Context, cs ChangeSet) error {
	for _, committer := range c {
		if err := committer.Commit(ctx, cs); err != nil {
			return err
		}
	}
	return nil
}
