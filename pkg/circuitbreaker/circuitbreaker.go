package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 关闭：正常状态，允许请求通过
	StateOpen                  // 打开：熔断状态，直接拒绝请求
	StateHalfOpen              // 半开：尝试恢复，允许少量请求通过
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// 连续失败多少次后打开熔断器
	FailureThreshold int
	// 半开状态下成功多少次后关闭熔断器
	SuccessThreshold int
	// 打开状态持续多久后进入半开状态
	Timeout time.Duration
	// 半开状态下同时放行的最大请求数
	HalfOpenMaxRequests int
	// OnStateChange 状态变化回调（在锁外调用）
	OnStateChange func(from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

var ErrOpen = errors.New("circuit breaker is open")

// CircuitBreaker 熔断器
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	halfOpenCount int
	openedAt      time.Time
}

func New(config Config) *CircuitBreaker {
	return newWithClock(config, time.Now)
}

func newWithClock(config Config, now func() time.Time) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{config: config, now: now, state: StateClosed}
}

// Execute 带熔断保护执行 fn。熔断打开时直接返回 ErrOpen，不调用 fn
// ctx 已取消时返回 ctx.Err()，不计入失败
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.release()
		return err
	}
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
		cb.state = StateHalfOpen
		cb.halfOpenCount = 0
		cb.successCount = 0
	}
	to := cb.state

	var err error
	switch cb.state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			err = ErrOpen
		} else {
			cb.halfOpenCount++
		}
	}
	cb.mu.Unlock()

	cb.notify(from, to)
	return err
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	if cb.state == StateHalfOpen && cb.halfOpenCount > 0 {
		cb.halfOpenCount--
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case err != nil && cb.state == StateHalfOpen:
		cb.open()
	case err != nil:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.open()
		}
	case cb.state == StateHalfOpen:
		cb.halfOpenCount--
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
		}
	default:
		cb.failureCount = 0
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// open 调用方持有锁
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.halfOpenCount = 0
	cb.successCount = 0
	cb.failureCount = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// State 当前状态
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset 重置为关闭状态
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCount = 0
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}
