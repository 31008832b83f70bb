package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"milestonefund/pkg/circuitbreaker"
	"milestonefund/pkg/mq"
)

type memStore struct {
	events map[int64]*Event
	order  []int64
}

func newMemStore(events ...*Event) *memStore {
	s := &memStore{events: make(map[int64]*Event)}
	for _, e := range events {
		if e.Status == "" {
			e.Status = StatusPending
		}
		s.events[e.ID] = e
		s.order = append(s.order, e.ID)
	}
	return s
}

func (s *memStore) byStatus(status string, limit int) []*Event {
	var out []*Event
	for _, id := range s.order {
		if e := s.events[id]; e.Status == status && len(out) < limit {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) GetPendingEvents(_ context.Context, limit int) ([]*Event, error) {
	return s.byStatus(StatusPending, limit), nil
}

func (s *memStore) GetFailedEvents(_ context.Context, limit int) ([]*Event, error) {
	return s.byStatus(StatusFailed, limit), nil
}

func (s *memStore) GetEventByID(_ context.Context, id int64) (*Event, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return e, nil
}

func (s *memStore) MarkAsSent(_ context.Context, id int64) error {
	s.events[id].Status = StatusSent
	return nil
}

func (s *memStore) MarkAsFailed(_ context.Context, id int64, maxRetries int, cause string) error {
	e := s.events[id]
	e.RetryCount++
	e.LastError = cause
	if e.RetryCount >= maxRetries {
		e.Status = StatusFailed
	}
	return nil
}

type recordingPublisher struct {
	fail map[string]error
	sent []mq.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg mq.Message) error {
	if err := p.fail[msg.MessageID]; err != nil {
		return err
	}
	p.sent = append(p.sent, msg)
	return nil
}

var errBroker = errors.New("broker unavailable")

func TestDispatcher_PublishesInOrder(t *testing.T) {
	store := newMemStore(
		&Event{ID: 1, EventID: "ev-1", RoutingKey: "campaign.created", Payload: []byte(`{"a":1}`), TraceID: "t1"},
		&Event{ID: 2, EventID: "ev-2", RoutingKey: "investment.recorded", Payload: []byte(`{"b":2}`)},
	)
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, zap.NewNop())

	assert.Equal(t, 2, d.ProcessPendingEvents(context.Background()))
	require.Len(t, pub.sent, 2)
	assert.Equal(t, "ev-1", pub.sent[0].MessageID)
	assert.Equal(t, "campaign.created", pub.sent[0].RoutingKey)
	assert.Equal(t, "t1", pub.sent[0].TraceID)
	assert.JSONEq(t, `{"b":2}`, string(pub.sent[1].Body))
	assert.Equal(t, StatusSent, store.events[1].Status)
	assert.Equal(t, StatusSent, store.events[2].Status)
}

func TestDispatcher_FailuresCountTowardRetries(t *testing.T) {
	store := newMemStore(&Event{ID: 1, EventID: "ev-1", RoutingKey: "x"}, &Event{ID: 2, EventID: "ev-2", RoutingKey: "y"})
	pub := &recordingPublisher{fail: map[string]error{"ev-1": errBroker}}
	d := NewDispatcher(store, pub, zap.NewNop()).WithMaxRetries(2)

	assert.Equal(t, 1, d.ProcessPendingEvents(context.Background()))
	assert.Equal(t, 1, store.events[1].RetryCount)
	assert.Equal(t, StatusPending, store.events[1].Status)
	assert.Equal(t, errBroker.Error(), store.events[1].LastError)

	d.ProcessPendingEvents(context.Background())
	assert.Equal(t, StatusFailed, store.events[1].Status)
}

func TestDispatcher_OpenBreakerPostponesBatch(t *testing.T) {
	store := newMemStore(
		&Event{ID: 1, EventID: "ev-1", RoutingKey: "x"},
		&Event{ID: 2, EventID: "ev-2", RoutingKey: "x"},
		&Event{ID: 3, EventID: "ev-3", RoutingKey: "x"},
	)
	pub := &recordingPublisher{fail: map[string]error{"ev-1": errBroker}}
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour})
	d := NewDispatcher(store, pub, zap.NewNop()).WithBreaker(cb)

	assert.Zero(t, d.ProcessPendingEvents(context.Background()))
	assert.Equal(t, 1, store.events[1].RetryCount)
	assert.Zero(t, store.events[2].RetryCount, "events skipped by the open breaker are not penalised")
	assert.Equal(t, StatusPending, store.events[3].Status)
	assert.Empty(t, pub.sent)
}

func TestReplayService(t *testing.T) {
	store := newMemStore(
		&Event{ID: 7, EventID: "ev-7", RoutingKey: "escrow.released", Status: StatusFailed},
		&Event{ID: 8, EventID: "ev-8", RoutingKey: "escrow.refunded", Status: StatusFailed},
	)
	pub := &recordingPublisher{fail: map[string]error{"ev-8": errBroker}}
	svc := NewReplayService(store, pub, zap.NewNop())

	n, err := svc.ReplayFailedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusSent, store.events[7].Status)
	assert.Equal(t, StatusFailed, store.events[8].Status)

	err = svc.ReplayEvent(context.Background(), 99)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, RetryDelay(1))
	assert.Equal(t, 10*time.Second, RetryDelay(2))
	assert.Equal(t, 40*time.Second, RetryDelay(4))
	assert.Equal(t, 5*time.Minute, RetryDelay(20))
}
