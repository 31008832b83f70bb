package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"milestonefund/internal/model"
	"milestonefund/pkg/mq"
)

type fakePayouts struct {
	err      error
	recorded map[string]model.Transfer
}

func (f *fakePayouts) RecordPayout(_ context.Context, _ string, tr model.Transfer) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.recorded == nil {
		f.recorded = make(map[string]model.Transfer)
	}
	_, exists := f.recorded[tr.ID]
	f.recorded[tr.ID] = tr
	return !exists, nil
}

type fakeDedup struct {
	seen     map[string]bool
	released []string
}

func (d *fakeDedup) AcquireOnce(_ context.Context, handler, eventID string) bool {
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	k := handler + ":" + eventID
	if d.seen[k] {
		return false
	}
	d.seen[k] = true
	return true
}

func (d *fakeDedup) Release(_ context.Context, handler, eventID string) {
	delete(d.seen, handler+":"+eventID)
	d.released = append(d.released, eventID)
}

type fakeRetries struct{ counts map[string]int64 }

func (r *fakeRetries) IncrementAndGet(_ context.Context, key string) (int64, error) {
	if r.counts == nil {
		r.counts = make(map[string]int64)
	}
	r.counts[key]++
	return r.counts[key], nil
}

func (r *fakeRetries) Reset(_ context.Context, key string) error {
	delete(r.counts, key)
	return nil
}

func message(t *testing.T, ev model.AuditEvent) mq.Message {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return mq.Message{RoutingKey: ev.Type, MessageID: ev.ID, Body: body}
}

func releaseEvent(t *testing.T, id string) model.AuditEvent {
	t.Helper()
	data, err := json.Marshal(model.Transfer{
		ID:         "tr-" + id,
		Kind:       model.TransferRelease,
		CampaignID: 3,
		Recipient:  "founder",
		Amount:     4_000_000,
		CreatedAt:  time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return model.AuditEvent{ID: id, Type: model.EventEscrowReleased, CampaignID: 3, Actor: "system", Data: data}
}

func newHandler(p *fakePayouts, d *fakeDedup, r *fakeRetries) *AuditEventHandler {
	return NewAuditEventHandler(p, d, r, 2, "audit", zap.NewNop())
}

func TestTransferEventRecordsPayoutOnce(t *testing.T) {
	payouts, dedup := &fakePayouts{}, &fakeDedup{}
	h := newHandler(payouts, dedup, &fakeRetries{})
	msg := message(t, releaseEvent(t, "ev-1"))

	require.NoError(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg), "duplicate delivery is acknowledged")

	require.Len(t, payouts.recorded, 1)
	tr := payouts.recorded["tr-ev-1"]
	assert.Equal(t, "founder", tr.Recipient)
	assert.Equal(t, int64(4_000_000), tr.Amount)
}

func TestNonTransferEventIsObserved(t *testing.T) {
	payouts := &fakePayouts{}
	h := newHandler(payouts, &fakeDedup{}, &fakeRetries{})
	ev := model.AuditEvent{ID: "ev-2", Type: model.EventMilestoneVoted, CampaignID: 3, Data: json.RawMessage(`{}`)}

	require.NoError(t, h.Handle(context.Background(), message(t, ev)))
	assert.Empty(t, payouts.recorded)
}

func TestMalformedMessagesAreRejected(t *testing.T) {
	h := newHandler(&fakePayouts{}, &fakeDedup{}, &fakeRetries{})

	err := h.Handle(context.Background(), mq.Message{RoutingKey: "escrow.released", Body: []byte("{")})
	assert.True(t, mq.IsRejected(err))

	ev := releaseEvent(t, "ev-3")
	ev.Data = json.RawMessage(`{"id":"tr","amount":0}`)
	err = h.Handle(context.Background(), message(t, ev))
	assert.True(t, mq.IsRejected(err))
}

func TestRetryableFailureRequeuesUntilExhausted(t *testing.T) {
	payouts := &fakePayouts{err: fmt.Errorf("insert payout: %w", context.DeadlineExceeded)}
	dedup, retries := &fakeDedup{}, &fakeRetries{}
	h := newHandler(payouts, dedup, retries)
	msg := message(t, releaseEvent(t, "ev-4"))

	for i := 0; i < 2; i++ {
		err := h.Handle(context.Background(), msg)
		require.Error(t, err)
		assert.False(t, mq.IsRejected(err), "attempt %d should be requeued", i+1)
	}
	err := h.Handle(context.Background(), msg)
	assert.True(t, mq.IsRejected(err))
	assert.Equal(t, []string{"ev-4", "ev-4", "ev-4"}, dedup.released)
}

func TestUnknownFailureIsRejected(t *testing.T) {
	h := newHandler(&fakePayouts{err: errors.New("constraint check failed")}, &fakeDedup{}, &fakeRetries{})
	err := h.Handle(context.Background(), message(t, releaseEvent(t, "ev-5")))
	assert.True(t, mq.IsRejected(err))
}
