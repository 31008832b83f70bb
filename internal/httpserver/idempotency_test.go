package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"milestonefund/pkg/util"
)

type memIdempotency struct {
	pending   map[string]bool
	done      map[string]util.StoredResponse
	abandoned []string
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{pending: map[string]bool{}, done: map[string]util.StoredResponse{}}
}

func (m *memIdempotency) Reserve(_ context.Context, scope, key string) (*util.StoredResponse, error) {
	id := scope + "|" + key
	if resp, ok := m.done[id]; ok {
		return &resp, nil
	}
	if m.pending[id] {
		return nil, util.ErrRequestInFlight
	}
	m.pending[id] = true
	return nil, nil
}

func (m *memIdempotency) Complete(_ context.Context, scope, key string, resp util.StoredResponse) error {
	id := scope + "|" + key
	delete(m.pending, id)
	m.done[id] = resp
	return nil
}

func (m *memIdempotency) Abandon(_ context.Context, scope, key string) error {
	id := scope + "|" + key
	delete(m.pending, id)
	m.abandoned = append(m.abandoned, id)
	return nil
}

func idempotentEngine(store IdempotencyStore, h gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery(), IdempotencyMiddleware(store, zap.NewNop()))
	r.POST("/op", h)
	return r
}

func post(r http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/op", nil)
	req.Header.Set(IdempotencyHeader, key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	store := newMemIdempotency()
	calls := 0
	r := idempotentEngine(store, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"n": calls})
	})

	first := post(r, "k1")
	second := post(r, "k1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotency_PanicReleasesKey(t *testing.T) {
	store := newMemIdempotency()
	fail := true
	r := idempotentEngine(store, func(c *gin.Context) {
		if fail {
			panic("handler bug")
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	assert.Equal(t, http.StatusInternalServerError, post(r, "k2").Code)
	require.Len(t, store.abandoned, 1)
	assert.Empty(t, store.pending)

	fail = false
	assert.Equal(t, http.StatusOK, post(r, "k2").Code, "retry with the same key is not stuck in flight")
}

func TestIdempotency_ServerErrorIsNotCached(t *testing.T) {
	store := newMemIdempotency()
	r := idempotentEngine(store, func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})

	post(r, "k3")
	assert.Len(t, store.abandoned, 1)
	assert.Empty(t, store.done)
}
