package mq

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReject(t *testing.T) {
	cause := errors.New("malformed payload")
	err := fmt.Errorf("handle: %w", Reject(cause))

	assert.True(t, IsRejected(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsRejected(cause))
	assert.NoError(t, Reject(nil))
}

func TestDLQExchange(t *testing.T) {
	assert.Equal(t, "events.dlq", DLQExchange(DefaultExchange))
}
