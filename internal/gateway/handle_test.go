package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandle_CancelStopsOnce(t *testing.T) {
	stops := 0
	h := NewHandle(func() { stops++ })

	h.Cancel()
	h.Cancel()
	h.Fail(errors.New("late"))

	<-h.Done()
	assert.Equal(t, 1, stops)
	assert.NoError(t, h.Err())
	assert.True(t, h.Cancelled())
}

func TestHandle_FailRecordsCause(t *testing.T) {
	cause := errors.New("socket closed")
	h := NewHandle(nil)

	h.Fail(cause)
	h.Cancel()

	<-h.Done()
	assert.ErrorIs(t, h.Err(), cause)
}

func TestHandle_FailWithoutCause(t *testing.T) {
	h := NewHandle(nil)
	h.Fail(nil)

	<-h.Done()
	assert.ErrorIs(t, h.Err(), ErrSubscriptionLost)
}
