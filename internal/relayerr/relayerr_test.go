package relayerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOf_ExtractsKind(t *testing.T) {
	err := New(RoomFull, "room at capacity")
	assert.Equal(t, RoomFull, Of(err))
}

func TestOf_WrappedError(t *testing.T) {
	err := fmt.Errorf("upgrade: %w", New(AuthFailed, "bad token"))
	assert.Equal(t, AuthFailed, Of(err))
}

func TestOf_DefaultsToInternal(t *testing.T) {
	assert.Equal(t, Internal, Of(errors.New("something unrelated")))
	assert.Equal(t, Internal, Of(nil))
}

func TestError_Message(t *testing.T) {
	err := New(BadRequest, "room must be non-empty")
	assert.Equal(t, "bad_request: room must be non-empty", err.Error())
}
