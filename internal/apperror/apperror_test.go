package apperror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_ErrorString(t *testing.T) {
	err := New(InvalidPayload, "bad frame")
	assert.Equal(t, "INVALID_PAYLOAD: bad frame", err.Error())
}

func TestWrap_IncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Internal, "store failed", cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		InvalidPayload: 400,
		AuthFailed:     401,
		NotRegistered:  401,
		Forbidden:      403,
		NotFound:       404,
		Conflict:       409,
		RateLimited:    429,
		Timeout:        504,
		Internal:       500,
	}
	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus(), "code %s", code)
	}
}

func TestAs_PassesThroughAppError(t *testing.T) {
	orig := New(Forbidden, "nope")
	assert.Same(t, orig, As(orig))
}

func TestAs_WrapsPlainError(t *testing.T) {
	plain := errors.New("boom")
	wrapped := As(plain)
	assert.Equal(t, Internal, wrapped.Code)
	assert.ErrorIs(t, wrapped, plain)
}

func TestAs_NilIsNil(t *testing.T) {
	assert.Nil(t, As(nil))
}
