package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllow_BypassSkipsStore(t *testing.T) {
	// bypass=true must short-circuit before touching the Redis client, so a
	// nil client is safe here and proves the bypass path never dereferences it.
	l := New(nil, nil, true)
	assert.NoError(t, l.Allow(context.Background(), "WSP-AAAA-AAAA-AAAA", "send_message"))
}
