package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv_UsesProcessEnvWhenSet(t *testing.T) {
	t.Setenv("WHISPER_TEST_KEY", "from-env")
	assert.Equal(t, "from-env", getEnv("WHISPER_TEST_KEY", "fallback"))
}

func TestGetEnv_FallsBackWhenUnset(t *testing.T) {
	assert.Equal(t, "fallback", getEnv("WHISPER_TEST_KEY_UNSET", "fallback"))
}

func TestGetEnvBool_ParsesValidBool(t *testing.T) {
	t.Setenv("WHISPER_TEST_BOOL", "true")
	assert.True(t, getEnvBool("WHISPER_TEST_BOOL", false))

	t.Setenv("WHISPER_TEST_BOOL", "false")
	assert.False(t, getEnvBool("WHISPER_TEST_BOOL", true))
}

func TestGetEnvBool_FallsBackOnUnsetOrInvalid(t *testing.T) {
	assert.True(t, getEnvBool("WHISPER_TEST_BOOL_UNSET", true))

	t.Setenv("WHISPER_TEST_BOOL", "not-a-bool")
	assert.True(t, getEnvBool("WHISPER_TEST_BOOL", true))
}

func TestDefaultRateLimits_HasSendMessageOverride(t *testing.T) {
	cfg := defaultRateLimits()
	assert.NotNil(t, cfg.Default)
	_, ok := cfg.PerFrameType["send_message"]
	assert.True(t, ok, "expected a send_message-specific rate limit tier")
}
