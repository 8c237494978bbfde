package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginAllowed_EmptyAllowlistAllowsAll(t *testing.T) {
	s := &Server{}
	assert.True(t, s.originAllowed("https://anything.example.com"))
	assert.True(t, s.originAllowed(""))
}

func TestOriginAllowed_ExactMatch(t *testing.T) {
	s := &Server{allowedOrigins: []string{"https://app.whisper.example"}}
	assert.True(t, s.originAllowed("https://app.whisper.example"))
	assert.False(t, s.originAllowed("https://evil.example"))
}

func TestOriginAllowed_SubdomainMatch(t *testing.T) {
	s := &Server{allowedOrigins: []string{"https://whisper.example"}}
	assert.True(t, s.originAllowed("https://staging.whisper.example"))
	assert.False(t, s.originAllowed("https://whisperexample.com"))
}

func TestOriginAllowed_Wildcard(t *testing.T) {
	s := &Server{allowedOrigins: []string{"*"}}
	assert.True(t, s.originAllowed("https://anything.example.com"))
}

func TestOriginAllowed_EmptyOriginRejectedWithNonemptyAllowlist(t *testing.T) {
	s := &Server{allowedOrigins: []string{"https://app.whisper.example"}}
	assert.False(t, s.originAllowed(""))
}

func TestOriginAllowed_OriginWithoutHostRejected(t *testing.T) {
	s := &Server{allowedOrigins: []string{"https://app.whisper.example"}}
	assert.False(t, s.originAllowed("/just/a/path"))
}
