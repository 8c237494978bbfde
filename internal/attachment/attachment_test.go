package attachment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentTypeAllowed(t *testing.T) {
	allowed := []string{
		"image/png", "image/jpeg", "video/mp4", "audio/mpeg",
		"application/octet-stream", "application/pdf", "text/plain",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}
	for _, ct := range allowed {
		assert.True(t, contentTypeAllowed(ct), "expected %s to be allowed", ct)
	}
}

func TestContentTypeDenied(t *testing.T) {
	denied := []string{
		"application/x-msdownload",
		"application/x-executable",
		"application/x-sharedlib",
		"application/x-mach-binary",
		"application/zip",
		"text/html",
	}
	for _, ct := range denied {
		assert.False(t, contentTypeAllowed(ct), "expected %s to be denied", ct)
	}
}
