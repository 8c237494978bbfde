package call

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMintTurnCredentials_UsernameEmbedsExpiryAndID(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	creds := MintTurnCredentials("shared-secret", "WSP-AAAA-BBBB-2345", []string{"turn:turn.example.com:3478"}, now)

	wantExpiry := now.Add(turnCredentialTTL).Unix()
	wantUsername := fmt.Sprintf("%d:WSP-AAAA-BBBB-2345", wantExpiry)
	assert.Equal(t, wantUsername, creds.Username)
	assert.Equal(t, int(turnCredentialTTL.Seconds()), creds.TTL)
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, creds.URLs)
}

func TestMintTurnCredentials_CredentialIsValidHMAC(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	secret := "shared-secret"
	creds := MintTurnCredentials(secret, "WSP-AAAA-BBBB-2345", nil, now)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(creds.Username))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, creds.Credential)
}

func TestMintTurnCredentials_DifferentSecretsDifferentCredentials(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := MintTurnCredentials("secret-a", "WSP-AAAA-BBBB-2345", nil, now)
	b := MintTurnCredentials("secret-b", "WSP-AAAA-BBBB-2345", nil, now)
	assert.NotEqual(t, a.Credential, b.Credential)
}
