// Package push is the Push Coordinator (spec §4.9): it sends a wake-only
// hint over APNs when a recipient is offline, never the message content.
// The ES256 provider-token signing and HTTP/2 APNs client are adapted
// almost verbatim from the teacher's internal/push/apns.go; the payload
// shape and NotifyXxx helpers are entirely new, since the teacher's push
// service sends full alert text (title/body/badge) which this system's
// E2EE model forbids the server from ever constructing.
package push

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	APNsProductionURL = "https://api.push.apple.com"
	APNsSandboxURL    = "https://api.sandbox.push.apple.com"

	providerTokenTTL = 50 * time.Minute
)

type Config struct {
	KeyPath string
	KeyID   string
	TeamID  string
	Topic   string
	Sandbox bool
}

type Client struct {
	config     Config
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client

	token       string
	tokenExpiry time.Time
	tokenMu     sync.RWMutex
}

func NewClient(cfg Config) (*Client, error) {
	keyData, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs key file: %w", err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from APNs key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs private key: %w", err)
	}
	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("APNs key is not an ECDSA key")
	}
	return &Client{
		config:     cfg,
		privateKey: ecdsaKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *Client) providerToken() (string, error) {
	c.tokenMu.RLock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		tok := c.token
		c.tokenMu.RUnlock()
		return tok, nil
	}
	c.tokenMu.RUnlock()

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.config.TeamID,
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = c.config.KeyID
	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign APNs provider token: %w", err)
	}
	c.token = signed
	c.tokenExpiry = now.Add(providerTokenTTL)
	return signed, nil
}

func (c *Client) baseURL() string {
	if c.config.Sandbox {
		return APNsSandboxURL
	}
	return APNsProductionURL
}

// WakePayload is the entire, frozen shape a push notification body may
// ever carry, per spec §4.9: no ciphertext, no sender, no plaintext hint.
type WakePayload struct {
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	WhisperID string `json:"whisperId"`
	Hint      string `json:"hint,omitempty"`
}

type apnsPushType string

const (
	pushTypeBackground apnsPushType = "background"
	pushTypeVoIP       apnsPushType = "voip"
)

// Send delivers a single wake notification to one device token. voip
// selects the PushKit (voip) topic/push-type for incoming-call wakes;
// everything else is a silent background push.
func (c *Client) Send(ctx context.Context, deviceToken string, payload WakePayload, voip bool) error {
	token, err := c.providerToken()
	if err != nil {
		return err
	}

	pushType := pushTypeBackground
	topic := c.config.Topic
	if voip {
		pushType = pushTypeVoIP
		topic = c.config.Topic + ".voip"
	}

	body, err := json.Marshal(map[string]any{
		"aps": map[string]any{
			"content-available": 1,
		},
		"wake": payload,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/3/device/%s", c.baseURL(), deviceToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("authorization", "bearer "+token)
	req.Header.Set("apns-topic", topic)
	req.Header.Set("apns-push-type", string(pushType))
	req.Header.Set("apns-priority", "5")
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apnsErr struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apnsErr)
		return fmt.Errorf("apns responded %d: %s", resp.StatusCode, apnsErr.Reason)
	}
	return nil
}

// IsInvalidToken reports whether err indicates the device token should be
// cleared from the store (spec §4.9's "invalid token -> clear token" rule).
func IsInvalidToken(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return contains(s, "BadDeviceToken") || contains(s, "Unregistered") || contains(s, "DeviceTokenNotForTopic")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
