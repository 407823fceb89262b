// Package notification sends templated emails through GOV.UK Notify and
// provides a recording test double.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hans/hans/internal/platform/httpclient"
)

// Template IDs registered with Notify.
const (
	TemplateAdmission = "5ae27d4d-8c70-4ee3-b906-9983a004a2f4"
)

// DefaultBaseURL is the public Notify API.
const DefaultBaseURL = "https://api.notifications.service.gov.uk"

// ---------------------------------------------------------------------------
// Email
// ---------------------------------------------------------------------------

// Email is a single templated email.
type Email struct {
	To              string            `json:"email_address"`
	TemplateID      string            `json:"template_id"`
	Personalisation map[string]string `json:"personalisation,omitempty"`
	Reference       string            `json:"reference,omitempty"`
}

// EmailSender is the interface for sending templated email messages. It
// returns the provider's notification id.
type EmailSender interface {
	SendEmail(ctx context.Context, email Email) (string, error)
}

var (
	// ErrRejected is returned when Notify refuses the request; retrying
	// will not help.
	ErrRejected = errors.New("notification: rejected by provider")
	// ErrUnavailable is returned on transport failure or a 5xx reply.
	ErrUnavailable = errors.New("notification: provider unavailable")
)

// ---------------------------------------------------------------------------
// API key
// ---------------------------------------------------------------------------

const uuidLen = 36

// APIKey is a Notify key split into its service id and signing secret.
type APIKey struct {
	Name      string
	ServiceID string
	Secret    string
}

// ParseAPIKey splits a key of the form {name}-{serviceId}-{secret}, where
// both trailing parts are UUIDs.
func ParseAPIKey(key string) (APIKey, error) {
	key = strings.TrimSpace(key)
	if len(key) < 2*uuidLen+1 {
		return APIKey{}, fmt.Errorf("notification: API key too short")
	}
	secret := key[len(key)-uuidLen:]
	rest := key[:len(key)-uuidLen-1]
	if key[len(key)-uuidLen-1] != '-' || len(rest) < uuidLen {
		return APIKey{}, fmt.Errorf("notification: malformed API key")
	}
	serviceID := rest[len(rest)-uuidLen:]
	name := strings.TrimSuffix(rest[:len(rest)-uuidLen], "-")
	return APIKey{Name: name, ServiceID: serviceID, Secret: secret}, nil
}

// BearerToken signs a short lived HS256 token for the key.
func (k APIKey) BearerToken(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": k.ServiceID,
		"iat": now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(k.Secret))
}

// ---------------------------------------------------------------------------
// Notify client
// ---------------------------------------------------------------------------

// NotifyClient is an EmailSender backed by the Notify REST API.
type NotifyClient struct {
	baseURL string
	key     APIKey
	http    *httpclient.Client
	now     func() time.Time
}

// NewNotifyClient parses apiKey and targets baseURL.
func NewNotifyClient(baseURL, apiKey string, hc *httpclient.Client) (*NotifyClient, error) {
	key, err := ParseAPIKey(apiKey)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &NotifyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		http:    hc,
		now:     time.Now,
	}, nil
}

type notifyResponse struct {
	ID string `json:"id"`
}

type notifyError struct {
	StatusCode int `json:"status_code"`
	Errors     []struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *NotifyClient) SendEmail(ctx context.Context, email Email) (string, error) {
	payload, err := json.Marshal(email)
	if err != nil {
		return "", fmt.Errorf("notification: encode email: %w", err)
	}
	token, err := c.key.BearerToken(c.now())
	if err != nil {
		return "", fmt.Errorf("notification: sign token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/notifications/email", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("notification: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 300 {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		var ne notifyError
		if json.Unmarshal(body, &ne) == nil && len(ne.Errors) > 0 {
			msg += ": " + ne.Errors[0].Error + ": " + ne.Errors[0].Message
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %s", ErrUnavailable, msg)
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, msg)
	}

	var nr notifyResponse
	if err := json.Unmarshal(body, &nr); err != nil {
		return "", fmt.Errorf("notification: decode response: %w", err)
	}
	return nr.ID, nil
}

// ---------------------------------------------------------------------------
// Mock Sender (test double)
// ---------------------------------------------------------------------------

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []Email
	ShouldFail bool
	FailError  error
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, email Email) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, email)
	if m.ShouldFail {
		if m.FailError != nil {
			return "", m.FailError
		}
		return "", ErrUnavailable
	}
	return fmt.Sprintf("mock-%d", len(m.calls)), nil
}

// Calls returns a copy of recorded emails.
func (m *MockEmailSender) Calls() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Email, len(m.calls))
	copy(out, m.calls)
	return out
}
