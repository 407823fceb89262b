package pds

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hans/hans/internal/platform/httpclient"
)

const (
	assertionLifetime   = 5 * time.Minute
	expirySkew          = 30 * time.Second
	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// ErrTokenRequest is returned when the token endpoint rejects the client
// assertion or returns an unusable reply.
var ErrTokenRequest = errors.New("pds: token request failed")

// TokenSource returns a bearer token for the PDS API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientCredentials implements the signed-JWT client credentials grant and
// caches the access token until shortly before it expires.
type ClientCredentials struct {
	tokenURL string
	clientID string
	keyID    string
	key      *rsa.PrivateKey
	http     *httpclient.Client
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClientCredentials builds a token source that signs assertions with key.
func NewClientCredentials(tokenURL, clientID, keyID string, key *rsa.PrivateKey, hc *httpclient.Client) *ClientCredentials {
	return &ClientCredentials{
		tokenURL: tokenURL,
		clientID: clientID,
		keyID:    keyID,
		key:      key,
		http:     hc,
		now:      time.Now,
	}
}

// ParsePrivateKey accepts a PEM RSA key, either raw or base64 encoded.
func ParsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	pem := strings.TrimSpace(raw)
	if !strings.HasPrefix(pem, "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(pem)
		if err != nil {
			return nil, fmt.Errorf("pds: private key is neither PEM nor base64: %w", err)
		}
		pem = string(decoded)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("pds: parse private key: %w", err)
	}
	return key, nil
}

// Assertion signs a fresh client assertion.
func (c *ClientCredentials) Assertion() (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"iss": c.clientID,
		"sub": c.clientID,
		"aud": c.tokenURL,
		"jti": uuid.NewString(),
		"exp": jwt.NewNumericDate(now.Add(assertionLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS512, claims)
	token.Header["kid"] = c.keyID
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("pds: sign client assertion: %w", err)
	}
	return signed, nil
}

// Token returns the cached token or requests a new one.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	assertion, err := c.Assertion()
	if err != nil {
		return "", err
	}
	resp, err := c.request(ctx, assertion)
	if err != nil {
		return "", err
	}

	issued := c.now()
	if resp.IssuedAt > 0 {
		issued = time.UnixMilli(int64(resp.IssuedAt))
	}
	c.token = resp.AccessToken
	c.expiresAt = issued.Add(time.Duration(resp.ExpiresIn)*time.Second - expirySkew)
	return c.token, nil
}

// flexInt decodes both JSON numbers and numeric strings; the token endpoint
// sends expires_in and issued_at as strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresIn   flexInt `json:"expires_in"`
	TokenType   string  `json:"token_type"`
	IssuedAt    flexInt `json:"issued_at"`
}

func (c *ClientCredentials) request(ctx context.Context, assertion string) (*tokenResponse, error) {
	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("pds: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrTokenRequest, resp.StatusCode)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrTokenRequest, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrTokenRequest)
	}
	return &tr, nil
}

// StaticToken is a TokenSource for sandbox environments that need no auth.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }
