package pds

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/hans/hans/internal/platform/httpclient"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

func pemEncode(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
}

func singleAttempt() *httpclient.Client {
	return httpclient.New(httpclient.WithRetry(httpclient.RetryConfig{MaxAttempts: 1}))
}

// tokenServer issues "token-N" and verifies each client assertion.
func tokenServer(t *testing.T, key *rsa.PrivateKey, calls *int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("unexpected grant_type %q", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("client_assertion_type") != clientAssertionType {
			t.Errorf("unexpected assertion type %q", r.PostForm.Get("client_assertion_type"))
		}

		parsed, err := jwt.Parse(r.PostForm.Get("client_assertion"), func(tok *jwt.Token) (interface{}, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS512"}), jwt.WithAudience(srv.URL), jwt.WithIssuer("client-1"))
		if err != nil {
			t.Errorf("invalid client assertion: %v", err)
		} else if parsed.Header["kid"] != "int-1" {
			t.Errorf("expected kid int-1, got %v", parsed.Header["kid"])
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":"599","token_type":"Bearer","issued_at":"%d"}`,
			n, time.Now().UnixMilli())
	}))
	return srv
}

func TestParsePrivateKey(t *testing.T) {
	key := generateTestKey(t)
	raw := pemEncode(key)

	for name, input := range map[string]string{
		"pem":    raw,
		"base64": base64.StdEncoding.EncodeToString([]byte(raw)),
	} {
		got, err := ParsePrivateKey(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if !got.Equal(key) {
			t.Errorf("%s: parsed key does not match", name)
		}
	}

	if _, err := ParsePrivateKey("not a key"); err == nil {
		t.Error("expected error for garbage key")
	}
}

func TestClientCredentials_CachesToken(t *testing.T) {
	key := generateTestKey(t)
	var calls int32
	srv := tokenServer(t, key, &calls)
	defer srv.Close()

	cc := NewClientCredentials(srv.URL, "client-1", "int-1", key, singleAttempt())
	for i := 0; i < 3; i++ {
		tok, err := cc.Token(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok != "token-1" {
			t.Errorf("expected cached token-1, got %q", tok)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 token request, got %d", calls)
	}
}

func TestClientCredentials_RefreshesExpiredToken(t *testing.T) {
	key := generateTestKey(t)
	var calls int32
	srv := tokenServer(t, key, &calls)
	defer srv.Close()

	cc := NewClientCredentials(srv.URL, "client-1", "int-1", key, singleAttempt())
	if _, err := cc.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	tok, err := cc.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "token-2" {
		t.Errorf("expected refreshed token-2, got %q", tok)
	}
}

func TestClientCredentials_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cc := NewClientCredentials(srv.URL, "client-1", "int-1", generateTestKey(t), singleAttempt())
	if _, err := cc.Token(context.Background()); !errors.Is(err, ErrTokenRequest) {
		t.Errorf("expected ErrTokenRequest, got %v", err)
	}
}

func TestClient_Patient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/personal-demographics/FHIR/R4/Patient/9449306621" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sandbox" {
			t.Errorf("unexpected Authorization %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header")
		}
		w.Write([]byte(`{"resourceType":"Patient","birthDate":"2010-10-22","name":[{"use":"usual","family":"Smith","given":["Jane","Anne"]}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("sandbox"), singleAttempt(), zerolog.Nop())
	p, err := c.Patient(context.Background(), "9449306621")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.BirthDate != "2010-10-22" {
		t.Errorf("expected birthDate 2010-10-22, got %q", p.BirthDate)
	}
	if len(p.Name) != 1 || p.Name[0].Family != "Smith" || p.Name[0].Given[0] != "Jane" {
		t.Errorf("unexpected name %+v", p.Name)
	}
}

func TestClient_PatientErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"404", http.StatusNotFound, ``, ErrPatientNotFound},
		{"400", http.StatusBadRequest, ``, ErrInvalidNHSNumber},
		{"invalidated", http.StatusNotFound, `{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"processing","details":{"coding":[{"code":"INVALIDATED_RESOURCE"}]}}]}`, ErrPatientNotFound},
		{"invalid id", http.StatusBadRequest, `{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"value","details":{"coding":[{"code":"INVALID_RESOURCE_ID"}]}}]}`, ErrInvalidNHSNumber},
		{"403", http.StatusForbidden, ``, ErrUnexpectedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, StaticToken("x"), singleAttempt(), zerolog.Nop())
			if _, err := c.Patient(context.Background(), "9449306621"); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
