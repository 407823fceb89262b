package management

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hans/hans/internal/platform/httpclient"
)

func newTestClient(url string) *Client {
	hc := httpclient.New(httpclient.WithRetry(httpclient.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}))
	return NewClient(url, hc, zerolog.Nop())
}

func TestCareProviderLocation_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/care-provider-location/_search/" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		if got := r.PostForm.Get("_careRecipientPseudoId"); got != "abc123" {
			t.Errorf("expected pseudo id 'abc123', got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"given_name":"Sunny Care","email":"care@example.com"}`))
	}))
	defer srv.Close()

	cp, err := newTestClient(srv.URL+"/").CareProviderLocation(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.GivenName != "Sunny Care" || cp.Email != "care@example.com" {
		t.Errorf("unexpected care provider %+v", cp)
	}
}

func TestCareProviderLocation_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CareProviderLocation(context.Background(), "abc123")
	if !errors.Is(err, ErrCareProviderNotFound) {
		t.Errorf("expected ErrCareProviderNotFound, got %v", err)
	}
}

func TestCareProviderLocation_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CareProviderLocation(context.Background(), "abc123")
	if !errors.Is(err, ErrManagementInterfaceUnavailable) {
		t.Errorf("expected ErrManagementInterfaceUnavailable, got %v", err)
	}
}

func TestCareProviderLocation_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).CareProviderLocation(context.Background(), "abc123")
	if !errors.Is(err, ErrManagementInterfaceUnavailable) {
		t.Errorf("expected ErrManagementInterfaceUnavailable, got %v", err)
	}
}

func TestCareProviderLocation_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CareProviderLocation(context.Background(), "abc123")
	if !errors.Is(err, ErrManagementInterfaceUnavailable) {
		t.Errorf("expected ErrManagementInterfaceUnavailable, got %v", err)
	}
}
