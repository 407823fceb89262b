package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func serve(t *testing.T, h echo.HandlerFunc) (*httptest.ResponseRecorder, Status) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body Status
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return rec, body
}

func TestHandler_NoChecks(t *testing.T) {
	rec, body := serve(t, Handler("1.0.0", time.Second, nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body.Status != "healthy" || body.Version != "1.0.0" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandler_AllHealthy(t *testing.T) {
	ok := CheckerFunc(func(context.Context) error { return nil })
	rec, body := serve(t, Handler("", time.Second, map[string]Checker{"queue": ok, "cache": ok}))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body.Checks["queue"] != "ok" || body.Checks["cache"] != "ok" {
		t.Errorf("expected both checks ok, got %v", body.Checks)
	}
}

func TestHandler_FailingCheck(t *testing.T) {
	ok := CheckerFunc(func(context.Context) error { return nil })
	down := CheckerFunc(func(context.Context) error { return errors.New("connection refused") })
	rec, body := serve(t, Handler("", time.Second, map[string]Checker{"queue": down, "cache": ok}))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %q", body.Status)
	}
	if body.Checks["queue"] != "connection refused" {
		t.Errorf("expected queue error, got %q", body.Checks["queue"])
	}
	if body.Checks["cache"] != "ok" {
		t.Errorf("expected cache ok, got %q", body.Checks["cache"])
	}
}

func TestHandler_TimeoutReachesChecker(t *testing.T) {
	slow := CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	rec, _ := serve(t, Handler("", 10*time.Millisecond, map[string]Checker{"slow": slow}))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after timeout, got %d", rec.Code)
	}
}
