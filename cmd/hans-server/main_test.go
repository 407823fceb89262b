package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hans/hans/internal/config"
	"github.com/hans/hans/internal/domain/admission"
	"github.com/hans/hans/internal/domain/subscription"
	"github.com/hans/hans/internal/platform/fhir"
	"github.com/hans/hans/internal/platform/health"
	"github.com/hans/hans/internal/platform/queue"
)

const sampleADT = "MSH|^~\\&|SIMHOSP|SFAC|RAPP|RFAC|20200508130643||ADT^A01|5|T|2.3|||AL||44|ASCII\r" +
	"EVN|A01|20200508130643|||C006^Wolf^Kathy^^^Dr^^^DRNBR^PRSNL^^^ORGDR|\r" +
	"PID|1|2590157853^^^SIMULATOR MRN^MRN|2590157853^^^SIMULATOR MRN^MRN~2478684691^^^NHSNBR^NHSNMBR||Esterkin^AKI Scenario 6^^^Miss^^CURRENT||19890118000000|F|||170 Juice Place^^London^^RW21 6KC^GBR^HOME||020 5368 1665^HOME|||||||||R^Other - Chinese^^^||||||||\r" +
	"PD1|||FAMILY PRACTICE^^12345|\r" +
	"PV1|1|I|RenalWard^MainRoom^Bed 1^Simulated Hospital^^BED^MainBuilding^5|28b|||C006^Wolf^Kathy^^^Dr^^^DRNBR^PRSNL^^^ORGDR|||MED|||||||||6145914547062969032^^^^visitid||||||||||||||||||||||ARRIVED|||20200508130643||"

func testConfig() *config.Config {
	return &config.Config{
		Env:          "test",
		HL7MaxBody:   "1M",
		CORSOrigins:  []string{"*"},
		QueueBackend: config.QueueMemory,
		QueueName:    "hans-bundles",
	}
}

func testService(t *testing.T, q queue.Publisher) *admission.Service {
	t.Helper()
	builder, err := newBuilder("")
	if err != nil {
		t.Fatalf("builder: %v", err)
	}
	return admission.NewService(builder, q, zerolog.Nop())
}

func TestServer_ConvertsOverHTTP(t *testing.T) {
	q := queue.NewMemory()
	e := newServer(testConfig(), testService(t, q), nil, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/hl7/v2/er7", strings.NewReader(sampleADT))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "\rMSA|AA|5") {
		t.Errorf("expected AA, got %q", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
	if q.Len() != 1 {
		t.Errorf("expected one published bundle, got %d", q.Len())
	}
}

func TestServer_Health(t *testing.T) {
	q := queue.NewMemory()
	e := newServer(testConfig(), testService(t, q), nil, map[string]health.Checker{"queue": q}, zerolog.Nop())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	_ = q.Close()
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after the queue closed, got %d", rec.Code)
	}
}

type stubPDS struct{}

func (stubPDS) Patient(context.Context, string) (*fhir.Patient, error) {
	return &fhir.Patient{ResourceType: "Patient"}, nil
}

func TestServer_SubscriptionRoutes(t *testing.T) {
	svc := testService(t, queue.NewMemory())

	without := newServer(testConfig(), svc, nil, nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	without.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/Subscription/not-a-uuid", nil))
	if rec.Code == http.StatusInternalServerError {
		t.Error("expected subscription routes to be absent without PDS")
	}

	with := newServer(testConfig(), svc, subscription.NewService(stubPDS{}, zerolog.Nop()), nil, zerolog.Nop())
	rec = httptest.NewRecorder()
	with.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/Subscription/not-a-uuid", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for a bad id, got %d", rec.Code)
	}

	big := bytes.Repeat([]byte("x"), 128<<10)
	rec = httptest.NewRecorder()
	with.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/Subscription", bytes.NewReader(big)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for an oversized body, got %d", rec.Code)
	}

	// The ER7 root route still works alongside the subscription routes.
	rec = httptest.NewRecorder()
	with.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(sampleADT)))
	if !strings.Contains(rec.Body.String(), "MSA|AA|5") {
		t.Errorf("expected AA on /, got %q", rec.Body.String())
	}
}

func TestRunConvert(t *testing.T) {
	var out bytes.Buffer
	if err := runConvert(strings.NewReader(sampleADT), &out, "", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected MSH, MSA and the bundle, got %q", out.String())
	}
	if !strings.HasPrefix(lines[0], "MSH|") || lines[1] != "MSA|AA|5" {
		t.Errorf("unexpected ACK lines %q", lines[:2])
	}

	var b fhir.Bundle
	if err := json.Unmarshal([]byte(lines[2]), &b); err != nil {
		t.Fatalf("bundle output is not JSON: %v", err)
	}
	if len(b.Entry) != 5 {
		t.Errorf("expected 5 entries, got %d", len(b.Entry))
	}
}

func TestRunConvert_Rejected(t *testing.T) {
	var out bytes.Buffer
	msg := strings.Replace(sampleADT, "ADT^A01", "ADT^A03", 1)
	err := runConvert(strings.NewReader(msg), &out, "", false)
	if err == nil {
		t.Fatal("expected an error for a rejected message")
	}
	if !strings.Contains(out.String(), "ERR|||201|E") {
		t.Errorf("expected 201 NAK, got %q", out.String())
	}
}

func TestNewQueue_DefaultsToMemory(t *testing.T) {
	q, err := newQueue(context.Background(), testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := q.(*queue.Memory); !ok {
		t.Errorf("expected memory queue, got %T", q)
	}
}
