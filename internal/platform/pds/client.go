// Package pds queries the Personal Demographics Service for a patient's
// registered name and date of birth.
package pds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hans/hans/internal/platform/fhir"
	"github.com/hans/hans/internal/platform/httpclient"
)

var (
	ErrPatientNotFound    = errors.New("pds: patient not found")
	ErrInvalidNHSNumber   = errors.New("pds: invalid NHS number")
	ErrUnexpectedResponse = errors.New("pds: unexpected response")
)

// PDS error codes carried in OperationOutcome issue details.
const (
	codeInvalidResourceID   = "INVALID_RESOURCE_ID"
	codeResourceNotFound    = "RESOURCE_NOT_FOUND"
	codeInvalidatedResource = "INVALIDATED_RESOURCE"
)

// PatientLookup fetches demographics by NHS number.
type PatientLookup interface {
	Patient(ctx context.Context, nhsNumber string) (*fhir.Patient, error)
}

type Client struct {
	baseURL string
	tokens  TokenSource
	http    *httpclient.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, tokens TokenSource, hc *httpclient.Client, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    hc,
		logger:  logger.With().Str("component", "pds").Logger(),
	}
}

// Patient retrieves the PDS record for nhsNumber.
func (c *Client) Patient(ctx context.Context, nhsNumber string) (*fhir.Patient, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/personal-demographics/FHIR/R4/Patient/" + nhsNumber
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("pds: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status_code", resp.StatusCode).Msg("patient lookup failed")
		return nil, classify(resp)
	}

	var patient fhir.Patient
	if err := json.NewDecoder(resp.Body).Decode(&patient); err != nil {
		return nil, fmt.Errorf("%w: decode patient: %v", ErrUnexpectedResponse, err)
	}
	return &patient, nil
}

// classify maps a failed reply to a sentinel, preferring the
// OperationOutcome detail code over the status.
func classify(resp *http.Response) error {
	var oo fhir.OperationOutcome
	if json.NewDecoder(resp.Body).Decode(&oo) == nil && len(oo.Issue) > 0 {
		if d := oo.Issue[0].Details; d != nil && len(d.Coding) > 0 {
			switch d.Coding[0].Code {
			case codeInvalidResourceID:
				return ErrInvalidNHSNumber
			case codeResourceNotFound, codeInvalidatedResource:
				return ErrPatientNotFound
			}
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrPatientNotFound
	case http.StatusBadRequest:
		return ErrInvalidNHSNumber
	}
	return fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
}
