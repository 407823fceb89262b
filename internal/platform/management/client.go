// Package management talks to the management interface that maps care
// recipients to the care provider responsible for them.
package management

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hans/hans/internal/platform/httpclient"
)

var (
	// ErrCareProviderNotFound is returned when the management interface has
	// no care provider for the pseudo id.
	ErrCareProviderNotFound = errors.New("management: care provider location not found")
	// ErrManagementInterfaceUnavailable is returned on 5xx or transport
	// failure.
	ErrManagementInterfaceUnavailable = errors.New("management: interface unavailable")
)

// CareProvider is the contact returned for a care recipient.
type CareProvider struct {
	GivenName string `json:"given_name"`
	Email     string `json:"email"`
}

// Lookup resolves a care recipient pseudo id to a care provider.
type Lookup interface {
	CareProviderLocation(ctx context.Context, pseudoID string) (*CareProvider, error)
}

// Client is the HTTP Lookup.
type Client struct {
	baseURL string
	http    *httpclient.Client
	logger  zerolog.Logger
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, hc *httpclient.Client, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger.With().Str("component", "management").Logger(),
	}
}

func (c *Client) CareProviderLocation(ctx context.Context, pseudoID string) (*CareProvider, error) {
	form := url.Values{"_careRecipientPseudoId": {pseudoID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/care-provider-location/_search/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("management: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManagementInterfaceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		c.logger.Warn().Int("status_code", resp.StatusCode).Msg("care provider lookup failed")
		return nil, fmt.Errorf("%w: status %d", ErrManagementInterfaceUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		c.logger.Warn().Int("status_code", resp.StatusCode).Msg("care provider lookup rejected")
		return nil, ErrCareProviderNotFound
	}

	var cp CareProvider
	if err := json.NewDecoder(resp.Body).Decode(&cp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrManagementInterfaceUnavailable, err)
	}
	if cp.Email == "" {
		return nil, fmt.Errorf("%w: response has no email", ErrManagementInterfaceUnavailable)
	}
	return &cp, nil
}
