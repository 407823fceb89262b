package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hans/hans/internal/platform/fhir"
	"github.com/hans/hans/internal/platform/pds"
)

// Service checks subscription requests against the Personal Demographics
// Service.
type Service struct {
	pds    pds.PatientLookup
	newID  func() uuid.UUID
	logger zerolog.Logger
}

func NewService(lookup pds.PatientLookup, logger zerolog.Logger) *Service {
	return &Service{
		pds:    lookup,
		newID:  uuid.New,
		logger: logger.With().Str("component", "subscription").Logger(),
	}
}

// Subscribe verifies the patient and returns the new subscription id.
func (s *Service) Subscribe(ctx context.Context, p *fhir.Patient) (uuid.UUID, error) {
	req, err := ParseRequest(p)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.VerifyPatient(ctx, req); err != nil {
		return uuid.Nil, err
	}
	id := s.newID()
	s.logger.Info().Str("subscription_id", id.String()).Msg("subscription created")
	return id, nil
}

// VerifyPatient compares the request with the PDS record: birth dates must
// be equal; family and first given names must match ignoring case.
func (s *Service) VerifyPatient(ctx context.Context, req *Request) error {
	record, err := s.pds.Patient(ctx, req.NHSNumber)
	switch {
	case errors.Is(err, pds.ErrPatientNotFound):
		return ErrPatientNotFound
	case errors.Is(err, pds.ErrInvalidNHSNumber):
		return invalid("NHS Number provided was invalid")
	case err != nil:
		return fmt.Errorf("%w: %v", ErrPDSUnavailable, err)
	}

	if record.BirthDate != req.BirthDate {
		return ErrBirthDateMismatch
	}
	if len(record.Name) == 0 || !namesMatch(req.Name, record.Name[0]) {
		return ErrNameMismatch
	}
	return nil
}

func namesMatch(a, b fhir.HumanName) bool {
	if !strings.EqualFold(strings.TrimSpace(a.Family), strings.TrimSpace(b.Family)) {
		return false
	}
	if len(a.Given) == 0 || len(b.Given) == 0 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(a.Given[0]), strings.TrimSpace(b.Given[0]))
}

// Unsubscribe accepts any well formed subscription id.
func (s *Service) Unsubscribe(_ context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ErrInvalidID
	}
	s.logger.Info().Str("subscription_id", parsed.String()).Msg("subscription deleted")
	return nil
}
