package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hans/hans/internal/platform/fhir"
	"github.com/hans/hans/internal/platform/management"
	"github.com/hans/hans/internal/platform/nhs"
	"github.com/hans/hans/internal/platform/notification"
	"github.com/hans/hans/internal/platform/queue"
)

// Admission reads the fields of a published bundle that go into the care
// provider email.
type Admission struct {
	NHSNumber   string
	GivenName   string
	FamilyName  string
	BirthDate   string
	Location    string
	AdmittedAt  time.Time
	EncounterID string
}

// ErrMalformedBundle is returned when a queued bundle lacks the resources
// or fields the email needs.
var ErrMalformedBundle = errors.New("admission: malformed bundle")

// ReadAdmission decodes the Patient, Location and Encounter entries of a
// bundle produced by Builder.
func ReadAdmission(body []byte) (*Admission, error) {
	var bundle fhir.Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}

	var (
		patient   fhir.Patient
		location  fhir.Location
		encounter fhir.Encounter
	)
	if err := bundle.DecodeEntry(EntryPatient, "Patient", &patient); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}
	if err := bundle.DecodeEntry(EntryLocation, "Location", &location); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}
	if err := bundle.DecodeEntry(EntryEncounter, "Encounter", &encounter); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}

	if len(patient.Identifier) == 0 || patient.Identifier[0].Value == "" {
		return nil, fmt.Errorf("%w: patient has no NHS Number", ErrMalformedBundle)
	}
	if len(patient.Name) == 0 || len(patient.Name[0].Given) == 0 {
		return nil, fmt.Errorf("%w: patient has no name", ErrMalformedBundle)
	}
	if patient.BirthDate == "" {
		return nil, fmt.Errorf("%w: patient has no birth date", ErrMalformedBundle)
	}
	if encounter.Period == nil {
		return nil, fmt.Errorf("%w: encounter has no period", ErrMalformedBundle)
	}
	admittedAt, err := time.Parse(time.RFC3339, encounter.Period.Start)
	if err != nil {
		return nil, fmt.Errorf("%w: encounter start: %v", ErrMalformedBundle, err)
	}

	return &Admission{
		NHSNumber:   patient.Identifier[0].Value,
		GivenName:   patient.Name[0].Given[0],
		FamilyName:  patient.Name[0].Family,
		BirthDate:   patient.BirthDate,
		Location:    location.Name,
		AdmittedAt:  admittedAt,
		EncounterID: encounter.ID,
	}, nil
}

// Email renders the admission template for a care provider.
func (a *Admission) Email(cp *management.CareProvider) notification.Email {
	return notification.Email{
		To:         cp.Email,
		TemplateID: notification.TemplateAdmission,
		Personalisation: map[string]string{
			"subj_given_name":  a.GivenName,
			"subj_family_name": a.FamilyName,
			"recp_given_name":  cp.GivenName,
			"subj_DOB":         a.BirthDate,
			"event_loc":        a.Location,
			"event_time_str":   a.AdmittedAt.Format("15:04"),
			"event_date_str":   a.AdmittedAt.Format("02/01/2006"),
		},
		Reference: a.EncounterID,
	}
}

// Notifier emails the care provider of each admitted patient. Handle is a
// queue.Handler.
type Notifier struct {
	lookup   management.Lookup
	sender   notification.EmailSender
	pseudoID func(nhsNumber, birthDate string) (string, error)
	logger   zerolog.Logger
}

func NewNotifier(lookup management.Lookup, sender notification.EmailSender, logger zerolog.Logger) *Notifier {
	return &Notifier{
		lookup:   lookup,
		sender:   sender,
		pseudoID: nhs.PseudoID,
		logger:   logger.With().Str("component", "notifier").Logger(),
	}
}

// Handle processes one queued bundle. Malformed bundles and patients with
// no care provider are dropped; outages are retried.
func (n *Notifier) Handle(ctx context.Context, body []byte) error {
	adm, err := ReadAdmission(body)
	if err != nil {
		n.logger.Error().Err(err).Msg("dropping malformed bundle")
		return nil
	}

	pseudoID, err := n.pseudoID(adm.NHSNumber, adm.BirthDate)
	if err != nil {
		return err
	}

	cp, err := n.lookup.CareProviderLocation(ctx, pseudoID)
	switch {
	case errors.Is(err, management.ErrCareProviderNotFound):
		n.logger.Info().Str("encounter_id", adm.EncounterID).Msg("no care provider registered, skipping email")
		return nil
	case errors.Is(err, management.ErrManagementInterfaceUnavailable):
		n.logger.Warn().Err(err).Msg("management interface unavailable, will retry")
		return queue.Retry(err)
	case err != nil:
		return err
	}

	id, err := n.sender.SendEmail(ctx, adm.Email(cp))
	if err != nil {
		if errors.Is(err, notification.ErrUnavailable) {
			n.logger.Warn().Err(err).Msg("notify unavailable, will retry")
			return queue.Retry(err)
		}
		n.logger.Error().Err(err).Str("encounter_id", adm.EncounterID).Msg("email rejected")
		return err
	}

	n.logger.Info().
		Str("encounter_id", adm.EncounterID).
		Str("notification_id", id).
		Msg("care provider emailed")
	return nil
}
