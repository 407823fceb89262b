package subscription

import (
	"errors"
	"strings"

	"github.com/hans/hans/internal/platform/fhir"
	"github.com/hans/hans/internal/platform/nhs"
	"github.com/hans/hans/pkg/fhirmodels"
)

// SubscriptionIDHeader carries the id of a created subscription.
const SubscriptionIDHeader = "X-Subscription-Id"

// ValidationError is a request the caller must correct. Code is the
// OperationOutcome issue type.
type ValidationError struct {
	Code        string
	Diagnostics string
}

func (e *ValidationError) Error() string { return "subscription: " + e.Diagnostics }

func invalid(diagnostics string) error {
	return &ValidationError{Code: fhir.IssueTypeValue, Diagnostics: diagnostics}
}

// Request is the patient a care provider subscribes to. Only the first
// identifier and name are read.
type Request struct {
	NHSNumber string
	Name      fhir.HumanName
	BirthDate string
}

// ParseRequest validates a FHIR Patient subscription body.
func ParseRequest(p *fhir.Patient) (*Request, error) {
	if p == nil || p.ResourceType != "Patient" {
		return nil, invalid("Expected a Patient resource")
	}
	if len(p.Identifier) == 0 {
		return nil, invalid("Patient identifier is required")
	}
	id := p.Identifier[0]
	if !traceRequired(id) {
		return nil, invalid("NHS Number verification status must be " +
			fhirmodels.NHSNumberTraceRequiredCode + " (" + fhirmodels.NHSNumberTraceRequiredDisplay + ")")
	}
	if !nhs.IsValidNumber(id.Value) {
		return nil, invalid("NHS Number provided was invalid")
	}
	if len(p.Name) == 0 || strings.TrimSpace(p.Name[0].Family) == "" || len(p.Name[0].Given) == 0 {
		return nil, invalid("Patient name with family and given names is required")
	}
	if p.BirthDate == "" {
		return nil, invalid("Patient birthDate is required")
	}
	return &Request{NHSNumber: id.Value, Name: p.Name[0], BirthDate: p.BirthDate}, nil
}

func traceRequired(id fhir.Identifier) bool {
	for _, ext := range id.Extension {
		if ext.URL != fhirmodels.ExtensionNHSNumberVerification || ext.ValueCodeableConcept == nil {
			continue
		}
		for _, c := range ext.ValueCodeableConcept.Coding {
			if c.Code == fhirmodels.NHSNumberTraceRequiredCode && c.Display == fhirmodels.NHSNumberTraceRequiredDisplay {
				return true
			}
		}
	}
	return false
}

// Verification failures.
var (
	ErrBirthDateMismatch = errors.New("subscription: date of birth did not match")
	ErrNameMismatch      = errors.New("subscription: name did not match")
	ErrPatientNotFound   = errors.New("subscription: patient not found on PDS")
	ErrPDSUnavailable    = errors.New("subscription: PDS lookup failed")
	ErrInvalidID         = errors.New("subscription: id is not a valid UUID")
)
