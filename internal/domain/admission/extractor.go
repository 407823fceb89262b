package admission

import (
	"errors"
	"strings"

	"github.com/hans/hans/internal/platform/hl7v2"
	"github.com/hans/hans/internal/platform/nhs"
)

// nhsNumberTag marks an identifier as an NHS Number in PID-2 and PID-3.
const nhsNumberTag = "NHSNMBR"

var (
	pathEventType     = hl7v2.Path("EVN").Field(1)
	pathPatientID     = hl7v2.Path("PID").Field(2)
	pathIdentifiers   = hl7v2.Path("PID").Field(3)
	pathFamilyName    = hl7v2.Path("PID").Field(5).Component(0)
	pathGivenName     = hl7v2.Path("PID").Field(5).Component(1)
	pathMiddleNames   = hl7v2.Path("PID").Field(5).Component(2)
	pathDateOfBirth   = hl7v2.Path("PID").Field(7)
	pathPatientClass  = hl7v2.Path("PV1").Field(2)
	pathPointOfCare   = hl7v2.Path("PV1").Field(3).Component(0)
	pathFacility      = hl7v2.Path("PV1").Field(3).Component(3)
	pathAdmissionType = hl7v2.Path("PV1").Field(4)
	pathAdmitTime     = hl7v2.Path("PV1").Field(44)
)

// Extractor reads the admission fields out of a parsed ADT message.
// Required fields that are absent or blank fail with a missing field
// error naming the HL7 path.
type Extractor struct {
	msg *hl7v2.Message
}

func NewExtractor(msg *hl7v2.Message) *Extractor {
	return &Extractor{msg: msg}
}

func (e *Extractor) required(p hl7v2.FieldPath) (string, error) {
	v, err := e.msg.Extract(p)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(v) == "" {
		return "", newError(KindMissingField, missingFieldMessage(p.String()), nil)
	}
	return v, nil
}

// optional returns "" for absent components instead of failing. A missing
// segment is still an error.
func (e *Extractor) optional(p hl7v2.FieldPath) (string, error) {
	v, err := e.msg.Extract(p)
	if err != nil {
		var missing *hl7v2.MissingFieldError
		if errors.As(err, &missing) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

// EventTypeCode is EVN-1.
func (e *Extractor) EventTypeCode() (string, error) {
	return e.required(pathEventType)
}

// NHSNumber returns the first NHS Number candidate that passes the
// modulus 11 check. Candidates are the NHSNMBR tagged repetitions of
// PID-3 in order, then a tagged PID-2.
func (e *Extractor) NHSNumber() (string, error) {
	pid, err := e.msg.Extract(hl7v2.Path("PID"))
	if err != nil {
		return "", err
	}
	if !strings.Contains(pid, nhsNumberTag) {
		return "", errMissingNHSNumber()
	}

	candidates := e.identifierCandidates()
	if id, ok := e.legacyCandidate(); ok {
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return "", errMissingNHSNumber()
	}

	for _, c := range candidates {
		if nhs.IsValidNumber(c) {
			return c, nil
		}
	}
	return "", newError(KindInvalidNHSNumber, "NHS Number in message was invalid", nil)
}

func errMissingNHSNumber() error {
	return newError(KindMissingNHSNumber, "NHS Number missing from message", nil)
}

func (e *Extractor) identifierCandidates() []string {
	n, err := e.msg.Repetitions(pathIdentifiers)
	if err != nil {
		return nil
	}
	var out []string
	for i := 0; i < n; i++ {
		rep := pathIdentifiers.Repetition(i)
		if !e.tagged(rep) {
			continue
		}
		id, _ := e.optional(rep.Component(0))
		out = append(out, strings.TrimSpace(id))
	}
	return out
}

func (e *Extractor) legacyCandidate() (string, bool) {
	p := pathPatientID.Repetition(0)
	if !e.tagged(p) {
		return "", false
	}
	id, _ := e.optional(p.Component(0))
	id = strings.TrimSpace(id)
	return id, id != ""
}

// tagged reports whether the CX at p names NHSNMBR as its assigning
// authority or identifier type.
func (e *Extractor) tagged(p hl7v2.FieldPath) bool {
	for _, comp := range []int{3, 4} {
		v, err := e.msg.Extract(p.Component(comp).SubComponent(0))
		if err == nil && v == nhsNumberTag {
			return true
		}
	}
	return false
}

// FamilyName is PID-5.1.
func (e *Extractor) FamilyName() (string, error) {
	v, err := e.required(pathFamilyName)
	return strings.TrimSpace(v), err
}

// GivenNames is PID-5.2 followed by the whitespace separated words of
// PID-5.3. The first given name is required.
func (e *Extractor) GivenNames() ([]string, error) {
	first, err := e.required(pathGivenName)
	if err != nil {
		return nil, err
	}
	middle, err := e.optional(pathMiddleNames)
	if err != nil {
		return nil, err
	}
	return append([]string{strings.TrimSpace(first)}, strings.Fields(middle)...), nil
}

// BirthDate is PID-7 as a FHIR date.
func (e *Extractor) BirthDate() (string, error) {
	v, err := e.required(pathDateOfBirth)
	if err != nil {
		return "", err
	}
	return ToFHIRDate(strings.TrimSpace(v)), nil
}

// PatientLocation returns the PV1-3 point of care and facility.
func (e *Extractor) PatientLocation() (pointOfCare, facility string, err error) {
	if pointOfCare, err = e.required(pathPointOfCare); err != nil {
		return "", "", err
	}
	if facility, err = e.required(pathFacility); err != nil {
		return "", "", err
	}
	return pointOfCare, facility, nil
}

// PatientClass is PV1-2.
func (e *Extractor) PatientClass() (string, error) {
	return e.required(pathPatientClass)
}

// AdmissionType is PV1-4.
func (e *Extractor) AdmissionType() (string, error) {
	return e.required(pathAdmissionType)
}

// TimeOfAdmission is PV1-44 as a FHIR dateTime.
func (e *Extractor) TimeOfAdmission() (string, error) {
	v, err := e.required(pathAdmitTime)
	if err != nil {
		return "", err
	}
	return ToFHIRDateTime(v)
}
