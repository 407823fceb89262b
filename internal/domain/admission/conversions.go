package admission

import (
	"fmt"

	"github.com/hans/hans/internal/config"
	"github.com/hans/hans/internal/platform/fhir"
	"github.com/hans/hans/pkg/fhirmodels"
)

// ToFHIRDate turns an HL7 DT or DTM into a FHIR date using its first eight
// characters. The parts are sliced, not validated.
func ToFHIRDate(hl7 string) string {
	return clamp(hl7, 0, 4) + "-" + clamp(hl7, 4, 6) + "-" + clamp(hl7, 6, 8)
}

// ToFHIRDateTime turns a 14 character HL7 DTM into a UTC FHIR dateTime.
func ToFHIRDateTime(hl7 string) (string, error) {
	if len(hl7) != 14 {
		return "", newError(KindInvalidDateTime,
			fmt.Sprintf("Expected HL7v2 DTM (with time) of length 14 but received length %d instead", len(hl7)), nil)
	}
	return fmt.Sprintf("%s-%s-%sT%s:%s:%sZ",
		hl7[0:4], hl7[4:6], hl7[6:8], hl7[8:10], hl7[10:12], hl7[12:14]), nil
}

func clamp(s string, from, to int) string {
	if from >= len(s) {
		return ""
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}

// Tables are the code lookups applied to PV1. They are read only once
// built and safe to share between goroutines.
type Tables struct {
	EncounterClasses map[string]fhir.Coding
	AdmissionMethods map[string]fhir.Coding
}

// DefaultTables returns the built-in encounter class and admission method
// tables.
func DefaultTables() Tables {
	actCode := func(code, display string) fhir.Coding {
		return fhir.Coding{System: fhirmodels.SystemV3ActCode, Code: code, Display: display}
	}
	patientClass := func(code, display string) fhir.Coding {
		return fhir.Coding{System: fhirmodels.SystemV2PatientClass, Code: code, Display: display}
	}
	return Tables{
		EncounterClasses: map[string]fhir.Coding{
			"E": actCode(fhirmodels.EncounterClassEmergency, "emergency"),
			"I": actCode(fhirmodels.EncounterClassInpatient, "inpatient encounter"),
			"O": actCode(fhirmodels.EncounterClassAmbulatory, "ambulatory"),
			"P": actCode(fhirmodels.EncounterClassPreAdmission, "pre-admission"),
			"R": patientClass("R", "Recurring patient"),
			"B": patientClass("B", "Obstetrics"),
			"C": patientClass("C", "Commercial Account"),
			"N": patientClass("N", "Not Applicable"),
			"U": patientClass("U", "Unknown"),
		},
		AdmissionMethods: map[string]fhir.Coding{
			"28b": {System: fhirmodels.SystemAdmissionMethodEngland, Code: "28"},
		},
	}
}

// EncounterClass looks up a PV1-2 patient class.
func (t Tables) EncounterClass(code string) (fhir.Coding, error) {
	c, ok := t.EncounterClasses[code]
	if !ok {
		return fhir.Coding{}, newError(KindUnsupportedPatientClass,
			fmt.Sprintf("Unsupported patient class %q", code), nil)
	}
	return c, nil
}

// AdmissionMethod looks up a PV1-4 admission type.
func (t Tables) AdmissionMethod(code string) (fhir.Coding, error) {
	c, ok := t.AdmissionMethods[code]
	if !ok {
		return fhir.Coding{}, newError(KindUnsupportedAdmissionMethod,
			fmt.Sprintf("Unsupported admission method %q", code), nil)
	}
	return c, nil
}

// Metadata is the static description of the sending site.
type Metadata struct {
	OrganizationID   string
	OrganizationName string
	LocationID       string
	PostalCode       string
	City             string
}

// FromSite derives the builder's metadata and tables from a site profile.
// Tables the profile leaves empty fall back to DefaultTables.
func FromSite(site config.Site) (Metadata, Tables) {
	meta := Metadata{
		OrganizationID:   site.Organization.ID,
		OrganizationName: site.Organization.Name,
		LocationID:       site.Location.ID,
		PostalCode:       site.Location.PostalCode,
		City:             site.Location.City,
	}

	tables := DefaultTables()
	if len(site.EncounterClasses) > 0 {
		tables.EncounterClasses = codings(site.EncounterClasses)
	}
	if len(site.AdmissionMethods) > 0 {
		tables.AdmissionMethods = codings(site.AdmissionMethods)
	}
	return meta, tables
}

func codings(src map[string]config.CodeMapping) map[string]fhir.Coding {
	out := make(map[string]fhir.Coding, len(src))
	for k, m := range src {
		out[k] = fhir.Coding{System: m.System, Code: m.Code, Display: m.Display}
	}
	return out
}
