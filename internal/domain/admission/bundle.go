package admission

import (
	"github.com/google/uuid"

	"github.com/hans/hans/internal/platform/fhir"
	"github.com/hans/hans/internal/platform/hl7v2"
	"github.com/hans/hans/pkg/fhirmodels"
)

// Entry positions in an activity notification bundle.
const (
	EntryMessageHeader = iota
	EntryPatient
	EntryLocation
	EntryOrganization
	EntryEncounter
)

// IDs are the resource ids of one bundle. Each conversion gets its own set.
type IDs struct {
	MessageHeader string
	Patient       string
	Location      string
	Organization  string
	Encounter     string
}

// NewIDs returns a fresh set of random UUIDs.
func NewIDs() IDs {
	return IDs{
		MessageHeader: uuid.NewString(),
		Patient:       uuid.NewString(),
		Location:      uuid.NewString(),
		Organization:  uuid.NewString(),
		Encounter:     uuid.NewString(),
	}
}

// Conversion is a built bundle plus the patient keys needed for the care
// provider lookup.
type Conversion struct {
	Bundle    *fhir.Bundle
	NHSNumber string
	BirthDate string
}

// Builder turns ADT^A01 messages into activity notification bundles.
type Builder struct {
	meta   Metadata
	tables Tables
	newIDs func() IDs
}

type BuilderOption func(*Builder)

// WithIDs overrides id generation.
func WithIDs(fn func() IDs) BuilderOption {
	return func(b *Builder) { b.newIDs = fn }
}

func NewBuilder(meta Metadata, tables Tables, opts ...BuilderOption) *Builder {
	b := &Builder{meta: meta, tables: tables, newIDs: NewIDs}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build converts msg. Resources are built in bundle order and the first
// failure is returned: EVN, then PID (NHS Number, family name, given names,
// birth date), then PV1 (location, patient class, admit time, admission
// method).
func (b *Builder) Build(msg *hl7v2.Message) (*Conversion, error) {
	ids := b.newIDs()
	x := NewExtractor(msg)

	header, err := b.messageHeader(x, ids)
	if err != nil {
		return nil, err
	}
	patient, err := b.patient(x, ids)
	if err != nil {
		return nil, err
	}
	location, err := b.location(x, ids)
	if err != nil {
		return nil, err
	}
	organization := b.organization(ids)
	encounter, err := b.encounter(x, ids)
	if err != nil {
		return nil, err
	}

	bundle := &fhir.Bundle{
		ResourceType: "Bundle",
		Meta:         fhir.ProfileMeta(fhirmodels.ProfileBundle),
		Type:         fhirmodels.BundleTypeMessage,
	}
	resources := []struct {
		id       string
		resource interface{}
	}{
		{ids.MessageHeader, header},
		{ids.Patient, patient},
		{ids.Location, location},
		{ids.Organization, organization},
		{ids.Encounter, encounter},
	}
	for _, r := range resources {
		entry, err := fhir.NewEntry(fhir.URN(r.id), r.resource)
		if err != nil {
			return nil, err
		}
		bundle.Entry = append(bundle.Entry, entry)
	}

	return &Conversion{
		Bundle:    bundle,
		NHSNumber: patient.Identifier[0].Value,
		BirthDate: patient.BirthDate,
	}, nil
}

func (b *Builder) messageHeader(x *Extractor, ids IDs) (*fhir.MessageHeader, error) {
	event, err := x.EventTypeCode()
	if err != nil {
		return nil, err
	}
	return &fhir.MessageHeader{
		ResourceType: "MessageHeader",
		ID:           ids.MessageHeader,
		Meta:         fhir.ProfileMeta(fhirmodels.ProfileMessageHeader),
		EventCoding:  fhir.Coding{System: fhirmodels.SystemV2EventType, Code: event},
		Source:       fhir.MessageSource{Endpoint: fhirmodels.SourceEndpoint},
		Responsible:  &fhir.Reference{Reference: fhir.URN(ids.Organization)},
		Focus:        []fhir.Reference{{Reference: fhir.URN(ids.Encounter)}},
	}, nil
}

func (b *Builder) patient(x *Extractor, ids IDs) (*fhir.Patient, error) {
	nhsNumber, err := x.NHSNumber()
	if err != nil {
		return nil, err
	}
	family, err := x.FamilyName()
	if err != nil {
		return nil, err
	}
	given, err := x.GivenNames()
	if err != nil {
		return nil, err
	}
	birthDate, err := x.BirthDate()
	if err != nil {
		return nil, err
	}

	return &fhir.Patient{
		ResourceType: "Patient",
		ID:           ids.Patient,
		Meta:         fhir.ProfileMeta(fhirmodels.ProfilePatient),
		Identifier: []fhir.Identifier{{
			System: fhirmodels.SystemNHSNumber,
			Value:  nhsNumber,
			Extension: []fhir.Extension{{
				URL: fhirmodels.ExtensionNHSNumberVerification,
				ValueCodeableConcept: &fhir.CodeableConcept{Coding: []fhir.Coding{{
					System:  fhirmodels.SystemNHSNumberVerification,
					Code:    fhirmodels.NHSNumberVerifiedCode,
					Display: fhirmodels.NHSNumberVerifiedDisplay,
				}}},
			}},
		}},
		Name:      []fhir.HumanName{{Use: fhirmodels.NameUseUsual, Family: family, Given: given}},
		BirthDate: birthDate,
	}, nil
}

func (b *Builder) location(x *Extractor, ids IDs) (*fhir.Location, error) {
	pointOfCare, facility, err := x.PatientLocation()
	if err != nil {
		return nil, err
	}
	return &fhir.Location{
		ResourceType: "Location",
		ID:           ids.Location,
		Meta:         fhir.ProfileMeta(fhirmodels.ProfileLocation),
		Identifier:   []fhir.Identifier{{System: fhirmodels.SystemODSSiteCode, Value: b.meta.LocationID}},
		Status:       fhirmodels.LocationStatusActive,
		Name:         pointOfCare + ", " + facility,
		Address: &fhir.Address{
			Line:       []string{pointOfCare, facility},
			City:       b.meta.City,
			PostalCode: b.meta.PostalCode,
		},
	}, nil
}

func (b *Builder) organization(ids IDs) *fhir.Organization {
	return &fhir.Organization{
		ResourceType: "Organization",
		ID:           ids.Organization,
		Meta:         fhir.ProfileMeta(fhirmodels.ProfileOrganization),
		Identifier:   []fhir.Identifier{{System: fhirmodels.SystemODSOrganizationCode, Value: b.meta.OrganizationID}},
		Name:         b.meta.OrganizationName,
	}
}

func (b *Builder) encounter(x *Extractor, ids IDs) (*fhir.Encounter, error) {
	class, err := x.PatientClass()
	if err != nil {
		return nil, err
	}
	classCoding, err := b.tables.EncounterClass(class)
	if err != nil {
		return nil, err
	}
	start, err := x.TimeOfAdmission()
	if err != nil {
		return nil, err
	}
	admissionType, err := x.AdmissionType()
	if err != nil {
		return nil, err
	}
	method, err := b.tables.AdmissionMethod(admissionType)
	if err != nil {
		return nil, err
	}

	return &fhir.Encounter{
		ResourceType: "Encounter",
		ID:           ids.Encounter,
		Meta:         fhir.ProfileMeta(fhirmodels.ProfileEncounter),
		Extension: []fhir.Extension{{
			URL:                  fhirmodels.ExtensionAdmissionMethod,
			ValueCodeableConcept: &fhir.CodeableConcept{Coding: []fhir.Coding{method}},
		}},
		Status:  fhirmodels.EncounterStatusInProgress,
		Class:   classCoding,
		Subject: &fhir.Reference{Reference: fhir.URN(ids.Patient)},
		Period:  &fhir.Period{Start: start},
		Location: []fhir.EncounterLocation{{
			Location: fhir.Reference{Reference: fhir.URN(ids.Location)},
			Status:   fhirmodels.LocationStatusActive,
		}},
	}, nil
}
