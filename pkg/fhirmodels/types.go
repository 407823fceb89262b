package fhirmodels

// FHIR code systems, profiles and fixed codes used by activity
// notifications.

// Code systems and identifier systems.
const (
	SystemNHSNumber                = "https://fhir.nhs.uk/Id/nhs-number"
	SystemODSSiteCode              = "https://fhir.nhs.uk/Id/ods-site-code"
	SystemODSOrganizationCode      = "https://fhir.nhs.uk/Id/ods-organization-code"
	SystemV2EventType              = "http://terminology.hl7.org/CodeSystem/v2-0003"
	SystemV2PatientClass           = "http://terminology.hl7.org/CodeSystem/v2-0004"
	SystemV3ActCode                = "http://terminology.hl7.org/CodeSystem/v3-ActCode"
	SystemAdmissionMethodEngland   = "https://fhir.hl7.org.uk/CodeSystem/UKCore-AdmissionMethodEngland"
	SystemNHSNumberVerification    = "https://fhir.hl7.org.uk/CodeSystem/UKCore-NHSNumberVerificationStatusEngland"
	ExtensionNHSNumberVerification = "https://fhir.hl7.org.uk/StructureDefinition/Extension-UKCore-NHSNumberVerificationStatus"
	ExtensionAdmissionMethod       = "https://fhir.hl7.org.uk/StructureDefinition/Extension-UKCore-AdmissionMethod"
)

// Profiles asserted in resource meta.
const (
	activityNotificationBase = "https://fhir.simplifier.net/Hospital-Activity-Notification-Service/StructureDefinition/"

	ProfileBundle        = activityNotificationBase + "ActivityNotification-Bundle"
	ProfileMessageHeader = activityNotificationBase + "ActivityNotification-UKCore-MessageHeader"
	ProfilePatient       = activityNotificationBase + "ActivityNotification-UKCore-Patient"
	ProfileEncounter     = activityNotificationBase + "ActivityNotification-UKCore-Encounter"
	ProfileLocation      = "https://fhir.hl7.org.uk/StructureDefinition/UKCore-Location"
	ProfileOrganization  = "https://fhir.hl7.org.uk/StructureDefinition/UKCore-Organization"
)

// NHS Number verification status codes.
const (
	NHSNumberVerifiedCode         = "01"
	NHSNumberVerifiedDisplay      = "Number present and verified"
	NHSNumberTraceRequiredCode    = "03"
	NHSNumberTraceRequiredDisplay = "Trace required"
)

// EncounterStatusInProgress is the status of a freshly admitted encounter.
const EncounterStatusInProgress = "in-progress"

// EncounterClass codes per FHIR R4 v3-ActCode.
const (
	EncounterClassAmbulatory   = "AMB"
	EncounterClassEmergency    = "EMER"
	EncounterClassInpatient    = "IMP"
	EncounterClassPreAdmission = "PRENC"
)

// Misc fixed values.
const (
	BundleTypeMessage    = "message"
	NameUseUsual         = "usual"
	LocationStatusActive = "active"
	SourceEndpoint       = "http://example.com/fhir/R4"
)
