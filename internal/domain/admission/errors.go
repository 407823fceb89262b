package admission

import (
	"errors"
	"fmt"

	"github.com/hans/hans/internal/platform/hl7v2"
)

// FailureKind classifies why a message could not be turned into a
// notification. Every kind has exactly one HL7 code and severity.
type FailureKind int

const (
	KindUnknown FailureKind = iota
	KindMalformedMessage
	KindMissingSegment
	KindMissingField
	KindMissingNHSNumber
	KindInvalidNHSNumber
	KindInvalidDateTime
	KindMessageTooLarge
	KindUnsupportedMessageType
	KindUnsupportedEvent
	KindUnsupportedPatientClass
	KindUnsupportedAdmissionMethod
	KindQueueUnavailable
	KindManagementUnavailable
)

var kindNames = map[FailureKind]string{
	KindUnknown:                    "unknown",
	KindMalformedMessage:           "malformed_message",
	KindMissingSegment:             "missing_segment",
	KindMissingField:               "missing_field",
	KindMissingNHSNumber:           "missing_nhs_number",
	KindInvalidNHSNumber:           "invalid_nhs_number",
	KindInvalidDateTime:            "invalid_datetime",
	KindMessageTooLarge:            "message_too_large",
	KindUnsupportedMessageType:     "unsupported_message_type",
	KindUnsupportedEvent:           "unsupported_event",
	KindUnsupportedPatientClass:    "unsupported_patient_class",
	KindUnsupportedAdmissionMethod: "unsupported_admission_method",
	KindQueueUnavailable:           "queue_unavailable",
	KindManagementUnavailable:      "management_unavailable",
}

func (k FailureKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("FailureKind(%d)", int(k))
}

// HL7ErrorFor maps a failure kind to the code and severity written to the
// ERR segment.
func HL7ErrorFor(kind FailureKind) (hl7v2.ErrorCode, hl7v2.Severity) {
	switch kind {
	case KindMalformedMessage, KindMissingSegment:
		return hl7v2.SegmentSequenceError, hl7v2.SeverityError
	case KindMissingField:
		return hl7v2.RequiredFieldMissing, hl7v2.SeverityError
	case KindMissingNHSNumber:
		return hl7v2.UnknownKeyIdentifier, hl7v2.SeverityError
	// Bad timestamps (102) and unknown admission methods (103) get their
	// own codes rather than the fatal catch-all.
	case KindInvalidNHSNumber, KindInvalidDateTime:
		return hl7v2.DataTypeError, hl7v2.SeverityError
	case KindMessageTooLarge:
		return hl7v2.ValueTooLong, hl7v2.SeverityError
	case KindUnsupportedMessageType:
		return hl7v2.UnsupportedMessageType, hl7v2.SeverityError
	case KindUnsupportedEvent:
		return hl7v2.UnsupportedEventCode, hl7v2.SeverityError
	case KindUnsupportedAdmissionMethod:
		return hl7v2.TableValueNotFound, hl7v2.SeverityError
	case KindUnsupportedPatientClass, KindQueueUnavailable, KindManagementUnavailable:
		return hl7v2.ApplicationInternalError, hl7v2.SeverityError
	case KindUnknown:
		return hl7v2.ApplicationInternalError, hl7v2.SeverityFatalError
	}
	return hl7v2.ApplicationInternalError, hl7v2.SeverityFatalError
}

// Error is a classified conversion failure. Message is the operator text
// placed in ERR-8.
type Error struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("admission: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("admission: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind FailureKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Classify converts any error raised while handling a message into the
// HL7Error sent back to the sender. Unrecognised errors are fatal.
func Classify(err error) *hl7v2.HL7Error {
	if err == nil {
		return nil
	}
	kind, message := classify(err)
	code, severity := HL7ErrorFor(kind)
	return &hl7v2.HL7Error{Code: code, Severity: severity, Message: message}
}

func classify(err error) (FailureKind, string) {
	var (
		admErr    *Error
		segErr    *hl7v2.MissingSegmentError
		fieldErr  *hl7v2.MissingFieldError
		malformed *hl7v2.MalformedSegmentError
	)
	switch {
	case errors.As(err, &admErr):
		message := admErr.Message
		if message == "" && admErr.Err != nil {
			message = admErr.Err.Error()
		}
		return admErr.Kind, message
	case errors.As(err, &segErr):
		return KindMissingSegment, fmt.Sprintf("Required segment '%s' was missing.", segErr.Segment)
	case errors.As(err, &fieldErr):
		return KindMissingField, missingFieldMessage(fieldErr.Path)
	case errors.As(err, &malformed):
		return KindMalformedMessage, malformed.Error()
	case errors.Is(err, hl7v2.ErrEmptyMessage):
		return KindMalformedMessage, hl7v2.ErrEmptyMessage.Error()
	case errors.Is(err, hl7v2.ErrNoHeader):
		return KindMalformedMessage, hl7v2.ErrNoHeader.Error()
	}
	return KindUnknown, err.Error()
}

func missingFieldMessage(path string) string {
	return "Required field was missing: " + path
}
