package hl7v2

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorCode is an HL7 table 0357 message error condition code.
type ErrorCode int

const (
	Accepted                 ErrorCode = 0
	SegmentSequenceError     ErrorCode = 100
	RequiredFieldMissing     ErrorCode = 101
	DataTypeError            ErrorCode = 102
	TableValueNotFound       ErrorCode = 103
	ValueTooLong             ErrorCode = 104
	UnsupportedMessageType   ErrorCode = 200
	UnsupportedEventCode     ErrorCode = 201
	UnsupportedProcessingID  ErrorCode = 202
	UnsupportedVersionID     ErrorCode = 203
	UnknownKeyIdentifier     ErrorCode = 204
	DuplicateKeyIdentifier   ErrorCode = 205
	ApplicationRecordLocked  ErrorCode = 206
	ApplicationInternalError ErrorCode = 207
)

var errorCodeNames = map[ErrorCode]string{
	Accepted:                 "ACCEPTED",
	SegmentSequenceError:     "SEGMENT_SEQUENCE_ERROR",
	RequiredFieldMissing:     "REQUIRED_FIELD_MISSING",
	DataTypeError:            "DATA_TYPE_ERROR",
	TableValueNotFound:       "TABLE_VALUE_NOT_FOUND",
	ValueTooLong:             "VALUE_TOO_LONG",
	UnsupportedMessageType:   "UNSUPPORTED_MESSAGE_TYPE",
	UnsupportedEventCode:     "UNSUPPORTED_EVENT_CODE",
	UnsupportedProcessingID:  "UNSUPPORTED_PROCESSING_ID",
	UnsupportedVersionID:     "UNSUPPORTED_VERSION_ID",
	UnknownKeyIdentifier:     "UNKNOWN_KEY_IDENTIFIER",
	DuplicateKeyIdentifier:   "DUPLICATE_KEY_IDENTIFIER",
	ApplicationRecordLocked:  "APPLICATION_RECORD_LOCKED",
	ApplicationInternalError: "APPLICATION_INTERNAL_ERROR",
}

// String returns the symbolic name of the code.
func (c ErrorCode) String() string {
	if n, ok := errorCodeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Severity is an HL7 table 0516 error severity.
type Severity string

const (
	SeverityError       Severity = "E"
	SeverityFatalError  Severity = "F"
	SeverityInformation Severity = "I"
	SeverityWarning     Severity = "W"
)

// HL7Error describes why an inbound message was rejected.
type HL7Error struct {
	Code     ErrorCode
	Severity Severity
	Message  string
}

func (e *HL7Error) Error() string {
	return fmt.Sprintf("hl7v2: %s (%d/%s): %s", e.Code, int(e.Code), e.Severity, e.Message)
}

// AckTarget identifies who the acknowledgement goes back to.
type AckTarget struct {
	ReceivingApplication string
	ReceivingFacility    string
	ReplyToControlID     string
}

// TargetFor reverses the roles in an inbound header: its sender becomes the
// receiver of the acknowledgement.
func TargetFor(msg *Message) AckTarget {
	h := msg.Header()
	return AckTarget{
		ReceivingApplication: h.SendingApplication(),
		ReceivingFacility:    h.SendingFacility(),
		ReplyToControlID:     h.ControlID(),
	}
}

// CareProviderContact is carried back to the sender in a ZHA segment on
// successful notifications.
type CareProviderContact struct {
	OrgName string
	Email   string
}

// Acknowledgement codes written to MSA-1.
const (
	AckApplicationAccept = "AA"
	AckApplicationReject = "AR"
)

const (
	ackSendingApplication = "HANS"
	ackSendingFacility    = "NHSENGLAND"
	ackMessageType        = "ACK^A01"
	ackTimestampLayout    = "20060102150405"
)

// AckBuilder renders ACK and NAK messages.
type AckBuilder struct {
	now   func() time.Time
	newID func() string
}

// AckOption configures an AckBuilder.
type AckOption func(*AckBuilder)

// WithClock overrides the time source used for MSH-7.
func WithClock(now func() time.Time) AckOption {
	return func(b *AckBuilder) { b.now = now }
}

// WithControlIDs overrides the generator used for MSH-10.
func WithControlIDs(newID func() string) AckOption {
	return func(b *AckBuilder) { b.newID = newID }
}

// NewAckBuilder returns a builder stamping UTC wall time and random UUID
// control ids.
func NewAckBuilder(opts ...AckOption) *AckBuilder {
	b := &AckBuilder{
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build renders the acknowledgement. A non-nil hlErr produces an AR with an
// ERR segment; otherwise an AA, followed by ZHA when contact is given.
// Segments are joined by CR with no trailing separator.
func (b *AckBuilder) Build(target AckTarget, hlErr *HL7Error, contact *CareProviderContact) string {
	acceptCode := AckApplicationAccept
	if hlErr != nil {
		acceptCode = AckApplicationReject
	}

	segments := []string{
		b.header(target),
		strings.Join([]string{"MSA", acceptCode, target.ReplyToControlID}, "|"),
	}

	switch {
	case hlErr != nil:
		segments = append(segments, fmt.Sprintf("ERR|||%d|%s||||%s", int(hlErr.Code), hlErr.Severity, Escape(hlErr.Message)))
	case contact != nil:
		segments = append(segments, strings.Join([]string{"ZHA", Escape(contact.OrgName), Escape(contact.Email)}, "|"))
	}

	return strings.Join(segments, SegmentSeparator)
}

func (b *AckBuilder) header(target AckTarget) string {
	fields := make([]string, 0, 25)
	fields = append(fields,
		"MSH",
		DefaultDelimiters.EncodingCharacters(),
		ackSendingApplication,
		ackSendingFacility,
		target.ReceivingApplication,
		target.ReceivingFacility,
		b.now().Format(ackTimestampLayout),
		"",
		ackMessageType,
		b.newID(),
	)
	// MSH-11 through MSH-25 are sent empty.
	for i := 0; i < 15; i++ {
		fields = append(fields, "")
	}
	return strings.Join(fields, "|")
}

var defaultAckBuilder = NewAckBuilder()

// BuildAck renders an acknowledgement with the default builder.
func BuildAck(target AckTarget, hlErr *HL7Error, contact *CareProviderContact) string {
	return defaultAckBuilder.Build(target, hlErr, contact)
}
