package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hans/hans/internal/platform/hl7v2"
	"github.com/hans/hans/internal/platform/management"
	"github.com/hans/hans/internal/platform/nhs"
	"github.com/hans/hans/internal/platform/queue"
)

// Supported message type and trigger event (MSH-9).
const (
	MessageTypeADT = "ADT"
	TriggerA01     = "A01"
)

// Outcome is the result of processing one inbound message. Ack is always
// set.
type Outcome struct {
	Ack        string
	Conversion *Conversion
	Error      *hl7v2.HL7Error
	Published  bool
}

// Accepted reports whether the message was acknowledged with AA.
func (o *Outcome) Accepted() bool { return o.Error == nil }

// Service converts inbound ADT^A01 messages, publishes the bundle and
// builds the acknowledgement.
type Service struct {
	builder   *Builder
	publisher queue.Publisher
	acks      *hl7v2.AckBuilder
	lookup    management.Lookup
	pseudoID  func(nhsNumber, birthDate string) (string, error)
	logger    zerolog.Logger
}

type ServiceOption func(*Service)

// WithCareProviderLookup attaches the care provider contact to accepted
// acknowledgements.
func WithCareProviderLookup(l management.Lookup) ServiceOption {
	return func(s *Service) { s.lookup = l }
}

// WithAckBuilder overrides the acknowledgement builder.
func WithAckBuilder(b *hl7v2.AckBuilder) ServiceOption {
	return func(s *Service) { s.acks = b }
}

func NewService(builder *Builder, publisher queue.Publisher, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		builder:   builder,
		publisher: publisher,
		acks:      hl7v2.NewAckBuilder(),
		pseudoID:  nhs.PseudoID,
		logger:    logger.With().Str("component", "admission").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process handles one raw ER7 message. It never fails: every problem is
// reported to the sender as a NAK and nothing is published.
func (s *Service) Process(ctx context.Context, raw []byte) (out *Outcome) {
	var target hl7v2.AckTarget
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			out = s.reject(target, err)
		}
	}()

	msg, err := hl7v2.Parse(hl7v2.Normalize(raw))
	if err != nil {
		return s.reject(target, err)
	}
	target = hl7v2.TargetFor(msg)

	if err := checkMessageType(msg); err != nil {
		return s.reject(target, err)
	}

	conv, err := s.builder.Build(msg)
	if err != nil {
		return s.reject(target, err)
	}

	contact, err := s.careProvider(ctx, conv)
	if err != nil {
		return s.reject(target, err)
	}

	if err := s.publish(ctx, conv); err != nil {
		return s.reject(target, err)
	}

	s.logger.Info().
		Str("control_id", target.ReplyToControlID).
		Str("sending_application", target.ReceivingApplication).
		Bool("care_provider_attached", contact != nil).
		Msg("message converted and published")

	return &Outcome{
		Ack:        s.acks.Build(target, nil, contact),
		Conversion: conv,
		Published:  true,
	}
}

// HandleMessage adapts Process to the MLLP server.
func (s *Service) HandleMessage(ctx context.Context, raw []byte) []byte {
	return []byte(s.Process(ctx, raw).Ack)
}

// Reject builds a NAK for a message that could not be read. raw is parsed
// only to address the reply.
func (s *Service) Reject(raw []byte, err error) *Outcome {
	var target hl7v2.AckTarget
	if msg, perr := hl7v2.Parse(hl7v2.Normalize(raw)); perr == nil {
		target = hl7v2.TargetFor(msg)
	}
	return s.reject(target, err)
}

func (s *Service) reject(target hl7v2.AckTarget, err error) *Outcome {
	kind, _ := classify(err)
	hlErr := Classify(err)

	ev := s.logger.Warn()
	if hlErr.Severity == hl7v2.SeverityFatalError {
		ev = s.logger.Error()
	}
	ev.Err(err).
		Str("kind", kind.String()).
		Int("hl7_code", int(hlErr.Code)).
		Str("severity", string(hlErr.Severity)).
		Str("control_id", target.ReplyToControlID).
		Msg("message rejected")

	return &Outcome{Ack: s.acks.Build(target, hlErr, nil), Error: hlErr}
}

func checkMessageType(msg *hl7v2.Message) error {
	h := msg.Header()
	if t := h.MessageType(); t != MessageTypeADT {
		return newError(KindUnsupportedMessageType, fmt.Sprintf("Unsupported message type %q", t), nil)
	}
	if ev := h.TriggerEvent(); ev != TriggerA01 {
		return newError(KindUnsupportedEvent, fmt.Sprintf("Unsupported trigger event %q", ev), nil)
	}
	return nil
}

func (s *Service) careProvider(ctx context.Context, conv *Conversion) (*hl7v2.CareProviderContact, error) {
	if s.lookup == nil {
		return nil, nil
	}

	pseudoID, err := s.pseudoID(conv.NHSNumber, conv.BirthDate)
	if err != nil {
		return nil, err
	}
	cp, err := s.lookup.CareProviderLocation(ctx, pseudoID)
	switch {
	case errors.Is(err, management.ErrCareProviderNotFound):
		s.logger.Info().Msg("no care provider registered for patient")
		return nil, nil
	case err != nil:
		return nil, newError(KindManagementUnavailable, "Issue reaching management interface: "+err.Error(), err)
	}
	return &hl7v2.CareProviderContact{OrgName: cp.GivenName, Email: cp.Email}, nil
}

func (s *Service) publish(ctx context.Context, conv *Conversion) error {
	body, err := json.Marshal(conv.Bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	if err := s.publisher.Publish(ctx, body); err != nil {
		return newError(KindQueueUnavailable, "Issue reaching queue: "+err.Error(), err)
	}
	return nil
}
