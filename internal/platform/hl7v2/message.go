package hl7v2

import (
	"errors"
	"fmt"
	"strings"
)

// SegmentSeparator terminates every segment of an ER7 encoded message.
const SegmentSeparator = "\r"

var (
	// ErrEmptyMessage is returned when there is nothing to parse.
	ErrEmptyMessage = errors.New("hl7v2: message is empty")

	// ErrNoHeader is returned when the first segment is not MSH.
	ErrNoHeader = errors.New("hl7v2: first segment must be MSH")
)

// MalformedSegmentError reports a segment that could not be tokenised.
type MalformedSegmentError struct {
	Index  int
	Reason string
}

func (e *MalformedSegmentError) Error() string {
	return fmt.Sprintf("hl7v2: malformed segment %d: %s", e.Index, e.Reason)
}

// Delimiters are the encoding characters declared in MSH-1 and MSH-2.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	SubComponent byte
}

// DefaultDelimiters are the encoding characters used by every message this
// service emits.
var DefaultDelimiters = Delimiters{
	Field:        '|',
	Component:    '^',
	Repetition:   '~',
	Escape:       '\\',
	SubComponent: '&',
}

// EncodingCharacters returns the MSH-2 value for d.
func (d Delimiters) EncodingCharacters() string {
	return string([]byte{d.Component, d.Repetition, d.Escape, d.SubComponent})
}

// Message is a parsed HL7v2 message. Every level of the tree is kept as an
// ordered slice so that empty slots survive parsing.
type Message struct {
	Delimiters Delimiters
	Segments   []Segment
}

// Segment is a single typed record. Fields[0] holds the segment name so
// that Fields[n] is HL7 field n. For MSH, Fields[1] is the field separator
// and Fields[2] the encoding characters.
type Segment struct {
	Name   string
	Fields []Field
}

// Field is an ordered list of repetitions.
type Field []Repetition

// Repetition is an ordered list of components.
type Repetition []Component

// Component is an ordered list of sub-components.
type Component []string

// Normalize rewrites CRLF and LF line endings to bare CR segment
// separators. Transports must call it before Parse.
func Normalize(raw []byte) []byte {
	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")
	return []byte(text)
}

// Parse parses an ER7 message whose segments are separated by bare CR.
// Blank segments (including a trailing separator) are ignored.
func Parse(raw []byte) (*Message, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, ErrEmptyMessage
	}

	var lines []string
	for _, line := range strings.Split(text, SegmentSeparator) {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	if !strings.HasPrefix(lines[0], "MSH") {
		return nil, ErrNoHeader
	}

	delims, err := readDelimiters(lines[0])
	if err != nil {
		return nil, err
	}

	msg := &Message{Delimiters: delims}
	for i, line := range lines {
		seg, err := parseSegment(line, delims)
		if err != nil {
			return nil, &MalformedSegmentError{Index: i, Reason: err.Error()}
		}
		msg.Segments = append(msg.Segments, seg)
	}

	return msg, nil
}

// readDelimiters reads MSH-1 and MSH-2 from the header line.
func readDelimiters(header string) (Delimiters, error) {
	if len(header) < 8 {
		return Delimiters{}, &MalformedSegmentError{Index: 0, Reason: "MSH too short to declare encoding characters"}
	}

	d := Delimiters{
		Field:        header[3],
		Component:    header[4],
		Repetition:   header[5],
		Escape:       header[6],
		SubComponent: header[7],
	}

	chars := []byte{d.Field, d.Component, d.Repetition, d.Escape, d.SubComponent}
	for i := range chars {
		for j := i + 1; j < len(chars); j++ {
			if chars[i] == chars[j] {
				return Delimiters{}, &MalformedSegmentError{Index: 0, Reason: "encoding characters must be unique"}
			}
		}
	}
	if len(header) > 8 && header[8] != d.Field {
		return Delimiters{}, &MalformedSegmentError{Index: 0, Reason: "unexpected character after encoding characters"}
	}

	return d, nil
}

func parseSegment(line string, d Delimiters) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}
	name := line[:3]
	for _, r := range name {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return Segment{}, fmt.Errorf("invalid segment name %q", name)
		}
	}
	if len(line) > 3 && line[3] != d.Field {
		return Segment{}, fmt.Errorf("segment %s: expected field separator after name", name)
	}

	seg := Segment{Name: name}
	seg.Fields = append(seg.Fields, literalField(name))

	if name == "MSH" {
		// MSH-1 is the separator itself and MSH-2 is never split.
		seg.Fields = append(seg.Fields, literalField(string(d.Field)))
		rest := ""
		if len(line) > 4 {
			rest = line[4:]
		}
		parts := strings.Split(rest, string(d.Field))
		seg.Fields = append(seg.Fields, literalField(parts[0]))
		for _, part := range parts[1:] {
			seg.Fields = append(seg.Fields, parseField(part, d))
		}
		return seg, nil
	}

	if len(line) <= 4 {
		return seg, nil
	}
	for _, part := range strings.Split(line[4:], string(d.Field)) {
		seg.Fields = append(seg.Fields, parseField(part, d))
	}
	return seg, nil
}

func literalField(v string) Field {
	return Field{Repetition{Component{v}}}
}

func parseField(raw string, d Delimiters) Field {
	reps := strings.Split(raw, string(d.Repetition))
	field := make(Field, 0, len(reps))
	for _, rep := range reps {
		comps := strings.Split(rep, string(d.Component))
		r := make(Repetition, 0, len(comps))
		for _, comp := range comps {
			r = append(r, Component(strings.Split(comp, string(d.SubComponent))))
		}
		field = append(field, r)
	}
	return field
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// String re-encodes the message with its own delimiters.
func (m *Message) String() string {
	segs := make([]string, len(m.Segments))
	for i := range m.Segments {
		segs[i] = m.Segments[i].Encode(m.Delimiters)
	}
	return strings.Join(segs, SegmentSeparator)
}

// Encode renders the segment as ER7 text.
func (s *Segment) Encode(d Delimiters) string {
	if len(s.Fields) == 0 {
		return s.Name
	}
	var b strings.Builder
	b.WriteString(s.Name)
	start := 1
	if s.Name == "MSH" {
		// The separator at Fields[1] is written once, not joined.
		b.WriteByte(d.Field)
		if len(s.Fields) > 2 {
			b.WriteString(s.Fields[2].Encode(d))
		}
		start = 3
	}
	for i := start; i < len(s.Fields); i++ {
		b.WriteByte(d.Field)
		b.WriteString(s.Fields[i].Encode(d))
	}
	return b.String()
}

// Encode renders the field as ER7 text.
func (f Field) Encode(d Delimiters) string {
	reps := make([]string, len(f))
	for i, r := range f {
		reps[i] = r.Encode(d)
	}
	return strings.Join(reps, string(d.Repetition))
}

// Encode renders the repetition as ER7 text.
func (r Repetition) Encode(d Delimiters) string {
	comps := make([]string, len(r))
	for i, c := range r {
		comps[i] = c.Encode(d)
	}
	return strings.Join(comps, string(d.Component))
}

// Encode renders the component as ER7 text.
func (c Component) Encode(d Delimiters) string {
	return strings.Join(c, string(d.SubComponent))
}

// ---------------------------------------------------------------------------
// Segment lookup
// ---------------------------------------------------------------------------

// Segment returns the rep-th (0-based) segment named name.
func (m *Message) Segment(name string, rep int) (*Segment, error) {
	seen := 0
	for i := range m.Segments {
		if m.Segments[i].Name != name {
			continue
		}
		if seen == rep {
			return &m.Segments[i], nil
		}
		seen++
	}
	return nil, &MissingSegmentError{Segment: name, Repetition: rep}
}

// SegmentsNamed returns every segment named name in message order.
func (m *Message) SegmentsNamed(name string) []*Segment {
	var out []*Segment
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			out = append(out, &m.Segments[i])
		}
	}
	return out
}

// Header returns a view over the MSH segment.
func (m *Message) Header() Header {
	return Header{msg: m}
}

// Header exposes the MSH fields the acknowledgement and routing logic use.
// Accessors return empty strings when the field is absent.
type Header struct {
	msg *Message
}

func (h Header) value(p FieldPath) string {
	v, err := h.msg.Extract(p)
	if err != nil {
		return ""
	}
	return v
}

// SendingApplication returns MSH-3.
func (h Header) SendingApplication() string { return h.value(Path("MSH").Field(3)) }

// SendingFacility returns MSH-4.
func (h Header) SendingFacility() string { return h.value(Path("MSH").Field(4)) }

// MessageType returns MSH-9.1.
func (h Header) MessageType() string { return h.value(Path("MSH").Field(9).Component(0)) }

// TriggerEvent returns MSH-9.2.
func (h Header) TriggerEvent() string { return h.value(Path("MSH").Field(9).Component(1)) }

// ControlID returns MSH-10.
func (h Header) ControlID() string { return h.value(Path("MSH").Field(10)) }

// Version returns MSH-12.
func (h Header) Version() string { return h.value(Path("MSH").Field(12)) }
