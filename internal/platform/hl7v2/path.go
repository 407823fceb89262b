package hl7v2

import (
	"fmt"
	"strconv"
	"strings"
)

// MissingSegmentError is returned when a path names a segment occurrence
// that the message does not contain.
type MissingSegmentError struct {
	Segment    string
	Repetition int
}

func (e *MissingSegmentError) Error() string {
	if e.Repetition > 0 {
		return fmt.Sprintf("hl7v2: segment %s[%d] missing", e.Segment, e.Repetition)
	}
	return fmt.Sprintf("hl7v2: segment %s missing", e.Segment)
}

// MissingFieldError is returned when a path runs past the end of an
// existing field, repetition, component or sub-component. Path is the
// dotted address reached, for example "PV1.44".
type MissingFieldError struct {
	Path string
}

func (e *MissingFieldError) Error() string {
	return "hl7v2: required field missing: " + e.Path
}

const unset = -1

// FieldPath addresses a node in a Message. Build one with Path and the
// chained setters; each setter returns a new value.
//
// Field numbers are HL7 field numbers (PID.5 is Field(5)). Repetitions,
// components and sub-components are 0-based.
type FieldPath struct {
	segment    string
	segmentRep int
	field      int
	rep        int
	component  int
	sub        int
}

// Path starts a FieldPath at the first occurrence of segment.
func Path(segment string) FieldPath {
	return FieldPath{segment: segment, field: unset, rep: unset, component: unset, sub: unset}
}

// Occurrence selects the n-th (0-based) occurrence of the segment.
func (p FieldPath) Occurrence(n int) FieldPath { p.segmentRep = n; return p }

// Field selects HL7 field n.
func (p FieldPath) Field(n int) FieldPath { p.field = n; return p }

// Repetition selects repetition n of the field.
func (p FieldPath) Repetition(n int) FieldPath { p.rep = n; return p }

// Component selects component n. The first repetition is implied when none
// was chosen.
func (p FieldPath) Component(n int) FieldPath { p.component = n; return p }

// SubComponent selects sub-component n of the component.
func (p FieldPath) SubComponent(n int) FieldPath { p.sub = n; return p }

// String renders the path in HL7 dotted notation with 1-based component
// numbers, e.g. "PID.3[1].1" or "PV1.44".
func (p FieldPath) String() string {
	var b strings.Builder
	b.WriteString(p.segment)
	if p.segmentRep > 0 {
		b.WriteString("[" + strconv.Itoa(p.segmentRep) + "]")
	}
	if p.field == unset {
		return b.String()
	}
	b.WriteString("." + strconv.Itoa(p.field))
	if p.rep > 0 {
		b.WriteString("[" + strconv.Itoa(p.rep) + "]")
	}
	if p.component == unset {
		return b.String()
	}
	b.WriteString("." + strconv.Itoa(p.component+1))
	if p.sub != unset {
		b.WriteString("." + strconv.Itoa(p.sub+1))
	}
	return b.String()
}

// Extract returns the text at p. Levels are visited in path order and only
// when requested; the deepest requested node is re-encoded with the
// message delimiters. An empty string is a valid result.
func (m *Message) Extract(p FieldPath) (string, error) {
	seg, err := m.Segment(p.segment, p.segmentRep)
	if err != nil {
		return "", err
	}
	if p.field == unset {
		return seg.Encode(m.Delimiters), nil
	}

	missing := func(reached FieldPath) error {
		return &MissingFieldError{Path: reached.String()}
	}

	at := Path(p.segment).Occurrence(p.segmentRep).Field(p.field)
	if p.field < 1 || p.field >= len(seg.Fields) {
		return "", missing(at)
	}
	field := seg.Fields[p.field]
	if p.rep == unset && p.component == unset {
		return field.Encode(m.Delimiters), nil
	}

	rep := p.rep
	if rep == unset {
		rep = 0
	}
	at = at.Repetition(rep)
	if rep < 0 || rep >= len(field) {
		return "", missing(at)
	}
	repetition := field[rep]
	if p.component == unset {
		return repetition.Encode(m.Delimiters), nil
	}

	at = at.Component(p.component)
	if p.component < 0 || p.component >= len(repetition) {
		return "", missing(at)
	}
	component := repetition[p.component]
	if p.sub == unset {
		return component.Encode(m.Delimiters), nil
	}

	at = at.SubComponent(p.sub)
	if p.sub < 0 || p.sub >= len(component) {
		return "", missing(at)
	}
	return component[p.sub], nil
}

// Repetitions returns the number of repetitions in the field at p. It
// fails like Extract when the segment or field is absent.
func (m *Message) Repetitions(p FieldPath) (int, error) {
	seg, err := m.Segment(p.segment, p.segmentRep)
	if err != nil {
		return 0, err
	}
	if p.field < 1 || p.field >= len(seg.Fields) {
		return 0, &MissingFieldError{Path: Path(p.segment).Occurrence(p.segmentRep).Field(p.field).String()}
	}
	return len(seg.Fields[p.field]), nil
}
