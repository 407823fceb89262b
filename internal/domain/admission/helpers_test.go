package admission

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hans/hans/internal/platform/hl7v2"
	"github.com/hans/hans/internal/platform/management"
)

const sampleADT = "MSH|^~\\&|SIMHOSP|SFAC|RAPP|RFAC|20200508130643||ADT^A01|5|T|2.3|||AL||44|ASCII\r" +
	"EVN|A01|20200508130643|||C006^Wolf^Kathy^^^Dr^^^DRNBR^PRSNL^^^ORGDR|\r" +
	"PID|1|2590157853^^^SIMULATOR MRN^MRN|2590157853^^^SIMULATOR MRN^MRN~2478684691^^^NHSNBR^NHSNMBR||Esterkin^AKI Scenario 6^^^Miss^^CURRENT||19890118000000|F|||170 Juice Place^^London^^RW21 6KC^GBR^HOME||020 5368 1665^HOME|||||||||R^Other - Chinese^^^||||||||\r" +
	"PD1|||FAMILY PRACTICE^^12345|\r" +
	"PV1|1|I|RenalWard^MainRoom^Bed 1^Simulated Hospital^^BED^MainBuilding^5|28b|||C006^Wolf^Kathy^^^Dr^^^DRNBR^PRSNL^^^ORGDR|||MED|||||||||6145914547062969032^^^^visitid||||||||||||||||||||||ARRIVED|||20200508130643||"

// replaceSegment swaps the segment whose name matches the prefix of seg.
func replaceSegment(raw, seg string) string {
	name := seg[:3]
	lines := strings.Split(raw, "\r")
	for i, l := range lines {
		if strings.HasPrefix(l, name+"|") {
			lines[i] = seg
		}
	}
	return strings.Join(lines, "\r")
}

func dropSegment(raw, name string) string {
	var out []string
	for _, l := range strings.Split(raw, "\r") {
		if !strings.HasPrefix(l, name+"|") {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\r")
}

// setField replaces HL7 field n of the named segment.
func setField(raw, name string, n int, value string) string {
	lines := strings.Split(raw, "\r")
	for i, l := range lines {
		if !strings.HasPrefix(l, name+"|") {
			continue
		}
		fields := strings.Split(l, "|")
		for len(fields) <= n {
			fields = append(fields, "")
		}
		fields[n] = value
		lines[i] = strings.Join(fields, "|")
	}
	return strings.Join(lines, "\r")
}

func mustParse(t *testing.T, raw string) *hl7v2.Message {
	t.Helper()
	msg, err := hl7v2.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	return msg
}

var fixedIDs = IDs{
	MessageHeader: "00000000-0000-0000-0000-000000000001",
	Patient:       "00000000-0000-0000-0000-000000000002",
	Location:      "00000000-0000-0000-0000-000000000003",
	Organization:  "00000000-0000-0000-0000-000000000004",
	Encounter:     "00000000-0000-0000-0000-000000000005",
}

func testBuilder() *Builder {
	meta := Metadata{
		OrganizationID:   "XXX",
		OrganizationName: "SIMULATED HOSPITAL NHS FOUNDATION TRUST",
		LocationID:       "XXXY1",
		PostalCode:       "XX20 5XX",
		City:             "Exampletown",
	}
	return NewBuilder(meta, DefaultTables(), WithIDs(func() IDs { return fixedIDs }))
}

func testAcks() *hl7v2.AckBuilder {
	return hl7v2.NewAckBuilder(
		hl7v2.WithClock(func() time.Time { return time.Date(2023, 4, 5, 15, 0, 23, 0, time.UTC) }),
		hl7v2.WithControlIDs(func() string { return "11111111-2222-3333-4444-555555555555" }),
	)
}

func fakePseudoID(nhsNumber, birthDate string) (string, error) {
	return "pseudo-" + nhsNumber + "-" + birthDate, nil
}

// fakeLookup answers care provider lookups from a fixed result.
type fakeLookup struct {
	mu    sync.Mutex
	cp    *management.CareProvider
	err   error
	calls []string
}

func (f *fakeLookup) CareProviderLocation(_ context.Context, pseudoID string) (*management.CareProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pseudoID)
	return f.cp, f.err
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
