package fhir

import (
	"encoding/json"
	"fmt"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
	Type         string        `json:"type"`
	Timestamp    string        `json:"timestamp,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// NewEntry serialises resource into an entry addressed by fullURL.
func NewEntry(fullURL string, resource interface{}) (BundleEntry, error) {
	raw, err := json.Marshal(resource)
	if err != nil {
		return BundleEntry{}, fmt.Errorf("fhir: marshal entry %s: %w", fullURL, err)
	}
	return BundleEntry{FullURL: fullURL, Resource: raw}, nil
}

// EntryType returns the resourceType of entry i without decoding the
// whole resource.
func (b *Bundle) EntryType(i int) (string, error) {
	if i < 0 || i >= len(b.Entry) {
		return "", fmt.Errorf("fhir: bundle has no entry %d", i)
	}
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(b.Entry[i].Resource, &probe); err != nil {
		return "", fmt.Errorf("fhir: decode entry %d: %w", i, err)
	}
	return probe.ResourceType, nil
}

// DecodeEntry unmarshals entry i into v after checking its resourceType.
func (b *Bundle) DecodeEntry(i int, resourceType string, v interface{}) error {
	got, err := b.EntryType(i)
	if err != nil {
		return err
	}
	if got != resourceType {
		return fmt.Errorf("fhir: entry %d is %s, expected %s", i, got, resourceType)
	}
	if err := json.Unmarshal(b.Entry[i].Resource, v); err != nil {
		return fmt.Errorf("fhir: decode entry %d: %w", i, err)
	}
	return nil
}
