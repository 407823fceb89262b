package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Site is the per-deployment profile: who the notifications come from and
// how local HL7 codes map onto FHIR codings.
type Site struct {
	Organization     SiteOrganization       `yaml:"organization"`
	Location         SiteLocation           `yaml:"location"`
	EncounterClasses map[string]CodeMapping `yaml:"encounter_classes"`
	AdmissionMethods map[string]CodeMapping `yaml:"admission_methods"`
}

type SiteOrganization struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type SiteLocation struct {
	ID         string `yaml:"id"`
	PostalCode string `yaml:"postal_code"`
	City       string `yaml:"city"`
}

// CodeMapping is a FHIR coding keyed by a local HL7 code.
type CodeMapping struct {
	System  string `yaml:"system"`
	Code    string `yaml:"code"`
	Display string `yaml:"display,omitempty"`
}

// DefaultSite returns the simulated trust profile used when no site file
// is configured. Class and admission tables are left nil so the built-in
// tables apply.
func DefaultSite() Site {
	return Site{
		Organization: SiteOrganization{
			ID:   "XXX",
			Name: "SIMULATED HOSPITAL NHS FOUNDATION TRUST",
		},
		Location: SiteLocation{
			ID:         "XXXY1",
			PostalCode: "XX20 5XX",
			City:       "Exampletown",
		},
	}
}

// LoadSite reads a YAML site profile. Keys missing from the file keep
// their DefaultSite value; a table present in the file replaces the
// built-in one entirely. An empty path returns DefaultSite.
func LoadSite(path string) (Site, error) {
	site := DefaultSite()
	if path == "" {
		return site, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Site{}, fmt.Errorf("read site config: %w", err)
	}
	if err := yaml.Unmarshal(data, &site); err != nil {
		return Site{}, fmt.Errorf("parse site config %s: %w", path, err)
	}
	if err := site.validate(); err != nil {
		return Site{}, fmt.Errorf("site config %s: %w", path, err)
	}
	return site, nil
}

func (s Site) validate() error {
	if s.Organization.ID == "" || s.Organization.Name == "" {
		return fmt.Errorf("organization id and name are required")
	}
	if s.Location.ID == "" {
		return fmt.Errorf("location id is required")
	}
	for code, m := range s.AdmissionMethods {
		if m.System == "" || m.Code == "" {
			return fmt.Errorf("admission method %q needs system and code", code)
		}
	}
	for code, m := range s.EncounterClasses {
		if m.System == "" || m.Code == "" {
			return fmt.Errorf("encounter class %q needs system and code", code)
		}
	}
	return nil
}
