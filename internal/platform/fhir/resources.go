package fhir

// Resource types carried in an activity notification bundle. Each struct
// holds only the elements the notification profiles use.

type MessageHeader struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id"`
	Meta         *Meta         `json:"meta,omitempty"`
	EventCoding  Coding        `json:"eventCoding"`
	Source       MessageSource `json:"source"`
	Responsible  *Reference    `json:"responsible,omitempty"`
	Focus        []Reference   `json:"focus,omitempty"`
}

type MessageSource struct {
	Endpoint string `json:"endpoint"`
}

type Patient struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Meta         *Meta        `json:"meta,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Name         []HumanName  `json:"name,omitempty"`
	BirthDate    string       `json:"birthDate,omitempty"`
}

type Location struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id"`
	Meta         *Meta        `json:"meta,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Status       string       `json:"status,omitempty"`
	Name         string       `json:"name,omitempty"`
	Address      *Address     `json:"address,omitempty"`
}

type Organization struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id"`
	Meta         *Meta        `json:"meta,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Name         string       `json:"name,omitempty"`
}

type Encounter struct {
	ResourceType string              `json:"resourceType"`
	ID           string              `json:"id"`
	Meta         *Meta               `json:"meta,omitempty"`
	Extension    []Extension         `json:"extension,omitempty"`
	Status       string              `json:"status"`
	Class        Coding              `json:"class"`
	Subject      *Reference          `json:"subject,omitempty"`
	Period       *Period             `json:"period,omitempty"`
	Location     []EncounterLocation `json:"location,omitempty"`
}

type EncounterLocation struct {
	Location Reference `json:"location"`
	Status   string    `json:"status,omitempty"`
}
