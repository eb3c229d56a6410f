package ccda

import (
	"strings"

	"github.com/goccy/go-json"
)

// CDA namespace, type and code system OIDs.
const (
	NamespaceHL7 = "urn:hl7-org:v3"

	// OIDCDATypeID is the canonical typeId root for CDA R2 documents.
	OIDCDATypeID = "2.16.840.1.113883.1.3"

	// Code system OIDs
	OIDLOINC             = "2.16.840.1.113883.6.1"
	OIDRxNorm            = "2.16.840.1.113883.6.88"
	OIDSNOMED            = "2.16.840.1.113883.6.96"
	OIDCPT               = "2.16.840.1.113883.6.12"
	OIDICD9CM            = "2.16.840.1.113883.6.103"
	OIDICD10CM           = "2.16.840.1.113883.6.90"
	OIDAdminGender       = "2.16.840.1.113883.5.1"
	OIDConfidentiality   = "2.16.840.1.113883.5.25"
	OIDObsInterpretation = "2.16.840.1.113883.5.83"

	// CCD 1.0 template OIDs
	OIDCCDDocument        = "2.16.840.1.113883.10.20.1"
	OIDMedicationsSection = "2.16.840.1.113883.10.20.1.11"
	OIDAllergiesSection   = "2.16.840.1.113883.10.20.1.8"
	OIDProblemsSection    = "2.16.840.1.113883.10.20.1.3"
	OIDProceduresSection  = "2.16.840.1.113883.10.20.1.12"
	OIDResultsSection     = "2.16.840.1.113883.10.20.1.14"
	OIDVitalSignsSection  = "2.16.840.1.113883.10.20.1.16"

	// LOINC document type codes
	LOINCSummaryOfEpisode = "34133-9"
	LOINCConsultNote      = "11488-4"
	LOINCDischargeSummary = "18842-5"
	LOINCProgressNote     = "11506-3"
	LOINCAdvanceDirective = "28570-0"

	// LOINC codes for section identification
	LOINCMedications   = "10160-0"
	LOINCAllergies     = "48765-2"
	LOINCProblems      = "11450-4"
	LOINCProcedures    = "47519-4"
	LOINCResults       = "30954-2"
	LOINCVitalSigns    = "8716-3"
	LOINCEncounters    = "46240-8"
	LOINCFamilyHistory = "10157-6"
	LOINCSocialHistory = "10164-2"
)

// ClinicalDocument is the typed representation of a CDA document.
type ClinicalDocument struct {
	TypeID              *TypeID        `json:"typeId,omitempty"`
	TemplateIDs         []TemplateID   `json:"templateIds"`
	ID                  *Identifier    `json:"id,omitempty"`
	Code                *Code          `json:"code,omitempty"`
	Title               string         `json:"title,omitempty"`
	EffectiveTime       *EffectiveTime `json:"effectiveTime,omitempty"`
	ConfidentialityCode *Code          `json:"confidentialityCode,omitempty"`
	LanguageCode        *Code          `json:"languageCode,omitempty"`
	RecordTargets       []RecordTarget `json:"recordTargets"`
	Authors             []Author       `json:"authors"`
	Custodian           *Custodian     `json:"custodian,omitempty"`
	Component           *Component     `json:"component,omitempty"`
}

// StructuredBody returns the structured body, or nil.
func (d *ClinicalDocument) StructuredBody() *StructuredBody {
	if d == nil || d.Component == nil {
		return nil
	}
	return d.Component.StructuredBody
}

// Sections returns the top-level sections of the structured body.
func (d *ClinicalDocument) Sections() []*Section {
	body := d.StructuredBody()
	if body == nil {
		return nil
	}
	out := make([]*Section, 0, len(body.Components))
	for i := range body.Components {
		out = append(out, &body.Components[i].Section)
	}
	return out
}

// TypeID is the CDA typeId element.
type TypeID struct {
	Root      string `json:"root"`
	Extension string `json:"extension,omitempty"`
}

// TemplateID tags an element as conforming to an implementation guide template.
type TemplateID struct {
	Root      string `json:"root"`
	Extension string `json:"extension,omitempty"`
}

// Identifier is an instance identifier. Root is never absent; it defaults to
// the empty string.
type Identifier struct {
	Root                   string `json:"root"`
	Extension              string `json:"extension,omitempty"`
	AssigningAuthorityName string `json:"assigningAuthorityName,omitempty"`
}

// String renders the identifier as root^extension, or root alone.
func (id Identifier) String() string {
	if id.Extension == "" {
		return id.Root
	}
	return id.Root + "^" + id.Extension
}

// ParseIdentifier splits a root^extension string.
func ParseIdentifier(s string) Identifier {
	root, ext, _ := strings.Cut(s, "^")
	return Identifier{Root: root, Extension: ext}
}

// Code is a terminology-coded concept.
type Code struct {
	Code           string `json:"code,omitempty"`
	CodeSystem     string `json:"codeSystem,omitempty"`
	CodeSystemName string `json:"codeSystemName,omitempty"`
	DisplayName    string `json:"displayName,omitempty"`
}

// FullyCoded reports whether both code and code system are present.
func (c *Code) FullyCoded() bool {
	return c != nil && c.Code != "" && c.CodeSystem != ""
}

// EffectiveTime is a point in time or an interval.
type EffectiveTime struct {
	Value  string `json:"value,omitempty"`
	Low    string `json:"low,omitempty"`
	High   string `json:"high,omitempty"`
	Center string `json:"center,omitempty"`
	Width  string `json:"width,omitempty"`
}

// RecordTarget wraps the patient the document is about.
type RecordTarget struct {
	PatientRole PatientRole `json:"patientRole"`
}

type PatientRole struct {
	IDs      []Identifier `json:"ids"`
	Addrs    []Address    `json:"addrs"`
	Telecoms []Telecom    `json:"telecoms"`
	Patient  *Patient     `json:"patient,omitempty"`
}

type Patient struct {
	Names                    []PersonName `json:"names"`
	AdministrativeGenderCode *Code        `json:"administrativeGenderCode,omitempty"`
	BirthTime                string       `json:"birthTime,omitempty"`
	EthnicGroupCode          *Code        `json:"ethnicGroupCode,omitempty"`
	RaceCode                 *Code        `json:"raceCode,omitempty"`
}

type PersonName struct {
	Use    string   `json:"use,omitempty"`
	Given  []string `json:"given"`
	Family string   `json:"family,omitempty"`
	Prefix string   `json:"prefix,omitempty"`
	Suffix string   `json:"suffix,omitempty"`
}

// Full joins given and family names with single spaces.
func (n PersonName) Full() string {
	parts := append([]string(nil), n.Given...)
	if n.Family != "" {
		parts = append(parts, n.Family)
	}
	return strings.Join(parts, " ")
}

type Address struct {
	Use               string   `json:"use,omitempty"`
	StreetAddressLine []string `json:"streetAddressLine"`
	City              string   `json:"city,omitempty"`
	State             string   `json:"state,omitempty"`
	PostalCode        string   `json:"postalCode,omitempty"`
	Country           string   `json:"country,omitempty"`
}

type Telecom struct {
	Use   string `json:"use,omitempty"`
	Value string `json:"value,omitempty"`
}

type Author struct {
	Time           string         `json:"time,omitempty"`
	AssignedAuthor AssignedAuthor `json:"assignedAuthor"`
}

type AssignedAuthor struct {
	IDs                     []Identifier  `json:"ids"`
	Code                    *Code         `json:"code,omitempty"`
	Addrs                   []Address     `json:"addrs"`
	Telecoms                []Telecom     `json:"telecoms"`
	AssignedPerson          *Person       `json:"assignedPerson,omitempty"`
	RepresentedOrganization *Organization `json:"representedOrganization,omitempty"`
}

type Person struct {
	Names []PersonName `json:"names"`
}

type Organization struct {
	IDs      []Identifier `json:"ids"`
	Names    []string     `json:"names"`
	Telecoms []Telecom    `json:"telecoms"`
	Addrs    []Address    `json:"addrs"`
}

type Custodian struct {
	AssignedCustodian AssignedCustodian `json:"assignedCustodian"`
}

type AssignedCustodian struct {
	RepresentedCustodianOrganization *Organization `json:"representedCustodianOrganization,omitempty"`
}

// Component holds the document body. At most one of StructuredBody and
// NonXMLBody is set.
type Component struct {
	StructuredBody *StructuredBody `json:"structuredBody,omitempty"`
	NonXMLBody     *NonXMLBody     `json:"nonXMLBody,omitempty"`
}

type StructuredBody struct {
	Components []SectionComponent `json:"components"`
}

type NonXMLBody struct {
	Text string `json:"text,omitempty"`
}

type SectionComponent struct {
	Section Section `json:"section"`
}

// Section is a titled block of narrative and entries. Entries and Components
// hold only direct children; nested sections carry their own entries.
type Section struct {
	TemplateIDs []TemplateID       `json:"templateIds"`
	ID          *Identifier        `json:"id,omitempty"`
	Code        *Code              `json:"code,omitempty"`
	Title       string             `json:"title,omitempty"`
	Text        string             `json:"text,omitempty"`
	Entries     []Entry            `json:"entries"`
	Components  []SectionComponent `json:"components"`
}

// Entry is a clinical statement. Exactly one of the payload pointers is set
// when the entry carries a recognised statement.
type Entry struct {
	TypeCode                   string                   `json:"typeCode,omitempty"`
	ContextConductionIndicator bool                     `json:"contextConductionInd"`
	Observation                *Observation             `json:"observation,omitempty"`
	SubstanceAdministration    *SubstanceAdministration `json:"substanceAdministration,omitempty"`
	Procedure                  *Procedure               `json:"procedure,omitempty"`
	Act                        *Act                     `json:"act,omitempty"`
}

// Kind names the populated payload variant.
func (e *Entry) Kind() string {
	switch {
	case e.Observation != nil:
		return "observation"
	case e.SubstanceAdministration != nil:
		return "substanceAdministration"
	case e.Procedure != nil:
		return "procedure"
	case e.Act != nil:
		return "act"
	}
	return ""
}

type Observation struct {
	ClassCode     string             `json:"classCode,omitempty"`
	MoodCode      string             `json:"moodCode,omitempty"`
	TemplateIDs   []TemplateID       `json:"templateIds"`
	IDs           []Identifier       `json:"ids"`
	Code          *Code              `json:"code,omitempty"`
	Text          string             `json:"text,omitempty"`
	StatusCode    *Code              `json:"statusCode,omitempty"`
	EffectiveTime *EffectiveTime     `json:"effectiveTime,omitempty"`
	Values        []ObservationValue `json:"values"`
}

type SubstanceAdministration struct {
	ClassCode     string         `json:"classCode,omitempty"`
	MoodCode      string         `json:"moodCode,omitempty"`
	TemplateIDs   []TemplateID   `json:"templateIds"`
	IDs           []Identifier   `json:"ids"`
	Text          string         `json:"text,omitempty"`
	StatusCode    *Code          `json:"statusCode,omitempty"`
	EffectiveTime *EffectiveTime `json:"effectiveTime,omitempty"`
	RouteCode     *Code          `json:"routeCode,omitempty"`
	DoseQuantity  *Quantity      `json:"doseQuantity,omitempty"`
	Consumable    *Consumable    `json:"consumable,omitempty"`
}

// MaterialCode returns the manufactured material code, or nil.
func (s *SubstanceAdministration) MaterialCode() *Code {
	if s == nil || s.Consumable == nil || s.Consumable.ManufacturedProduct == nil ||
		s.Consumable.ManufacturedProduct.ManufacturedMaterial == nil {
		return nil
	}
	return s.Consumable.ManufacturedProduct.ManufacturedMaterial.Code
}

type Consumable struct {
	ManufacturedProduct *ManufacturedProduct `json:"manufacturedProduct,omitempty"`
}

type ManufacturedProduct struct {
	TemplateIDs          []TemplateID          `json:"templateIds"`
	ManufacturedMaterial *ManufacturedMaterial `json:"manufacturedMaterial,omitempty"`
}

type ManufacturedMaterial struct {
	Code *Code  `json:"code,omitempty"`
	Name string `json:"name,omitempty"`
}

type Procedure struct {
	ClassCode     string         `json:"classCode,omitempty"`
	MoodCode      string         `json:"moodCode,omitempty"`
	TemplateIDs   []TemplateID   `json:"templateIds"`
	IDs           []Identifier   `json:"ids"`
	Code          *Code          `json:"code,omitempty"`
	Text          string         `json:"text,omitempty"`
	StatusCode    *Code          `json:"statusCode,omitempty"`
	EffectiveTime *EffectiveTime `json:"effectiveTime,omitempty"`
}

type Act struct {
	ClassCode     string         `json:"classCode,omitempty"`
	MoodCode      string         `json:"moodCode,omitempty"`
	IDs           []Identifier   `json:"ids"`
	Code          *Code          `json:"code,omitempty"`
	Text          string         `json:"text,omitempty"`
	StatusCode    *Code          `json:"statusCode,omitempty"`
	EffectiveTime *EffectiveTime `json:"effectiveTime,omitempty"`
}

// Quantity is a physical quantity. Value is nil when absent.
type Quantity struct {
	Value *float64 `json:"value,omitempty"`
	Unit  string   `json:"unit,omitempty"`
}

// ValueType is the xsi:type discriminant of an observation value.
type ValueType string

const (
	ValuePQ   ValueType = "PQ"
	ValueCD   ValueType = "CD"
	ValueST   ValueType = "ST"
	ValueINT  ValueType = "INT"
	ValueREAL ValueType = "REAL"
	ValueTS   ValueType = "TS"
	ValueED   ValueType = "ED"
)

// ObservationValue is a typed observation result. Number is set for PQ, INT
// and REAL; Text for ST, ED and TS; the coded fields for CD.
type ObservationValue struct {
	Type        ValueType
	Number      *float64
	Text        string
	Unit        string
	Code        string
	CodeSystem  string
	DisplayName string
}

// IsNumeric reports whether the value carries a number.
func (v ObservationValue) IsNumeric() bool {
	switch v.Type {
	case ValuePQ, ValueINT, ValueREAL:
		return true
	}
	return false
}

// Coded returns the value as a Code when it carries a code and system.
func (v ObservationValue) Coded() *Code {
	if v.Code == "" || v.CodeSystem == "" {
		return nil
	}
	return &Code{Code: v.Code, CodeSystem: v.CodeSystem, DisplayName: v.DisplayName}
}

type observationValueJSON struct {
	Type        ValueType `json:"type"`
	Value       any       `json:"value,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	Code        string    `json:"code,omitempty"`
	CodeSystem  string    `json:"codeSystem,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
}

// MarshalJSON emits value as a number or a string depending on the type.
func (v ObservationValue) MarshalJSON() ([]byte, error) {
	out := observationValueJSON{
		Type:        v.Type,
		Unit:        v.Unit,
		Code:        v.Code,
		CodeSystem:  v.CodeSystem,
		DisplayName: v.DisplayName,
	}
	switch {
	case v.Number != nil:
		out.Value = *v.Number
	case v.Text != "":
		out.Value = v.Text
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a value written by MarshalJSON.
func (v *ObservationValue) UnmarshalJSON(data []byte) error {
	var in observationValueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*v = ObservationValue{
		Type:        in.Type,
		Unit:        in.Unit,
		Code:        in.Code,
		CodeSystem:  in.CodeSystem,
		DisplayName: in.DisplayName,
	}
	switch val := in.Value.(type) {
	case float64:
		v.Number = &val
	case string:
		v.Text = val
	}
	return nil
}
