// Package semantic classifies extracted CDA documents: document type,
// clinical domains, terminology, data type and template inventories,
// relationships between clinical entities, and quality scores.
package semantic

import (
	"fmt"

	"github.com/ehr/cdainsight/internal/platform/ccda"
)

// Analysis is the semantic summary of one document.
type Analysis struct {
	DocumentType    string             `json:"documentType"`
	ClinicalDomains []string           `json:"clinicalDomains"`
	Terminologies   []TerminologyUsage `json:"terminologies"`
	DataTypes       []DataTypeUsage    `json:"dataTypes"`
	Templates       []TemplateUsage    `json:"templates"`
	Relationships   []Relationship     `json:"relationships"`
	QualityMetrics  QualityMetrics     `json:"qualityMetrics"`
}

// TerminologyUsage groups the coded concepts of one code system.
type TerminologyUsage struct {
	System     string      `json:"system"`
	SystemName string      `json:"systemName"`
	CodesCount int         `json:"codesCount"`
	Samples    []ccda.Code `json:"samples"`
}

// DataTypeUsage counts observation values of one type.
type DataTypeUsage struct {
	Type        ccda.ValueType `json:"type"`
	Count       int            `json:"count"`
	Description string         `json:"description"`
}

// TemplateUsage counts occurrences of one template OID.
type TemplateUsage struct {
	OID         string `json:"oid"`
	Name        string `json:"name"`
	Count       int    `json:"count"`
	Description string `json:"description"`
}

// Relationship links two clinical entities found in the same entry.
type Relationship struct {
	Type        string `json:"type"`
	Source      string `json:"source"`
	Target      string `json:"target"`
	Description string `json:"description"`
}

// Analyze derives the semantic summary of doc. It never fails; a nil or
// empty document yields empty inventories and zero scores.
func Analyze(doc *ccda.ClinicalDocument) *Analysis {
	c := newCollector()
	ccda.Walk(doc, ccda.Visitor{
		Code:       c.code,
		TemplateID: c.template,
		Value:      c.value,
		Section:    c.section,
		Entry:      c.entry,
	})

	return &Analysis{
		DocumentType:    DocumentType(doc),
		ClinicalDomains: c.domains,
		Terminologies:   c.terminologies(),
		DataTypes:       c.dataTypes(),
		Templates:       c.templates(),
		Relationships:   c.relationships,
		QualityMetrics:  Quality(doc),
	}
}

// DocumentType classifies doc by its root LOINC code.
func DocumentType(doc *ccda.ClinicalDocument) string {
	if doc == nil || doc.Code == nil || (doc.Code.Code == "" && doc.Code.DisplayName == "") {
		return UnknownDocumentType
	}
	if name, ok := documentTypes[doc.Code.Code]; ok {
		return name
	}
	label := doc.Code.DisplayName
	if label == "" {
		label = doc.Code.Code
	}
	return fmt.Sprintf("Documento CDA (%s)", label)
}

type systemBucket struct {
	count   int
	samples []ccda.Code
}

// collector accumulates every inventory in a single walk. The order slices
// record first sighting so output order follows the document.
type collector struct {
	domains     []string
	seenDomains map[string]bool

	systems     map[string]*systemBucket
	systemOrder []string

	valueTypes map[ccda.ValueType]int
	typeOrder  []ccda.ValueType

	templateCounts map[string]int
	templateOrder  []string

	relationships []Relationship
}

func newCollector() *collector {
	return &collector{
		domains:        []string{},
		seenDomains:    make(map[string]bool),
		systems:        make(map[string]*systemBucket),
		valueTypes:     make(map[ccda.ValueType]int),
		templateCounts: make(map[string]int),
		relationships:  []Relationship{},
	}
}

func (c *collector) code(code *ccda.Code) {
	if code.Code == "" || code.CodeSystem == "" {
		return
	}
	c.addCode(*code)
}

func (c *collector) addCode(code ccda.Code) {
	b, ok := c.systems[code.CodeSystem]
	if !ok {
		b = &systemBucket{}
		c.systems[code.CodeSystem] = b
		c.systemOrder = append(c.systemOrder, code.CodeSystem)
	}
	b.count++
	if len(b.samples) < MaxTerminologySamples {
		b.samples = append(b.samples, code)
	}
}

func (c *collector) template(t ccda.TemplateID) {
	if _, ok := c.templateCounts[t.Root]; !ok {
		c.templateOrder = append(c.templateOrder, t.Root)
	}
	c.templateCounts[t.Root]++
}

func (c *collector) value(v *ccda.ObservationValue) {
	if _, ok := c.valueTypes[v.Type]; !ok {
		c.typeOrder = append(c.typeOrder, v.Type)
	}
	c.valueTypes[v.Type]++

	// Coded values are concepts in their own right.
	if coded := v.Coded(); coded != nil {
		c.addCode(*coded)
	}
}

func (c *collector) section(s *ccda.Section, depth int) {
	if depth != 0 || s.Code == nil || s.Code.Code == "" {
		return
	}
	domain, ok := DomainForSection(s.Code.Code)
	if !ok || c.seenDomains[domain] {
		return
	}
	c.seenDomains[domain] = true
	c.domains = append(c.domains, domain)
}

func (c *collector) entry(e *ccda.Entry, depth int) {
	if depth != 0 {
		return
	}
	if o := e.Observation; o != nil {
		for _, v := range o.Values {
			if v.Type != ccda.ValueCD || v.Code == "" {
				continue
			}
			source := "Observación"
			if o.Code != nil && o.Code.DisplayName != "" {
				source = o.Code.DisplayName
			}
			target := v.DisplayName
			if target == "" {
				target = v.Code
			}
			c.relate(Relationship{
				Type:        RelObservationCode,
				Source:      source,
				Target:      target,
				Description: "Observación clínica con valor codificado",
			})
		}
	}
	if mc := e.SubstanceAdministration.MaterialCode(); mc != nil {
		target := mc.DisplayName
		if target == "" {
			target = mc.Code
		}
		if target == "" {
			target = "Medicamento"
		}
		c.relate(Relationship{
			Type:        RelPatientMedication,
			Source:      "Paciente",
			Target:      target,
			Description: "Administración de medicamento al paciente",
		})
	}
}

func (c *collector) relate(r Relationship) {
	if len(c.relationships) < MaxRelationships {
		c.relationships = append(c.relationships, r)
	}
}

func (c *collector) terminologies() []TerminologyUsage {
	out := make([]TerminologyUsage, 0, len(c.systemOrder))
	for _, sys := range c.systemOrder {
		b := c.systems[sys]
		out = append(out, TerminologyUsage{
			System:     sys,
			SystemName: SystemName(sys),
			CodesCount: b.count,
			Samples:    b.samples,
		})
	}
	return out
}

func (c *collector) dataTypes() []DataTypeUsage {
	out := make([]DataTypeUsage, 0, len(c.typeOrder))
	for _, t := range c.typeOrder {
		desc, ok := dataTypeDescriptions[t]
		if !ok {
			desc = UnknownDataType
		}
		out = append(out, DataTypeUsage{Type: t, Count: c.valueTypes[t], Description: desc})
	}
	return out
}

func (c *collector) templates() []TemplateUsage {
	out := make([]TemplateUsage, 0, len(c.templateOrder))
	for _, oid := range c.templateOrder {
		n := c.templateCounts[oid]
		out = append(out, TemplateUsage{
			OID:         oid,
			Name:        TemplateName(oid),
			Count:       n,
			Description: fmt.Sprintf("Usado %d veces en el documento", n),
		})
	}
	return out
}
