package ccda

import (
	"strings"
	"time"
)

// Transformed is the flattened JSON view of a ClinicalDocument.
type Transformed struct {
	Meta      TransformMeta        `json:"meta"`
	Document  TransformedHeader    `json:"document"`
	Patient   *TransformedPatient  `json:"patient"`
	Clinical  *TransformedClinical `json:"clinical"`
	Structure TransformedStructure `json:"structure"`
}

type TransformMeta struct {
	TransformedAt time.Time `json:"transformedAt"`
	Version       string    `json:"version"`
	Format        string    `json:"format"`
}

type TransformedHeader struct {
	ID              string            `json:"id,omitempty"`
	Title           string            `json:"title,omitempty"`
	Type            TransformedCoding `json:"type"`
	Date            string            `json:"date,omitempty"`
	Confidentiality string            `json:"confidentiality,omitempty"`
	Language        string            `json:"language,omitempty"`
	Templates       []string          `json:"templates"`
}

type TransformedCoding struct {
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
	System  string `json:"system,omitempty"`
}

type TransformedPatient struct {
	ID        string              `json:"id,omitempty"`
	Name      TransformedName     `json:"name"`
	Gender    string              `json:"gender,omitempty"`
	BirthDate string              `json:"birthDate,omitempty"`
	Address   *TransformedAddress `json:"address"`
}

type TransformedName struct {
	Given  string `json:"given,omitempty"`
	Family string `json:"family,omitempty"`
	Full   string `json:"full,omitempty"`
}

type TransformedAddress struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type TransformedClinical struct {
	Sections []TransformedSection `json:"sections"`
}

type TransformedSection struct {
	Title   string             `json:"title,omitempty"`
	Code    string             `json:"code,omitempty"`
	Display string             `json:"display,omitempty"`
	Text    string             `json:"text,omitempty"`
	Entries []TransformedEntry `json:"entries"`
}

// TransformedEntry is one flattened clinical statement. Type is one of
// observation, medication, procedure, act or unknown.
type TransformedEntry struct {
	Type          string                 `json:"type"`
	Code          string                 `json:"code,omitempty"`
	Display       string                 `json:"display,omitempty"`
	Values        []TransformedValue     `json:"value,omitempty"`
	Medication    *TransformedMedication `json:"medication,omitempty"`
	Dose          *TransformedDose       `json:"dose,omitempty"`
	Route         string                 `json:"route,omitempty"`
	Status        string                 `json:"status,omitempty"`
	EffectiveTime string                 `json:"effectiveTime,omitempty"`
}

type TransformedValue struct {
	Type    ValueType `json:"type"`
	Value   any       `json:"value,omitempty"`
	Unit    string    `json:"unit,omitempty"`
	Display string    `json:"display,omitempty"`
}

type TransformedMedication struct {
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
	Name    string `json:"name,omitempty"`
}

type TransformedDose struct {
	Value *float64 `json:"value,omitempty"`
	Unit  string   `json:"unit,omitempty"`
}

type TransformedStructure struct {
	TotalElements int     `json:"totalElements"`
	CodedElements int     `json:"codedElements"`
	TemplateCount int     `json:"templateCount"`
	CodingRatio   float64 `json:"codingRatio"`
	SectionsCount int     `json:"sectionsCount"`
	EntriesCount  int     `json:"entriesCount"`
}

// TransformVersion is reported in Transformed.Meta.
const TransformVersion = "1.0"

// Transform flattens doc into its JSON view. now stamps the metadata.
func Transform(doc *ClinicalDocument, now time.Time) *Transformed {
	out := &Transformed{
		Meta: TransformMeta{
			TransformedAt: now.UTC(),
			Version:       TransformVersion,
			Format:        "CDA-to-JSON",
		},
		Document:  transformHeader(doc),
		Patient:   transformPatient(doc),
		Clinical:  transformClinical(doc),
		Structure: transformStructure(doc),
	}
	return out
}

func transformHeader(doc *ClinicalDocument) TransformedHeader {
	h := TransformedHeader{
		Title:     doc.Title,
		Templates: make([]string, 0, len(doc.TemplateIDs)),
	}
	if doc.ID != nil {
		h.ID = doc.ID.String()
	}
	if doc.Code != nil {
		h.Type = TransformedCoding{Code: doc.Code.Code, Display: doc.Code.DisplayName, System: doc.Code.CodeSystem}
	}
	if doc.EffectiveTime != nil {
		h.Date = doc.EffectiveTime.Value
	}
	if doc.ConfidentialityCode != nil {
		h.Confidentiality = doc.ConfidentialityCode.Code
	}
	if doc.LanguageCode != nil {
		h.Language = doc.LanguageCode.Code
	}
	for _, t := range doc.TemplateIDs {
		h.Templates = append(h.Templates, t.Root)
	}
	return h
}

func transformPatient(doc *ClinicalDocument) *TransformedPatient {
	if len(doc.RecordTargets) == 0 {
		return nil
	}
	role := doc.RecordTargets[0].PatientRole
	p := &TransformedPatient{}
	if len(role.IDs) > 0 {
		p.ID = role.IDs[0].Extension
	}
	if pt := role.Patient; pt != nil {
		if len(pt.Names) > 0 {
			n := pt.Names[0]
			p.Name = TransformedName{
				Given:  strings.Join(n.Given, " "),
				Family: n.Family,
				Full:   n.Full(),
			}
		}
		if pt.AdministrativeGenderCode != nil {
			p.Gender = pt.AdministrativeGenderCode.DisplayName
		}
		p.BirthDate = pt.BirthTime
	}
	if len(role.Addrs) > 0 {
		a := role.Addrs[0]
		p.Address = &TransformedAddress{
			Street:     strings.Join(a.StreetAddressLine, ", "),
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		}
	}
	return p
}

func transformClinical(doc *ClinicalDocument) *TransformedClinical {
	sections := doc.Sections()
	if doc.StructuredBody() == nil {
		return nil
	}
	out := &TransformedClinical{Sections: make([]TransformedSection, 0, len(sections))}
	for _, s := range sections {
		ts := TransformedSection{
			Title:   s.Title,
			Text:    s.Text,
			Entries: make([]TransformedEntry, 0, len(s.Entries)),
		}
		if s.Code != nil {
			ts.Code = s.Code.Code
			ts.Display = s.Code.DisplayName
		}
		for i := range s.Entries {
			ts.Entries = append(ts.Entries, transformEntry(&s.Entries[i]))
		}
		out.Sections = append(out.Sections, ts)
	}
	return out
}

func transformEntry(e *Entry) TransformedEntry {
	switch {
	case e.Observation != nil:
		o := e.Observation
		te := TransformedEntry{Type: "observation", Status: codeOf(o.StatusCode)}
		if o.Code != nil {
			te.Code, te.Display = o.Code.Code, o.Code.DisplayName
		}
		if o.EffectiveTime != nil {
			te.EffectiveTime = o.EffectiveTime.Value
		}
		for _, v := range o.Values {
			tv := TransformedValue{Type: v.Type, Unit: v.Unit, Display: v.DisplayName}
			switch {
			case v.Number != nil:
				tv.Value = *v.Number
			case v.Text != "":
				tv.Value = v.Text
			}
			te.Values = append(te.Values, tv)
		}
		return te
	case e.SubstanceAdministration != nil:
		sa := e.SubstanceAdministration
		te := TransformedEntry{
			Type:       "medication",
			Medication: &TransformedMedication{},
			Dose:       &TransformedDose{},
			Status:     codeOf(sa.StatusCode),
		}
		if sa.Consumable != nil && sa.Consumable.ManufacturedProduct != nil {
			if m := sa.Consumable.ManufacturedProduct.ManufacturedMaterial; m != nil {
				te.Medication.Name = m.Name
				if m.Code != nil {
					te.Medication.Code, te.Medication.Display = m.Code.Code, m.Code.DisplayName
				}
			}
		}
		if sa.DoseQuantity != nil {
			te.Dose.Value, te.Dose.Unit = sa.DoseQuantity.Value, sa.DoseQuantity.Unit
		}
		if sa.RouteCode != nil {
			te.Route = sa.RouteCode.DisplayName
		}
		return te
	case e.Procedure != nil:
		p := e.Procedure
		te := TransformedEntry{Type: "procedure", Status: codeOf(p.StatusCode)}
		if p.Code != nil {
			te.Code, te.Display = p.Code.Code, p.Code.DisplayName
		}
		if p.EffectiveTime != nil {
			te.EffectiveTime = p.EffectiveTime.Value
		}
		return te
	case e.Act != nil:
		a := e.Act
		te := TransformedEntry{Type: "act", Status: codeOf(a.StatusCode)}
		if a.Code != nil {
			te.Code, te.Display = a.Code.Code, a.Code.DisplayName
		}
		if a.EffectiveTime != nil {
			te.EffectiveTime = a.EffectiveTime.Value
		}
		return te
	}
	return TransformedEntry{Type: "unknown"}
}

func transformStructure(doc *ClinicalDocument) TransformedStructure {
	var s TransformedStructure
	Walk(doc, Visitor{
		Node: func(n Node) {
			s.TotalElements++
			if n.HasCode {
				s.CodedElements++
			}
			if n.HasTemplate {
				s.TemplateCount++
			}
		},
	})
	if s.TotalElements > 0 {
		s.CodingRatio = float64(s.CodedElements) / float64(s.TotalElements)
	}
	sections := doc.Sections()
	s.SectionsCount = len(sections)
	for _, sec := range sections {
		s.EntriesCount += len(sec.Entries)
	}
	return s
}

func codeOf(c *Code) string {
	if c == nil {
		return ""
	}
	return c.Code
}
