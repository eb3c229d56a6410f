package batch

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ehr/cdainsight/internal/platform/xmltree"
)

// MaxPlausibleAge bounds computed ages; anything outside [0, MaxPlausibleAge]
// is treated as missing.
const MaxPlausibleAge = 150

var patientNamePaths = [][]string{
	{"patient", "name", "given"},
	{"patient", "name", "family"},
	{"recordTarget", "name", "given"},
	{"recordTarget", "name", "family"},
	{"patientRole", "name", "given"},
	{"patientRole", "name", "family"},
}

var medicationContainers = []string{"substanceAdministration", "medication", "supply", "manufacturedProduct"}

var medicationNamePaths = [][]string{
	{"manufacturedMaterial", "name"},
	{"medication", "name"},
	{"name"},
	{"displayName"},
}

var authorNamePaths = [][]string{
	{"assignedPerson", "name"},
	{"author", "name"},
	{"authenticator", "name"},
}

// Option configures a HeuristicExtractor.
type Option func(*HeuristicExtractor)

// WithClock sets the clock used for age calculation.
func WithClock(now func() time.Time) Option {
	return func(x *HeuristicExtractor) { x.now = now }
}

// HeuristicExtractor produces a SimplifiedDocument from any well-formed XML.
// It never requires CDA structure: anything it cannot find is left empty.
type HeuristicExtractor struct {
	now func() time.Time
}

func NewHeuristicExtractor(opts ...Option) *HeuristicExtractor {
	x := &HeuristicExtractor{now: time.Now}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Extract parses data and projects it. Only malformed XML is an error.
func (x *HeuristicExtractor) Extract(fileName string, data []byte) (*SimplifiedDocument, error) {
	doc, err := xmltree.ParseBytes(data)
	if err != nil {
		return nil, err
	}

	out := &SimplifiedDocument{
		FileName:     fileName,
		Patient:      x.patient(doc),
		Diagnoses:    diagnoses(doc, fileName),
		Medications:  medications(doc, fileName),
		DocumentDate: documentDate(doc),
		Author:       author(doc),
	}
	if len(out.Diagnoses) == 0 {
		out.Diagnoses = inferFromMedications(out.Medications)
	}
	return out, nil
}

func (x *HeuristicExtractor) patient(doc *xmltree.Document) PatientSummary {
	p := PatientSummary{
		ID:     patientID(doc),
		Name:   patientName(doc),
		Gender: GenderUnknown,
	}

	g := doc.SelectFirst("administrativeGenderCode")
	if g == nil {
		g = doc.SelectFirst("genderCode")
	}
	if g != nil {
		p.Gender = NormalizeGender(firstNonEmpty(g.AttrOr("code", ""), g.AttrOr("value", ""), g.TrimmedText()))
	}

	b := doc.SelectFirst("birthTime")
	if b == nil {
		b = doc.SelectFirst("dateOfBirth")
	}
	if b != nil {
		p.BirthDate = firstNonEmpty(b.AttrOr("value", ""), b.AttrOr("time", ""), b.TrimmedText())
		p.Age = AgeAt(p.BirthDate, x.now())
	}
	return p
}

// patientID takes the first id element under a patient or record target.
func patientID(doc *xmltree.Document) string {
	var found *xmltree.Element
	doc.Root.Walk(func(el *xmltree.Element) bool {
		if found != nil {
			return false
		}
		if el.Name != "id" {
			return true
		}
		for p := el.Parent; p != nil; p = p.Parent {
			if p.Name == "patient" || p.Name == "recordTarget" {
				found = el
				return false
			}
		}
		return true
	})
	if found == nil {
		return ""
	}
	return firstNonEmpty(found.AttrOr("extension", ""), found.AttrOr("root", ""), found.TrimmedText())
}

func patientName(doc *xmltree.Document) string {
	var parts []string
	seen := make(map[string]bool)
	for _, path := range patientNamePaths {
		for _, el := range doc.Select(path...) {
			s := normalizeSpace(el.Text())
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// NormalizeGender maps an administrative gender value to M, F or Unknown.
func NormalizeGender(v string) string {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "M", "MALE":
		return GenderMale
	case "F", "FEMALE":
		return GenderFemale
	default:
		return GenderUnknown
	}
}

// AgeAt computes an age in years from an HL7 date (YYYYMMDD...) using only
// the year. It returns nil for short or unparsable dates and implausible ages.
func AgeAt(hl7Date string, now time.Time) *int {
	if len(hl7Date) < 8 {
		return nil
	}
	year, err := strconv.Atoi(hl7Date[:4])
	if err != nil {
		return nil
	}
	age := now.Year() - year
	if age < 0 || age > MaxPlausibleAge {
		return nil
	}
	return &age
}

type diagnosisSet struct {
	list []Diagnosis
	seen map[string]bool
}

func (s *diagnosisSet) add(d Diagnosis) {
	if d.Name == "" {
		return
	}
	key := strings.ToLower(d.Name)
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.list = append(s.list, d)
}

func diagnoses(doc *xmltree.Document, fileName string) []Diagnosis {
	set := &diagnosisSet{seen: make(map[string]bool)}

	doc.Root.Walk(func(el *xmltree.Element) bool {
		if el.Name != "observation" && el.Name != "act" && el.Name != "encounter" {
			return true
		}
		if code := el.FirstMatch("code"); code != nil {
			set.add(Diagnosis{
				Code:       code.AttrOr("code", ""),
				Name:       firstNonEmpty(code.AttrOr("displayName", ""), code.AttrOr("name", "")),
				CodeSystem: code.AttrOr("codeSystem", string(ProvenanceStructured)),
				Provenance: ProvenanceStructured,
			})
		}
		if value := el.FirstMatch("value"); value != nil {
			set.add(Diagnosis{
				Code:       value.AttrOr("code", ""),
				Name:       value.AttrOr("displayName", ""),
				CodeSystem: value.AttrOr("codeSystem", string(ProvenanceObservationValue)),
				Provenance: ProvenanceObservationValue,
			})
		}
		return true
	})

	doc.Root.Walk(func(el *xmltree.Element) bool {
		if el.Name != "text" && el.Name != "title" && el.Name != "caption" {
			return true
		}
		lower := strings.ToLower(el.Text())
		for _, kw := range diagnosisKeywords {
			if strings.Contains(lower, kw) {
				set.add(Diagnosis{
					Name:       capitalize(kw),
					CodeSystem: string(ProvenanceTextExtracted),
					Provenance: ProvenanceTextExtracted,
				})
			}
		}
		return true
	})

	lowerName := strings.ToLower(fileName)
	for _, kn := range filenameDiagnoses {
		if strings.Contains(lowerName, kn.keyword) {
			set.add(Diagnosis{
				Name:       kn.name,
				CodeSystem: string(ProvenanceFilenameInferred),
				Provenance: ProvenanceFilenameInferred,
			})
		}
	}
	return set.list
}

type medicationSet struct {
	list []Medication
	seen map[string]bool
}

func (s *medicationSet) add(name string, p Provenance) {
	if name == "" {
		return
	}
	key := strings.ToLower(name)
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.list = append(s.list, Medication{Name: name, Provenance: p})
}

func medications(doc *xmltree.Document, fileName string) []Medication {
	set := &medicationSet{seen: make(map[string]bool)}

	for _, container := range medicationContainers {
		for _, el := range doc.Select(container) {
			for _, path := range medicationNamePaths {
				if n := el.SelectFirst(path...); n != nil {
					set.add(NormalizeMedicationName(n.TrimmedText()), ProvenanceStructured)
				}
			}
		}
	}

	doc.Root.Walk(func(el *xmltree.Element) bool {
		if el.Name != "text" {
			return true
		}
		lower := strings.ToLower(el.Text())
		for _, re := range medicationPatterns {
			for _, m := range re.FindAllString(lower, -1) {
				if len(m) >= minTextMedicationLen {
					set.add(NormalizeMedicationName(m), ProvenanceTextExtracted)
				}
			}
		}
		// Nested text elements are covered by this one.
		return false
	})

	lowerName := strings.ToLower(fileName)
	for _, kn := range filenameMedications {
		if strings.Contains(lowerName, kn.keyword) {
			set.add(kn.name, ProvenanceFilenameInferred)
		}
	}
	return set.list
}

// NormalizeMedicationName maps known drug spellings to a canonical name and
// capitalises anything else.
func NormalizeMedicationName(name string) string {
	name = normalizeSpace(name)
	if canonical, ok := medicationNames[strings.ToLower(name)]; ok {
		return canonical
	}
	return capitalize(name)
}

func inferFromMedications(meds []Medication) []Diagnosis {
	set := &diagnosisSet{seen: make(map[string]bool)}
	for _, m := range meds {
		lower := strings.ToLower(m.Name)
		for _, kn := range medicationDiagnoses {
			if strings.Contains(lower, kn.keyword) {
				set.add(Diagnosis{
					Name:       kn.name,
					CodeSystem: string(ProvenanceMedicationInferred),
					Provenance: ProvenanceMedicationInferred,
				})
				break
			}
		}
	}
	return set.list
}

func documentDate(doc *xmltree.Document) string {
	for _, name := range []string{"effectiveTime", "time", "creationTime"} {
		if el := doc.SelectFirst(name); el != nil {
			return firstNonEmpty(el.AttrOr("value", ""), el.AttrOr("time", ""), el.TrimmedText())
		}
	}
	return ""
}

func author(doc *xmltree.Document) string {
	for _, path := range authorNamePaths {
		if el := doc.SelectFirst(path...); el != nil {
			return normalizeSpace(el.Text())
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
