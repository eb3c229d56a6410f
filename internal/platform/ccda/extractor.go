package ccda

import (
	"math"
	"strconv"
	"strings"

	"github.com/ehr/cdainsight/internal/platform/xmltree"
)

// ExtractorOptions tunes extraction.
type ExtractorOptions struct {
	// StrictQuantities keeps quantities that parse to exactly zero instead of
	// treating them as absent. Unparsable quantities are absent either way.
	StrictQuantities bool
}

// Extractor converts a parsed CDA tree into a ClinicalDocument. It is safe for
// concurrent use because it holds no mutable state.
type Extractor struct {
	opts ExtractorOptions
}

// NewExtractor creates a new CDA extractor.
func NewExtractor(opts ExtractorOptions) *Extractor {
	return &Extractor{opts: opts}
}

// Parse reads CDA XML and extracts a ClinicalDocument. Malformed XML yields a
// *xmltree.MalformedDocumentError; missing mandatory structure yields a
// *StructuralError.
func (x *Extractor) Parse(xmlData []byte) (*ClinicalDocument, error) {
	tree, err := xmltree.ParseBytes(xmlData)
	if err != nil {
		return nil, err
	}
	return x.Extract(tree)
}

// Extract walks the tree and builds the typed document.
func (x *Extractor) Extract(tree *xmltree.Document) (*ClinicalDocument, error) {
	root := FindRoot(tree)
	if root == nil {
		return nil, &StructuralError{Msg: "ClinicalDocument root element not found"}
	}

	doc := &ClinicalDocument{
		TemplateIDs:         extractTemplateIDs(root),
		Title:               root.FirstMatch("title").TrimmedText(),
		EffectiveTime:       extractEffectiveTime(root.FirstMatch("effectiveTime")),
		ConfidentialityCode: extractCode(root.FirstMatch("confidentialityCode")),
		LanguageCode:        extractCode(root.FirstMatch("languageCode")),
		RecordTargets:       []RecordTarget{},
		Authors:             []Author{},
	}
	if el := root.FirstMatch("typeId"); el != nil {
		doc.TypeID = &TypeID{Root: el.AttrOr("root", ""), Extension: el.AttrOr("extension", "")}
	}
	if el := root.FirstMatch("id"); el != nil {
		id := extractIdentifier(el)
		doc.ID = &id
	}
	doc.Code = extractCode(root.FirstMatch("code"))

	for _, el := range root.AllMatches("recordTarget") {
		rt, err := x.extractRecordTarget(el)
		if err != nil {
			return nil, err
		}
		doc.RecordTargets = append(doc.RecordTargets, rt)
	}

	for _, el := range root.AllMatches("author") {
		a, err := x.extractAuthor(el)
		if err != nil {
			return nil, err
		}
		doc.Authors = append(doc.Authors, a)
	}

	if el := root.FirstMatch("custodian"); el != nil {
		c, err := x.extractCustodian(el)
		if err != nil {
			return nil, err
		}
		doc.Custodian = c
	}

	if el := root.FirstMatch("component"); el != nil {
		doc.Component = x.extractComponent(el)
	}

	return doc, nil
}

// FindRoot returns the ClinicalDocument element of tree, or nil.
func FindRoot(tree *xmltree.Document) *xmltree.Element {
	if tree == nil || tree.Root == nil {
		return nil
	}
	if tree.Root.Is("ClinicalDocument") {
		return tree.Root
	}
	return tree.Root.FirstMatch("ClinicalDocument")
}

// ---------------------------------------------------------------------------
// Header participants
// ---------------------------------------------------------------------------

func (x *Extractor) extractRecordTarget(el *xmltree.Element) (RecordTarget, error) {
	roleEl := el.FirstMatch("patientRole")
	if roleEl == nil {
		return RecordTarget{}, &StructuralError{Msg: "recordTarget is missing patientRole"}
	}

	role := PatientRole{
		IDs:      extractIdentifiers(roleEl),
		Addrs:    extractAddresses(roleEl),
		Telecoms: extractTelecoms(roleEl),
	}
	if patientEl := roleEl.FirstMatch("patient"); patientEl != nil {
		role.Patient = &Patient{
			Names:                    extractNames(patientEl),
			AdministrativeGenderCode: extractCode(patientEl.FirstMatch("administrativeGenderCode")),
			BirthTime:                extractTime(patientEl.FirstMatch("birthTime")),
			EthnicGroupCode:          extractCode(patientEl.FirstMatch("ethnicGroupCode")),
			RaceCode:                 extractCode(patientEl.FirstMatch("raceCode")),
		}
	}
	return RecordTarget{PatientRole: role}, nil
}

func (x *Extractor) extractAuthor(el *xmltree.Element) (Author, error) {
	assignedEl := el.FirstMatch("assignedAuthor")
	if assignedEl == nil {
		return Author{}, &StructuralError{Msg: "author is missing assignedAuthor"}
	}

	assigned := AssignedAuthor{
		IDs:      extractIdentifiers(assignedEl),
		Code:     extractCode(assignedEl.FirstMatch("code")),
		Addrs:    extractAddresses(assignedEl),
		Telecoms: extractTelecoms(assignedEl),
	}
	if personEl := assignedEl.FirstMatch("assignedPerson"); personEl != nil {
		assigned.AssignedPerson = &Person{Names: extractNames(personEl)}
	}
	if orgEl := assignedEl.FirstMatch("representedOrganization"); orgEl != nil {
		assigned.RepresentedOrganization = extractOrganization(orgEl)
	}

	return Author{
		Time:           extractTime(el.FirstMatch("time")),
		AssignedAuthor: assigned,
	}, nil
}

func (x *Extractor) extractCustodian(el *xmltree.Element) (*Custodian, error) {
	assignedEl := el.FirstMatch("assignedCustodian")
	if assignedEl == nil {
		return nil, &StructuralError{Msg: "custodian is missing assignedCustodian"}
	}
	c := &Custodian{}
	if orgEl := assignedEl.FirstMatch("representedCustodianOrganization"); orgEl != nil {
		c.AssignedCustodian.RepresentedCustodianOrganization = extractOrganization(orgEl)
	}
	return c, nil
}

func extractOrganization(el *xmltree.Element) *Organization {
	org := &Organization{
		IDs:      extractIdentifiers(el),
		Names:    []string{},
		Telecoms: extractTelecoms(el),
		Addrs:    extractAddresses(el),
	}
	for _, n := range el.AllMatches("name") {
		org.Names = append(org.Names, n.TrimmedText())
	}
	return org
}

// ---------------------------------------------------------------------------
// Body
// ---------------------------------------------------------------------------

func (x *Extractor) extractComponent(el *xmltree.Element) *Component {
	if bodyEl := el.FirstMatch("structuredBody"); bodyEl != nil {
		body := &StructuredBody{Components: []SectionComponent{}}
		for _, compEl := range bodyEl.ChildMatches("component") {
			sectionEl := compEl.FirstMatch("section")
			if sectionEl == nil {
				continue
			}
			body.Components = append(body.Components, SectionComponent{Section: x.extractSection(sectionEl)})
		}
		return &Component{StructuredBody: body}
	}
	if bodyEl := el.FirstMatch("nonXMLBody"); bodyEl != nil {
		return &Component{NonXMLBody: &NonXMLBody{Text: bodyEl.TrimmedText()}}
	}
	return &Component{}
}

// extractSection collects entries and nested components from direct children
// only; nested sections own their entries.
func (x *Extractor) extractSection(el *xmltree.Element) Section {
	s := Section{
		TemplateIDs: extractTemplateIDs(el),
		Code:        extractCode(el.FirstMatch("code")),
		Title:       el.FirstMatch("title").TrimmedText(),
		Text:        el.FirstMatch("text").TrimmedText(),
		Entries:     []Entry{},
		Components:  []SectionComponent{},
	}
	if idEl := el.FirstMatch("id"); idEl != nil {
		id := extractIdentifier(idEl)
		s.ID = &id
	}

	for _, entryEl := range el.ChildMatches("entry") {
		s.Entries = append(s.Entries, x.extractEntry(entryEl))
	}
	for _, compEl := range el.ChildMatches("component") {
		sectionEl := compEl.FirstMatch("section")
		if sectionEl == nil {
			continue
		}
		s.Components = append(s.Components, SectionComponent{Section: x.extractSection(sectionEl)})
	}
	return s
}

// extractEntry resolves the payload in fixed order: observation,
// substanceAdministration, procedure, act. The first present wins.
func (x *Extractor) extractEntry(el *xmltree.Element) Entry {
	e := Entry{
		TypeCode:                   el.AttrOr("typeCode", ""),
		ContextConductionIndicator: el.AttrOr("contextConductionInd", "") == "true",
	}

	if obsEl := el.FirstMatch("observation"); obsEl != nil {
		e.Observation = x.extractObservation(obsEl)
	} else if saEl := el.FirstMatch("substanceAdministration"); saEl != nil {
		e.SubstanceAdministration = x.extractSubstanceAdministration(saEl)
	} else if procEl := el.FirstMatch("procedure"); procEl != nil {
		e.Procedure = x.extractProcedure(procEl)
	} else if actEl := el.FirstMatch("act"); actEl != nil {
		e.Act = x.extractAct(actEl)
	}
	return e
}

func (x *Extractor) extractObservation(el *xmltree.Element) *Observation {
	obs := &Observation{
		ClassCode:     el.AttrOr("classCode", ""),
		MoodCode:      el.AttrOr("moodCode", ""),
		TemplateIDs:   extractTemplateIDs(el),
		IDs:           extractIdentifiers(el),
		Code:          extractCode(el.FirstMatch("code")),
		Text:          el.FirstMatch("text").TrimmedText(),
		StatusCode:    extractCode(el.FirstMatch("statusCode")),
		EffectiveTime: extractEffectiveTime(el.FirstMatch("effectiveTime")),
		Values:        []ObservationValue{},
	}
	for _, valueEl := range el.AllMatches("value") {
		obs.Values = append(obs.Values, extractObservationValue(valueEl))
	}
	return obs
}

func (x *Extractor) extractSubstanceAdministration(el *xmltree.Element) *SubstanceAdministration {
	sa := &SubstanceAdministration{
		ClassCode:     el.AttrOr("classCode", ""),
		MoodCode:      el.AttrOr("moodCode", ""),
		TemplateIDs:   extractTemplateIDs(el),
		IDs:           extractIdentifiers(el),
		Text:          el.FirstMatch("text").TrimmedText(),
		StatusCode:    extractCode(el.FirstMatch("statusCode")),
		EffectiveTime: extractEffectiveTime(el.FirstMatch("effectiveTime")),
		RouteCode:     extractCode(el.FirstMatch("routeCode")),
		DoseQuantity:  x.extractQuantity(el.FirstMatch("doseQuantity")),
	}

	if consEl := el.FirstMatch("consumable"); consEl != nil {
		sa.Consumable = &Consumable{}
		if prodEl := consEl.FirstMatch("manufacturedProduct"); prodEl != nil {
			prod := &ManufacturedProduct{TemplateIDs: extractTemplateIDs(prodEl)}
			if matEl := prodEl.FirstMatch("manufacturedMaterial"); matEl != nil {
				prod.ManufacturedMaterial = &ManufacturedMaterial{
					Code: extractCode(matEl.FirstMatch("code")),
					Name: matEl.FirstMatch("name").TrimmedText(),
				}
			}
			sa.Consumable.ManufacturedProduct = prod
		}
	}
	return sa
}

func (x *Extractor) extractProcedure(el *xmltree.Element) *Procedure {
	return &Procedure{
		ClassCode:     el.AttrOr("classCode", ""),
		MoodCode:      el.AttrOr("moodCode", ""),
		TemplateIDs:   extractTemplateIDs(el),
		IDs:           extractIdentifiers(el),
		Code:          extractCode(el.FirstMatch("code")),
		Text:          el.FirstMatch("text").TrimmedText(),
		StatusCode:    extractCode(el.FirstMatch("statusCode")),
		EffectiveTime: extractEffectiveTime(el.FirstMatch("effectiveTime")),
	}
}

func (x *Extractor) extractAct(el *xmltree.Element) *Act {
	return &Act{
		ClassCode:     el.AttrOr("classCode", ""),
		MoodCode:      el.AttrOr("moodCode", ""),
		IDs:           extractIdentifiers(el),
		Code:          extractCode(el.FirstMatch("code")),
		Text:          el.FirstMatch("text").TrimmedText(),
		StatusCode:    extractCode(el.FirstMatch("statusCode")),
		EffectiveTime: extractEffectiveTime(el.FirstMatch("effectiveTime")),
	}
}

// extractQuantity applies the zero-means-absent rule unless strict mode is on.
func (x *Extractor) extractQuantity(el *xmltree.Element) *Quantity {
	if el == nil {
		return nil
	}
	q := &Quantity{Unit: el.AttrOr("unit", "")}
	v, ok := parseLeadingFloat(el.AttrOr("value", ""))
	switch {
	case !ok:
	case v != 0 || x.opts.StrictQuantities:
		q.Value = &v
	}
	return q
}

func extractObservationValue(el *xmltree.Element) ObservationValue {
	v := ObservationValue{Type: ValueType(el.AttrOr("xsi:type", string(ValueST)))}
	switch v.Type {
	case ValuePQ:
		n := floatOrZero(el.AttrOr("value", "0"))
		v.Number = &n
		v.Unit = el.AttrOr("unit", "")
	case ValueCD:
		v.Code = el.AttrOr("code", "")
		v.CodeSystem = el.AttrOr("codeSystem", "")
		v.DisplayName = el.AttrOr("displayName", "")
	case ValueST, ValueED:
		v.Text = el.Text()
	case ValueINT, ValueREAL:
		n := floatOrZero(el.AttrOr("value", "0"))
		v.Number = &n
	case ValueTS:
		v.Text = el.AttrOr("value", "")
	}
	return v
}

// ---------------------------------------------------------------------------
// Data type helpers
// ---------------------------------------------------------------------------

func extractTemplateIDs(el *xmltree.Element) []TemplateID {
	out := []TemplateID{}
	for _, t := range el.AllMatches("templateId") {
		out = append(out, TemplateID{Root: t.AttrOr("root", ""), Extension: t.AttrOr("extension", "")})
	}
	return out
}

func extractIdentifier(el *xmltree.Element) Identifier {
	return Identifier{
		Root:                   el.AttrOr("root", ""),
		Extension:              el.AttrOr("extension", ""),
		AssigningAuthorityName: el.AttrOr("assigningAuthorityName", ""),
	}
}

func extractIdentifiers(el *xmltree.Element) []Identifier {
	out := []Identifier{}
	for _, idEl := range el.AllMatches("id") {
		out = append(out, extractIdentifier(idEl))
	}
	return out
}

func extractCode(el *xmltree.Element) *Code {
	if el == nil {
		return nil
	}
	return &Code{
		Code:           el.AttrOr("code", ""),
		CodeSystem:     el.AttrOr("codeSystem", ""),
		CodeSystemName: el.AttrOr("codeSystemName", ""),
		DisplayName:    el.AttrOr("displayName", ""),
	}
}

func extractTime(el *xmltree.Element) string {
	if el == nil {
		return ""
	}
	if v := el.AttrOr("value", ""); v != "" {
		return v
	}
	return el.TrimmedText()
}

func extractEffectiveTime(el *xmltree.Element) *EffectiveTime {
	if el == nil {
		return nil
	}
	return &EffectiveTime{
		Value:  el.AttrOr("value", ""),
		Low:    el.FirstMatch("low").AttrOr("value", ""),
		High:   el.FirstMatch("high").AttrOr("value", ""),
		Center: el.FirstMatch("center").AttrOr("value", ""),
		Width:  el.FirstMatch("width").AttrOr("value", ""),
	}
}

func extractNames(el *xmltree.Element) []PersonName {
	out := []PersonName{}
	for _, nameEl := range el.AllMatches("name") {
		n := PersonName{
			Use:    nameEl.AttrOr("use", ""),
			Given:  []string{},
			Family: nameEl.FirstMatch("family").TrimmedText(),
			Prefix: nameEl.FirstMatch("prefix").TrimmedText(),
			Suffix: nameEl.FirstMatch("suffix").TrimmedText(),
		}
		for _, g := range nameEl.AllMatches("given") {
			n.Given = append(n.Given, g.TrimmedText())
		}
		out = append(out, n)
	}
	return out
}

func extractAddresses(el *xmltree.Element) []Address {
	out := []Address{}
	for _, addrEl := range el.AllMatches("addr") {
		a := Address{
			Use:               addrEl.AttrOr("use", ""),
			StreetAddressLine: []string{},
			City:              addrEl.FirstMatch("city").TrimmedText(),
			State:             addrEl.FirstMatch("state").TrimmedText(),
			PostalCode:        addrEl.FirstMatch("postalCode").TrimmedText(),
			Country:           addrEl.FirstMatch("country").TrimmedText(),
		}
		for _, line := range addrEl.AllMatches("streetAddressLine") {
			a.StreetAddressLine = append(a.StreetAddressLine, line.TrimmedText())
		}
		out = append(out, a)
	}
	return out
}

func extractTelecoms(el *xmltree.Element) []Telecom {
	out := []Telecom{}
	for _, t := range el.AllMatches("telecom") {
		out = append(out, Telecom{Use: t.AttrOr("use", ""), Value: t.AttrOr("value", "")})
	}
	return out
}

func floatOrZero(s string) float64 {
	v, _ := parseLeadingFloat(s)
	return v
}

// parseLeadingFloat parses the longest numeric prefix of s, so "5mg" reads
// as 5. NaN and infinities are rejected.
func parseLeadingFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	seenDigit, seenDot, seenExp := false, false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
			end = i + 1
		case (c == '+' || c == '-') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
		case (c == 'e' || c == 'E') && seenDigit && !seenExp:
			seenExp = true
		default:
			i = len(s)
		}
	}
	if !seenDigit {
		return 0, false
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
