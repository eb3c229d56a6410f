package ccda

// NodeKind names a record type of the document model.
type NodeKind string

const (
	KindDocument                NodeKind = "document"
	KindTypeID                  NodeKind = "typeId"
	KindTemplateID              NodeKind = "templateId"
	KindIdentifier              NodeKind = "identifier"
	KindCode                    NodeKind = "code"
	KindEffectiveTime           NodeKind = "effectiveTime"
	KindRecordTarget            NodeKind = "recordTarget"
	KindPatientRole             NodeKind = "patientRole"
	KindPatient                 NodeKind = "patient"
	KindName                    NodeKind = "name"
	KindAddress                 NodeKind = "addr"
	KindTelecom                 NodeKind = "telecom"
	KindAuthor                  NodeKind = "author"
	KindAssignedAuthor          NodeKind = "assignedAuthor"
	KindPerson                  NodeKind = "person"
	KindOrganization            NodeKind = "organization"
	KindCustodian               NodeKind = "custodian"
	KindAssignedCustodian       NodeKind = "assignedCustodian"
	KindComponent               NodeKind = "component"
	KindStructuredBody          NodeKind = "structuredBody"
	KindNonXMLBody              NodeKind = "nonXMLBody"
	KindSection                 NodeKind = "section"
	KindEntry                   NodeKind = "entry"
	KindObservation             NodeKind = "observation"
	KindValue                   NodeKind = "value"
	KindSubstanceAdministration NodeKind = "substanceAdministration"
	KindQuantity                NodeKind = "quantity"
	KindConsumable              NodeKind = "consumable"
	KindManufacturedProduct     NodeKind = "manufacturedProduct"
	KindManufacturedMaterial    NodeKind = "manufacturedMaterial"
	KindProcedure               NodeKind = "procedure"
	KindAct                     NodeKind = "act"
)

// Node describes one visited record.
type Node struct {
	Kind        NodeKind
	HasCode     bool
	HasTemplate bool
}

// Visitor holds typed callbacks for Walk. Nil callbacks are skipped.
type Visitor struct {
	// Node is called once for every record in the document.
	Node func(Node)
	// Code is called for every coded concept, including status and route codes.
	Code func(*Code)
	// TemplateID is called for every template id occurrence.
	TemplateID func(TemplateID)
	// Value is called for every observation value.
	Value func(*ObservationValue)
	// Section is called for every section; depth is 0 for top-level sections.
	Section func(s *Section, depth int)
	// Entry is called for every entry with the depth of its section.
	Entry func(e *Entry, depth int)
}

// Walk visits doc in document order.
func Walk(doc *ClinicalDocument, v Visitor) {
	if doc == nil {
		return
	}
	w := walker{v: v}
	w.node(KindDocument, doc.Code != nil, len(doc.TemplateIDs) > 0)
	if doc.TypeID != nil {
		w.node(KindTypeID, false, false)
	}
	w.templates(doc.TemplateIDs)
	w.identifier(doc.ID)
	w.code(doc.Code)
	w.effectiveTime(doc.EffectiveTime)
	w.code(doc.ConfidentialityCode)
	w.code(doc.LanguageCode)

	for i := range doc.RecordTargets {
		w.recordTarget(&doc.RecordTargets[i])
	}
	for i := range doc.Authors {
		w.author(&doc.Authors[i])
	}
	if doc.Custodian != nil {
		w.node(KindCustodian, false, false)
		w.node(KindAssignedCustodian, false, false)
		w.organization(doc.Custodian.AssignedCustodian.RepresentedCustodianOrganization)
	}
	if c := doc.Component; c != nil {
		w.node(KindComponent, false, false)
		if c.StructuredBody != nil {
			w.node(KindStructuredBody, false, false)
			for i := range c.StructuredBody.Components {
				w.section(&c.StructuredBody.Components[i].Section, 0)
			}
		}
		if c.NonXMLBody != nil {
			w.node(KindNonXMLBody, false, false)
		}
	}
}

type walker struct {
	v Visitor
}

func (w walker) node(kind NodeKind, hasCode, hasTemplate bool) {
	if w.v.Node != nil {
		w.v.Node(Node{Kind: kind, HasCode: hasCode, HasTemplate: hasTemplate})
	}
}

func (w walker) templates(ts []TemplateID) {
	for _, t := range ts {
		w.node(KindTemplateID, false, false)
		if w.v.TemplateID != nil {
			w.v.TemplateID(t)
		}
	}
}

func (w walker) identifier(id *Identifier) {
	if id != nil {
		w.node(KindIdentifier, false, false)
	}
}

func (w walker) identifiers(ids []Identifier) {
	for i := range ids {
		w.identifier(&ids[i])
	}
}

func (w walker) code(c *Code) {
	if c == nil {
		return
	}
	w.node(KindCode, c.Code != "" || c.CodeSystem != "", false)
	if w.v.Code != nil {
		w.v.Code(c)
	}
}

func (w walker) effectiveTime(et *EffectiveTime) {
	if et != nil {
		w.node(KindEffectiveTime, false, false)
	}
}

func (w walker) contacts(addrs []Address, telecoms []Telecom) {
	for range addrs {
		w.node(KindAddress, false, false)
	}
	for range telecoms {
		w.node(KindTelecom, false, false)
	}
}

func (w walker) names(names []PersonName) {
	for range names {
		w.node(KindName, false, false)
	}
}

func (w walker) recordTarget(rt *RecordTarget) {
	w.node(KindRecordTarget, false, false)
	role := &rt.PatientRole
	w.node(KindPatientRole, false, false)
	w.identifiers(role.IDs)
	w.contacts(role.Addrs, role.Telecoms)
	if p := role.Patient; p != nil {
		w.node(KindPatient, false, false)
		w.names(p.Names)
		w.code(p.AdministrativeGenderCode)
		w.code(p.EthnicGroupCode)
		w.code(p.RaceCode)
	}
}

func (w walker) author(a *Author) {
	w.node(KindAuthor, false, false)
	aa := &a.AssignedAuthor
	w.node(KindAssignedAuthor, aa.Code != nil, false)
	w.identifiers(aa.IDs)
	w.code(aa.Code)
	w.contacts(aa.Addrs, aa.Telecoms)
	if aa.AssignedPerson != nil {
		w.node(KindPerson, false, false)
		w.names(aa.AssignedPerson.Names)
	}
	w.organization(aa.RepresentedOrganization)
}

func (w walker) organization(o *Organization) {
	if o == nil {
		return
	}
	w.node(KindOrganization, false, false)
	w.identifiers(o.IDs)
	w.contacts(o.Addrs, o.Telecoms)
}

func (w walker) section(s *Section, depth int) {
	w.node(KindSection, s.Code != nil, len(s.TemplateIDs) > 0)
	if w.v.Section != nil {
		w.v.Section(s, depth)
	}
	w.templates(s.TemplateIDs)
	w.identifier(s.ID)
	w.code(s.Code)

	for i := range s.Entries {
		w.entry(&s.Entries[i], depth)
	}
	for i := range s.Components {
		w.section(&s.Components[i].Section, depth+1)
	}
}

func (w walker) entry(e *Entry, depth int) {
	w.node(KindEntry, false, false)
	if w.v.Entry != nil {
		w.v.Entry(e, depth)
	}

	switch {
	case e.Observation != nil:
		o := e.Observation
		w.node(KindObservation, o.Code != nil, len(o.TemplateIDs) > 0)
		w.templates(o.TemplateIDs)
		w.identifiers(o.IDs)
		w.code(o.Code)
		w.code(o.StatusCode)
		w.effectiveTime(o.EffectiveTime)
		for i := range o.Values {
			val := &o.Values[i]
			w.node(KindValue, val.Code != "" || val.CodeSystem != "", false)
			if w.v.Value != nil {
				w.v.Value(val)
			}
		}
	case e.SubstanceAdministration != nil:
		sa := e.SubstanceAdministration
		w.node(KindSubstanceAdministration, false, len(sa.TemplateIDs) > 0)
		w.templates(sa.TemplateIDs)
		w.identifiers(sa.IDs)
		w.code(sa.StatusCode)
		w.effectiveTime(sa.EffectiveTime)
		w.code(sa.RouteCode)
		if sa.DoseQuantity != nil {
			w.node(KindQuantity, false, false)
		}
		if sa.Consumable != nil {
			w.node(KindConsumable, false, false)
			if p := sa.Consumable.ManufacturedProduct; p != nil {
				w.node(KindManufacturedProduct, false, len(p.TemplateIDs) > 0)
				w.templates(p.TemplateIDs)
				if m := p.ManufacturedMaterial; m != nil {
					w.node(KindManufacturedMaterial, m.Code != nil, false)
					w.code(m.Code)
				}
			}
		}
	case e.Procedure != nil:
		p := e.Procedure
		w.node(KindProcedure, p.Code != nil, len(p.TemplateIDs) > 0)
		w.templates(p.TemplateIDs)
		w.identifiers(p.IDs)
		w.code(p.Code)
		w.code(p.StatusCode)
		w.effectiveTime(p.EffectiveTime)
	case e.Act != nil:
		a := e.Act
		w.node(KindAct, a.Code != nil, false)
		w.identifiers(a.IDs)
		w.code(a.Code)
		w.code(a.StatusCode)
		w.effectiveTime(a.EffectiveTime)
	}
}
