package semantic

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ehr/cdainsight/internal/platform/ccda"
)

const sampleDoc = `<ClinicalDocument xmlns="urn:hl7-org:v3" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <typeId root="2.16.840.1.113883.1.3" extension="POCD_HD000040"/>
  <templateId root="2.16.840.1.113883.10.20.1"/>
  <id root="2.16.840.1.113883.19.5" extension="doc-001"/>
  <code code="34133-9" codeSystem="2.16.840.1.113883.6.1" displayName="Summarization of Episode Note"/>
  <title>Resumen</title>
  <effectiveTime value="20240115"/>
  <confidentialityCode code="N" codeSystem="2.16.840.1.113883.5.25"/>
  <recordTarget><patientRole>
    <id extension="p-1"/>
    <patient>
      <name><given>Ana</given><family>Ruiz</family></name>
      <administrativeGenderCode code="F" codeSystem="2.16.840.1.113883.5.1"/>
    </patient>
  </patientRole></recordTarget>
  <author><assignedAuthor><id root="x"/></assignedAuthor></author>
  <component><structuredBody>
    <component><section>
      <templateId root="2.16.840.1.113883.10.20.1.11"/>
      <code code="10160-0" codeSystem="2.16.840.1.113883.6.1"/>
      <entry><substanceAdministration>
        <consumable><manufacturedProduct><manufacturedMaterial>
          <code code="860975" codeSystem="2.16.840.1.113883.6.88" displayName="Metformin 850 MG"/>
        </manufacturedMaterial></manufacturedProduct></consumable>
      </substanceAdministration></entry>
    </section></component>
    <component><section>
      <templateId root="2.16.840.1.113883.10.20.1.3"/>
      <code code="11450-4" codeSystem="2.16.840.1.113883.6.1"/>
      <entry><observation>
        <code code="64572001" codeSystem="2.16.840.1.113883.6.96" displayName="Condition"/>
        <value xsi:type="CD" code="44054006" codeSystem="2.16.840.1.113883.6.96" displayName="Diabetes"/>
      </observation></entry>
    </section></component>
    <component><section>
      <code code="8716-3" codeSystem="2.16.840.1.113883.6.1"/>
      <entry><observation>
        <code code="8480-6" codeSystem="2.16.840.1.113883.6.1"/>
        <value xsi:type="PQ" value="120" unit="mm[Hg]"/>
      </observation></entry>
      <entry><procedure><code code="80146002" codeSystem="2.16.840.1.113883.6.96"/></procedure></entry>
    </section></component>
  </structuredBody></component>
</ClinicalDocument>`

func mustExtract(t *testing.T, xml string) *ccda.ClinicalDocument {
	t.Helper()
	doc, err := ccda.NewExtractor(ccda.ExtractorOptions{}).Parse([]byte(xml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func body(sections string) string {
	return `<ClinicalDocument xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"><code code="34133-9"/><component><structuredBody>` +
		sections + `</structuredBody></component></ClinicalDocument>`
}

func TestAnalyze_MinimalDocument(t *testing.T) {
	a := Analyze(mustExtract(t, `<ClinicalDocument><code code="34133-9"/></ClinicalDocument>`))

	if a.DocumentType != "Nota de Resumen de Episodio" {
		t.Errorf("documentType = %q", a.DocumentType)
	}
	if a.ClinicalDomains == nil || len(a.ClinicalDomains) != 0 {
		t.Errorf("clinicalDomains = %#v, want empty", a.ClinicalDomains)
	}
	if a.QualityMetrics.Completeness != 17 {
		t.Errorf("completeness = %d, want 17", a.QualityMetrics.Completeness)
	}
	if a.QualityMetrics.StandardsCompliance != 0 || a.QualityMetrics.DataRichness != 0 {
		t.Errorf("metrics = %+v", a.QualityMetrics)
	}
	// (16.67 + 0 + 0) / 3
	if a.QualityMetrics.Consistency != 6 {
		t.Errorf("consistency = %d, want 6", a.QualityMetrics.Consistency)
	}
}

func TestAnalyze_EmptyDocument(t *testing.T) {
	a := Analyze(mustExtract(t, `<ClinicalDocument/>`))

	if a.DocumentType != UnknownDocumentType {
		t.Errorf("documentType = %q", a.DocumentType)
	}
	if a.QualityMetrics != (QualityMetrics{}) {
		t.Errorf("metrics = %+v, want all zero", a.QualityMetrics)
	}
	if len(a.Terminologies) != 0 || len(a.DataTypes) != 0 || len(a.Templates) != 0 || len(a.Relationships) != 0 {
		t.Errorf("expected empty inventories, got %+v", a)
	}
	if a.Relationships == nil || a.Terminologies == nil {
		t.Error("inventories should be empty slices, not nil")
	}
}

func TestAnalyze_NilDocument(t *testing.T) {
	a := Analyze(nil)
	if a.DocumentType != UnknownDocumentType || a.QualityMetrics != (QualityMetrics{}) {
		t.Errorf("unexpected analysis for nil document: %+v", a)
	}
}

func TestDocumentType(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"known", `<code code="18842-5"/>`, "Carta de Alta"},
		{"unknown with display", `<code code="99999-9" displayName="Nota libre"/>`, "Documento CDA (Nota libre)"},
		{"unknown code only", `<code code="99999-9"/>`, "Documento CDA (99999-9)"},
		{"display only", `<code displayName="Informe"/>`, "Documento CDA (Informe)"},
		{"empty code element", `<code codeSystem="2.16.840.1.113883.6.1"/>`, UnknownDocumentType},
		{"no code", ``, UnknownDocumentType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustExtract(t, "<ClinicalDocument>"+tt.code+"</ClinicalDocument>")
			if got := DocumentType(doc); got != tt.want {
				t.Errorf("DocumentType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnalyze_SampleDocument(t *testing.T) {
	a := Analyze(mustExtract(t, sampleDoc))

	wantDomains := []string{"Farmacología", "Lista de Problemas", "Signos Vitales"}
	if strings.Join(a.ClinicalDomains, "|") != strings.Join(wantDomains, "|") {
		t.Errorf("clinicalDomains = %v, want %v", a.ClinicalDomains, wantDomains)
	}

	if len(a.Terminologies) == 0 || a.Terminologies[0].System != ccda.OIDLOINC || a.Terminologies[0].SystemName != "LOINC" {
		t.Fatalf("terminologies = %+v", a.Terminologies)
	}
	bySystem := make(map[string]TerminologyUsage)
	for _, tu := range a.Terminologies {
		bySystem[tu.System] = tu
	}
	// Observation code, coded value and procedure code.
	if got := bySystem[ccda.OIDSNOMED].CodesCount; got != 3 {
		t.Errorf("SNOMED codesCount = %d, want 3", got)
	}
	if got := bySystem[ccda.OIDRxNorm].CodesCount; got != 1 {
		t.Errorf("RxNorm codesCount = %d, want 1", got)
	}

	if len(a.DataTypes) != 2 || a.DataTypes[0].Type != ccda.ValueCD || a.DataTypes[1].Type != ccda.ValuePQ {
		t.Fatalf("dataTypes = %+v", a.DataTypes)
	}
	if a.DataTypes[1].Description != "Cantidad Física" {
		t.Errorf("PQ description = %q", a.DataTypes[1].Description)
	}

	if len(a.Templates) != 3 {
		t.Fatalf("templates = %+v", a.Templates)
	}
	if a.Templates[0].OID != ccda.OIDCCDDocument || a.Templates[0].Name != "CCD Document" || a.Templates[0].Count != 1 {
		t.Errorf("templates[0] = %+v", a.Templates[0])
	}
	// Section templates appear in the document-wide list and on the section.
	if a.Templates[1].Count != 2 || a.Templates[1].Description != "Usado 2 veces en el documento" {
		t.Errorf("templates[1] = %+v", a.Templates[1])
	}

	want := []Relationship{
		{Type: RelPatientMedication, Source: "Paciente", Target: "Metformin 850 MG", Description: "Administración de medicamento al paciente"},
		{Type: RelObservationCode, Source: "Condition", Target: "Diabetes", Description: "Observación clínica con valor codificado"},
	}
	if len(a.Relationships) != len(want) {
		t.Fatalf("relationships = %+v", a.Relationships)
	}
	for i := range want {
		if a.Relationships[i] != want[i] {
			t.Errorf("relationships[%d] = %+v, want %+v", i, a.Relationships[i], want[i])
		}
	}

	wantQ := QualityMetrics{Completeness: 100, Consistency: 100, StandardsCompliance: 100, DataRichness: 100}
	if a.QualityMetrics != wantQ {
		t.Errorf("qualityMetrics = %+v, want %+v", a.QualityMetrics, wantQ)
	}
}

func TestAnalyze_RelationshipCap(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<component><section>`)
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, `<entry><observation>
  <code code="obs-%d" codeSystem="2.16.840.1.113883.6.1" displayName="Obs %d"/>
  <value xsi:type="CD" code="v-%d" codeSystem="2.16.840.1.113883.6.96" displayName="Valor %d"/>
</observation></entry>`, i, i, i, i)
	}
	b.WriteString(`</section></component>`)

	a := Analyze(mustExtract(t, body(b.String())))

	if len(a.Relationships) != MaxRelationships {
		t.Fatalf("relationships = %d, want %d", len(a.Relationships), MaxRelationships)
	}
	for i, r := range a.Relationships {
		if r.Source != fmt.Sprintf("Obs %d", i) || r.Target != fmt.Sprintf("Valor %d", i) {
			t.Errorf("relationships[%d] = %+v", i, r)
		}
	}

	if len(a.Terminologies) != 2 {
		t.Fatalf("terminologies = %+v", a.Terminologies)
	}
	for _, tu := range a.Terminologies {
		if tu.CodesCount != 50 {
			t.Errorf("%s codesCount = %d, want 50", tu.SystemName, tu.CodesCount)
		}
		if len(tu.Samples) != MaxTerminologySamples {
			t.Errorf("%s samples = %d, want %d", tu.SystemName, len(tu.Samples), MaxTerminologySamples)
		}
	}
	if a.Terminologies[0].Samples[0].Code != "obs-0" || a.Terminologies[0].Samples[4].Code != "obs-4" {
		t.Errorf("samples not in document order: %+v", a.Terminologies[0].Samples)
	}
	if a.DataTypes[0].Count != 50 {
		t.Errorf("CD count = %d, want 50", a.DataTypes[0].Count)
	}
}

func TestAnalyze_RelationshipFallbacks(t *testing.T) {
	a := Analyze(mustExtract(t, body(`<component><section>
  <entry><observation><value xsi:type="CD" code="c1"/></observation></entry>
  <entry><observation><value xsi:type="ST">texto</value></observation></entry>
  <entry><substanceAdministration><consumable><manufacturedProduct><manufacturedMaterial>
    <code code="rx-1"/>
  </manufacturedMaterial></manufacturedProduct></consumable></substanceAdministration></entry>
  <entry><substanceAdministration><consumable><manufacturedProduct><manufacturedMaterial>
    <code nullFlavor="UNK"/>
  </manufacturedMaterial></manufacturedProduct></consumable></substanceAdministration></entry>
</section></component>`)))

	want := []struct{ source, target string }{
		{"Observación", "c1"},
		{"Paciente", "rx-1"},
		{"Paciente", "Medicamento"},
	}
	if len(a.Relationships) != len(want) {
		t.Fatalf("relationships = %+v", a.Relationships)
	}
	for i, w := range want {
		if a.Relationships[i].Source != w.source || a.Relationships[i].Target != w.target {
			t.Errorf("relationships[%d] = %+v, want %s -> %s", i, a.Relationships[i], w.source, w.target)
		}
	}
}

func TestAnalyze_NestedSectionsExcluded(t *testing.T) {
	a := Analyze(mustExtract(t, body(`<component><section>
  <code code="11450-4"/>
  <component><section>
    <code code="10160-0"/>
    <entry><observation><code code="x"/><value xsi:type="CD" code="y"/></observation></entry>
  </section></component>
</section></component>
<component><section><code code="11450-4"/></section></component>
<component><section><code code="00000-0"/></section></component>`)))

	if len(a.ClinicalDomains) != 1 || a.ClinicalDomains[0] != "Lista de Problemas" {
		t.Errorf("clinicalDomains = %v", a.ClinicalDomains)
	}
	if len(a.Relationships) != 0 {
		t.Errorf("nested entries should not yield relationships: %+v", a.Relationships)
	}
	// The nested value is still part of the data type inventory.
	if len(a.DataTypes) != 1 || a.DataTypes[0].Count != 1 {
		t.Errorf("dataTypes = %+v", a.DataTypes)
	}
	if a.QualityMetrics.DataRichness != 0 {
		t.Errorf("dataRichness = %d, want 0", a.QualityMetrics.DataRichness)
	}
}

func TestAnalyze_UnknownLookups(t *testing.T) {
	a := Analyze(mustExtract(t, body(`<component><section>
  <templateId root="1.2.3"/>
  <entry><observation><code code="a" codeSystem="9.9.9"/><value xsi:type="XYZ"/></observation></entry>
</section></component>`)))

	if len(a.Terminologies) != 1 || a.Terminologies[0].SystemName != UnknownSystem {
		t.Errorf("terminologies = %+v", a.Terminologies)
	}
	if len(a.DataTypes) != 1 || a.DataTypes[0].Description != UnknownDataType {
		t.Errorf("dataTypes = %+v", a.DataTypes)
	}
	if len(a.Templates) == 0 || a.Templates[0].Name != UnknownTemplate {
		t.Errorf("templates = %+v", a.Templates)
	}
}
