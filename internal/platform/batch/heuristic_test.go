package batch

import (
	"testing"
	"time"

	"github.com/ehr/cdainsight/internal/platform/xmltree"
)

func fixedClock() time.Time {
	return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
}

func newTestExtractor() *HeuristicExtractor {
	return NewHeuristicExtractor(WithClock(fixedClock))
}

const episodeDoc = `<?xml version="1.0" encoding="UTF-8"?>
<ClinicalDocument xmlns="urn:hl7-org:v3">
  <effectiveTime value="20240115103000"/>
  <recordTarget>
    <patientRole>
      <id root="2.16.840.1.113883.19.5" extension="patient-123"/>
      <patient>
        <name><given>Juan</given><given>Carlos</given><family>García</family></name>
        <administrativeGenderCode code="M" codeSystem="2.16.840.1.113883.5.1"/>
        <birthTime value="19800115"/>
      </patient>
    </patientRole>
  </recordTarget>
  <author>
    <assignedAuthor>
      <assignedPerson><name>  Dra.  Ana   López </name></assignedPerson>
    </assignedAuthor>
  </author>
  <component>
    <structuredBody>
      <component>
        <section>
          <title>Problemas</title>
          <text>Paciente con hipertension controlada.</text>
          <entry>
            <observation>
              <code code="64572001" displayName="Condition"/>
              <value code="44054006" codeSystem="2.16.840.1.113883.6.96" displayName="Diabetes mellitus"/>
            </observation>
          </entry>
        </section>
      </component>
      <component>
        <section>
          <title>Medicamentos</title>
          <text>Toma lisinopril y aspirin diarios.</text>
          <entry>
            <substanceAdministration>
              <consumable>
                <manufacturedProduct>
                  <manufacturedMaterial>
                    <code code="860975"/>
                    <name>metformin</name>
                  </manufacturedMaterial>
                </manufacturedProduct>
              </consumable>
            </substanceAdministration>
          </entry>
        </section>
      </component>
    </structuredBody>
  </component>
</ClinicalDocument>`

func TestExtract_Episode(t *testing.T) {
	doc, err := newTestExtractor().Extract("paciente_diabetico.xml", []byte(episodeDoc))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if doc.FileName != "paciente_diabetico.xml" {
		t.Errorf("fileName = %q", doc.FileName)
	}
	p := doc.Patient
	if p.ID != "patient-123" {
		t.Errorf("patient id = %q", p.ID)
	}
	if p.Name != "Juan Carlos García" {
		t.Errorf("patient name = %q", p.Name)
	}
	if p.Gender != GenderMale {
		t.Errorf("gender = %q", p.Gender)
	}
	if p.BirthDate != "19800115" {
		t.Errorf("birthDate = %q", p.BirthDate)
	}
	if p.Age == nil || *p.Age != 44 {
		t.Errorf("age = %v, want 44", p.Age)
	}
	if doc.DocumentDate != "20240115103000" {
		t.Errorf("documentDate = %q", doc.DocumentDate)
	}
	if doc.Author != "Dra. Ana López" {
		t.Errorf("author = %q", doc.Author)
	}

	wantDx := []Diagnosis{
		{Code: "64572001", Name: "Condition", CodeSystem: "structured", Provenance: ProvenanceStructured},
		{Code: "44054006", Name: "Diabetes mellitus", CodeSystem: "2.16.840.1.113883.6.96", Provenance: ProvenanceObservationValue},
		{Name: "Hipertension", CodeSystem: "text_extracted", Provenance: ProvenanceTextExtracted},
	}
	if len(doc.Diagnoses) != len(wantDx) {
		t.Fatalf("diagnoses = %+v", doc.Diagnoses)
	}
	for i, want := range wantDx {
		if doc.Diagnoses[i] != want {
			t.Errorf("diagnoses[%d] = %+v, want %+v", i, doc.Diagnoses[i], want)
		}
	}

	wantMeds := []Medication{
		{Name: "Metformina", Provenance: ProvenanceStructured},
		{Name: "Lisinopril", Provenance: ProvenanceTextExtracted},
		{Name: "Aspirin", Provenance: ProvenanceTextExtracted},
	}
	if len(doc.Medications) != len(wantMeds) {
		t.Fatalf("medications = %+v", doc.Medications)
	}
	for i, want := range wantMeds {
		if doc.Medications[i] != want {
			t.Errorf("medications[%d] = %+v, want %+v", i, doc.Medications[i], want)
		}
	}
}

func TestExtract_Malformed(t *testing.T) {
	_, err := newTestExtractor().Extract("bad.xml", []byte("<ClinicalDocument><unclosed>"))
	if !xmltree.IsMalformed(err) {
		t.Errorf("expected malformed error, got %v", err)
	}
}

func TestExtract_MissingStructureYieldsEmptyFields(t *testing.T) {
	doc, err := newTestExtractor().Extract("notes.xml", []byte(`<notes><entry/></notes>`))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.Patient.ID != "" || doc.Patient.Name != "" || doc.Patient.Age != nil {
		t.Errorf("patient = %+v", doc.Patient)
	}
	if doc.Patient.Gender != GenderUnknown {
		t.Errorf("gender = %q, want Unknown", doc.Patient.Gender)
	}
	if len(doc.Diagnoses) != 0 || len(doc.Medications) != 0 {
		t.Errorf("expected no diagnoses or medications, got %+v %+v", doc.Diagnoses, doc.Medications)
	}
	if doc.DocumentDate != "" || doc.Author != "" {
		t.Errorf("date/author = %q/%q", doc.DocumentDate, doc.Author)
	}
}

func TestExtract_FilenameInference(t *testing.T) {
	doc, err := newTestExtractor().Extract("Hipertenso_Asma_02.xml", []byte(`<ClinicalDocument/>`))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	wantDx := []string{"Hipertensión arterial", "Asma bronquial"}
	if len(doc.Diagnoses) != len(wantDx) {
		t.Fatalf("diagnoses = %+v", doc.Diagnoses)
	}
	for i, name := range wantDx {
		if doc.Diagnoses[i].Name != name || doc.Diagnoses[i].Provenance != ProvenanceFilenameInferred {
			t.Errorf("diagnoses[%d] = %+v", i, doc.Diagnoses[i])
		}
	}

	wantMeds := []string{"Enalapril", "Salbutamol"}
	if len(doc.Medications) != len(wantMeds) {
		t.Fatalf("medications = %+v", doc.Medications)
	}
	for i, name := range wantMeds {
		if doc.Medications[i].Name != name || doc.Medications[i].Provenance != ProvenanceFilenameInferred {
			t.Errorf("medications[%d] = %+v", i, doc.Medications[i])
		}
	}
}

func TestExtract_MedicationInferredDiagnosis(t *testing.T) {
	const xml = `<ClinicalDocument>
  <component>
    <substanceAdministration>
      <consumable><manufacturedProduct><manufacturedMaterial><name>Warfarin</name></manufacturedMaterial></manufacturedProduct></consumable>
    </substanceAdministration>
  </component>
</ClinicalDocument>`
	doc, err := newTestExtractor().Extract("a.xml", []byte(xml))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(doc.Medications) != 1 || doc.Medications[0].Name != "Warfarina" {
		t.Fatalf("medications = %+v", doc.Medications)
	}
	if len(doc.Diagnoses) != 1 {
		t.Fatalf("diagnoses = %+v", doc.Diagnoses)
	}
	if d := doc.Diagnoses[0]; d.Name != "Trastorno de coagulación" || d.Provenance != ProvenanceMedicationInferred {
		t.Errorf("diagnosis = %+v", d)
	}
}

func TestExtract_NoInferenceWhenDiagnosed(t *testing.T) {
	const xml = `<ClinicalDocument>
  <observation><code displayName="Asma bronquial"/></observation>
  <substanceAdministration><manufacturedMaterial><name>metformina</name></manufacturedMaterial></substanceAdministration>
</ClinicalDocument>`
	doc, err := newTestExtractor().Extract("a.xml", []byte(xml))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(doc.Diagnoses) != 1 || doc.Diagnoses[0].Name != "Asma bronquial" {
		t.Errorf("diagnoses = %+v", doc.Diagnoses)
	}
}

func TestExtract_PatientFallbacks(t *testing.T) {
	const xml = `<record>
  <id extension="doc-1"/>
  <recordTarget><patientRole><id root="1.2.3"/></patientRole></recordTarget>
  <patient>
    <genderCode value="female"/>
    <dateOfBirth>19900101</dateOfBirth>
  </patient>
  <creationTime time="20231201"/>
  <authenticator><name>Dr. Who</name></authenticator>
</record>`
	doc, err := newTestExtractor().Extract("a.xml", []byte(xml))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	p := doc.Patient
	if p.ID != "1.2.3" {
		t.Errorf("id = %q, want root fallback", p.ID)
	}
	if p.Gender != GenderFemale {
		t.Errorf("gender = %q", p.Gender)
	}
	if p.BirthDate != "19900101" || p.Age == nil || *p.Age != 34 {
		t.Errorf("birthDate = %q age = %v", p.BirthDate, p.Age)
	}
	if doc.DocumentDate != "20231201" {
		t.Errorf("documentDate = %q", doc.DocumentDate)
	}
	if doc.Author != "Dr. Who" {
		t.Errorf("author = %q", doc.Author)
	}
}

func TestAgeAt(t *testing.T) {
	now := fixedClock()
	tests := []struct {
		in   string
		want *int
	}{
		{"19800115", intPtr(44)},
		{"20240301", intPtr(0)},
		{"18501231", nil},
		{"20300101", nil},
		{"1980", nil},
		{"abcd0101", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := AgeAt(tt.in, now)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("AgeAt(%q) = %d, want nil", tt.in, *got)
		case tt.want != nil && (got == nil || *got != *tt.want):
			t.Errorf("AgeAt(%q) = %v, want %d", tt.in, got, *tt.want)
		}
	}
}

func TestNormalizeGender(t *testing.T) {
	tests := map[string]string{
		"M":      GenderMale,
		"male":   GenderMale,
		" F ":    GenderFemale,
		"Female": GenderFemale,
		"UN":     GenderUnknown,
		"FM":     GenderUnknown,
		"":       GenderUnknown,
	}
	for in, want := range tests {
		if got := NormalizeGender(in); got != want {
			t.Errorf("NormalizeGender(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeMedicationName(t *testing.T) {
	tests := map[string]string{
		"metformin":       "Metformina",
		"  BUDESONIDE ":   "Budesonida",
		"omeprazole":      "Omeprazole",
		"ácido fólico":    "Ácido fólico",
		"losartan  50 mg": "Losartan 50 mg",
	}
	for in, want := range tests {
		if got := NormalizeMedicationName(in); got != want {
			t.Errorf("NormalizeMedicationName(%q) = %q, want %q", in, got, want)
		}
	}
}

func intPtr(n int) *int { return &n }
