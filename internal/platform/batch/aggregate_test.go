package batch

import (
	"fmt"
	"reflect"
	"testing"
)

func simpleDoc(id, gender string, age *int, diagnoses []string, meds []string) SimplifiedDocument {
	d := SimplifiedDocument{Patient: PatientSummary{ID: id, Gender: gender, Age: age}}
	for _, n := range diagnoses {
		d.Diagnoses = append(d.Diagnoses, Diagnosis{Name: n, Provenance: ProvenanceStructured})
	}
	for _, n := range meds {
		d.Medications = append(d.Medications, Medication{Name: n, Provenance: ProvenanceStructured})
	}
	return d
}

func TestAggregate_DuplicateDiagnosisAcrossDocuments(t *testing.T) {
	x := newTestExtractor()
	a, err := x.Extract("paciente_diabetico.xml", []byte(
		`<ClinicalDocument><observation><code code="44054006" displayName="Diabetes mellitus"/></observation></ClinicalDocument>`))
	if err != nil {
		t.Fatalf("Extract A: %v", err)
	}
	b, err := x.Extract("b.xml", []byte(
		`<ClinicalDocument><observation><code displayName="Diabetes mellitus"/></observation></ClinicalDocument>`))
	if err != nil {
		t.Fatalf("Extract B: %v", err)
	}
	if len(a.Diagnoses) != 1 {
		t.Fatalf("document A diagnoses = %+v, want one after de-duplication", a.Diagnoses)
	}

	st := Aggregate([]SimplifiedDocument{*a, *b})
	want := []NameCount{{Name: "Diabetes mellitus", Count: 2}}
	if !reflect.DeepEqual(st.TopDiagnoses, want) {
		t.Errorf("topDiagnoses = %+v, want %+v", st.TopDiagnoses, want)
	}
	if !reflect.DeepEqual(st.TopMedications, []NameCount{{Name: "Metformina", Count: 1}}) {
		t.Errorf("topMedications = %+v", st.TopMedications)
	}
}

func TestAggregate_Demographics(t *testing.T) {
	docs := []SimplifiedDocument{
		simpleDoc("p1", GenderMale, intPtr(40), nil, nil),
		simpleDoc("p1", GenderMale, nil, nil, nil),
		simpleDoc("", "", intPtr(0), nil, nil),
		simpleDoc("p2", GenderFemale, intPtr(20), nil, nil),
	}
	st := Aggregate(docs)

	if st.TotalDocuments != 4 {
		t.Errorf("totalDocuments = %d", st.TotalDocuments)
	}
	if st.TotalPatients != 4 {
		t.Errorf("totalPatients = %d, want 4", st.TotalPatients)
	}
	if st.AverageAge != 20 {
		t.Errorf("averageAge = %v, want 20", st.AverageAge)
	}
	want := map[string]int{GenderMale: 2, GenderFemale: 1, GenderUnknown: 1}
	if !reflect.DeepEqual(st.GenderDistribution, want) {
		t.Errorf("genderDistribution = %v, want %v", st.GenderDistribution, want)
	}
}

func TestAggregate_ImplausibleAgeExcluded(t *testing.T) {
	x := newTestExtractor()
	old, err := x.Extract("a.xml", []byte(`<ClinicalDocument><patient><birthTime value="18501231"/></patient></ClinicalDocument>`))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if old.Patient.Age != nil {
		t.Fatalf("age = %d, want nil", *old.Patient.Age)
	}
	young, _ := x.Extract("b.xml", []byte(`<ClinicalDocument><patient><birthTime value="19940101"/></patient></ClinicalDocument>`))

	st := Aggregate([]SimplifiedDocument{*old, *young})
	if st.AverageAge != 30 {
		t.Errorf("averageAge = %v, want 30", st.AverageAge)
	}
}

func TestAggregate_TopNStableOrder(t *testing.T) {
	docs := []SimplifiedDocument{
		simpleDoc("", "", nil, []string{"A", "B", "C"}, nil),
		simpleDoc("", "", nil, []string{"D", "E", "F"}, nil),
		simpleDoc("", "", nil, []string{"A", "C", "F", "G"}, nil),
		simpleDoc("", "", nil, []string{"F"}, nil),
	}
	st := Aggregate(docs)

	want := []NameCount{
		{Name: "F", Count: 3},
		{Name: "A", Count: 2},
		{Name: "C", Count: 2},
		{Name: "B", Count: 1},
		{Name: "D", Count: 1},
	}
	if !reflect.DeepEqual(st.TopDiagnoses, want) {
		t.Errorf("topDiagnoses = %+v, want %+v", st.TopDiagnoses, want)
	}
}

func TestAggregate_CaseInsensitiveWithinDocument(t *testing.T) {
	docs := []SimplifiedDocument{
		simpleDoc("", "", nil, []string{"Asma", "asma"}, []string{"Salbutamol", "SALBUTAMOL"}),
		simpleDoc("", "", nil, []string{"Asma"}, []string{"Salbutamol"}),
	}
	st := Aggregate(docs)

	if !reflect.DeepEqual(st.TopDiagnoses, []NameCount{{Name: "Asma", Count: 2}}) {
		t.Errorf("topDiagnoses = %+v", st.TopDiagnoses)
	}
	if !reflect.DeepEqual(st.TopMedications, []NameCount{{Name: "Salbutamol", Count: 2}}) {
		t.Errorf("topMedications = %+v", st.TopMedications)
	}
}

func TestAggregate_ExactSpellingAcrossDocuments(t *testing.T) {
	docs := []SimplifiedDocument{
		simpleDoc("", "", nil, []string{"Asma"}, []string{"Salbutamol"}),
		simpleDoc("", "", nil, []string{"ASMA"}, []string{"salbutamol"}),
	}
	st := Aggregate(docs)

	wantDx := []NameCount{{Name: "Asma", Count: 1}, {Name: "ASMA", Count: 1}}
	if !reflect.DeepEqual(st.TopDiagnoses, wantDx) {
		t.Errorf("topDiagnoses = %+v, want %+v", st.TopDiagnoses, wantDx)
	}
	wantMeds := []NameCount{{Name: "Salbutamol", Count: 1}, {Name: "salbutamol", Count: 1}}
	if !reflect.DeepEqual(st.TopMedications, wantMeds) {
		t.Errorf("topMedications = %+v, want %+v", st.TopMedications, wantMeds)
	}
}

func TestAggregate_PatientsPerDocument(t *testing.T) {
	docs := []SimplifiedDocument{
		simpleDoc("2.16.840.1.113883.19.5", GenderMale, nil, nil, nil),
		simpleDoc("2.16.840.1.113883.19.5", GenderFemale, nil, nil, nil),
		simpleDoc("2.16.840.1.113883.19.5", GenderFemale, nil, nil, nil),
	}
	st := Aggregate(docs)

	if st.TotalPatients != 3 {
		t.Errorf("totalPatients = %d, want 3", st.TotalPatients)
	}
	var genders int
	for _, n := range st.GenderDistribution {
		genders += n
	}
	if genders != st.TotalPatients {
		t.Errorf("gender tally %d does not match totalPatients %d", genders, st.TotalPatients)
	}
}

func TestAggregate_SharedFacilityRootIsNotOnePatient(t *testing.T) {
	x := newTestExtractor()
	doc := func(given string) []byte {
		return []byte(`<ClinicalDocument><recordTarget><patientRole>` +
			`<id root="2.16.840.1.113883.19.5"/><patient><name><given>` + given + `</given></name></patient>` +
			`</patientRole></recordTarget></ClinicalDocument>`)
	}
	ana, err := x.Extract("ana.xml", doc("Ana"))
	if err != nil {
		t.Fatalf("Extract ana: %v", err)
	}
	luis, err := x.Extract("luis.xml", doc("Luis"))
	if err != nil {
		t.Fatalf("Extract luis: %v", err)
	}

	st := Aggregate([]SimplifiedDocument{*ana, *luis})
	if st.TotalPatients != 2 {
		t.Errorf("totalPatients = %d, want 2", st.TotalPatients)
	}
}

func TestAggregate_Empty(t *testing.T) {
	st := Aggregate(nil)
	if st.TotalDocuments != 0 || st.TotalPatients != 0 || st.AverageAge != 0 {
		t.Errorf("stats = %+v", st)
	}
	if st.TopDiagnoses == nil || st.TopMedications == nil || st.GenderDistribution == nil {
		t.Error("empty statistics should serialise as empty collections, not null")
	}
}

func TestAccumulator_MergeMatchesSequential(t *testing.T) {
	var docs []SimplifiedDocument
	for i := 0; i < 12; i++ {
		docs = append(docs, simpleDoc(
			fmt.Sprintf("p%d", i%5),
			[]string{GenderMale, GenderFemale, ""}[i%3],
			intPtr(20+i),
			[]string{fmt.Sprintf("dx-%d", i%4), "común"},
			[]string{fmt.Sprintf("rx-%d", i%6)},
		))
	}

	want := Aggregate(docs)

	left, right := NewAccumulator(), NewAccumulator()
	for i := range docs[:5] {
		left.Add(&docs[i])
	}
	for i := range docs[5:] {
		right.Add(&docs[5+i])
	}
	left.Merge(right)

	if got := left.Statistics(); !reflect.DeepEqual(got, want) {
		t.Errorf("merged = %+v\nwant     %+v", got, want)
	}
}
