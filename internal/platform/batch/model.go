// Package batch ingests many CDA documents at once. Each document goes
// through a tolerant heuristic extraction into a SimplifiedDocument; the
// results are folded into batch Statistics.
package batch

import "time"

// Provenance labels where a diagnosis or medication came from. Everything
// other than ProvenanceStructured is a low-confidence inference.
type Provenance string

const (
	ProvenanceStructured         Provenance = "structured"
	ProvenanceObservationValue   Provenance = "observation_value"
	ProvenanceTextExtracted      Provenance = "text_extracted"
	ProvenanceFilenameInferred   Provenance = "filename_inferred"
	ProvenanceMedicationInferred Provenance = "medication_inferred"
)

// Gender buckets.
const (
	GenderMale    = "M"
	GenderFemale  = "F"
	GenderUnknown = "Unknown"
)

// SimplifiedDocument is the reduced projection of one document used for
// batch statistics.
type SimplifiedDocument struct {
	FileName     string         `json:"fileName"`
	Patient      PatientSummary `json:"patient"`
	Diagnoses    []Diagnosis    `json:"diagnoses"`
	Medications  []Medication   `json:"medications"`
	DocumentDate string         `json:"documentDate,omitempty"`
	Author       string         `json:"author,omitempty"`
}

type PatientSummary struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Gender    string `json:"gender"`
	BirthDate string `json:"birthDate,omitempty"`
	// Age is nil when the birth date is missing or implausible.
	Age *int `json:"age"`
}

type Diagnosis struct {
	Code       string     `json:"code,omitempty"`
	Name       string     `json:"name"`
	CodeSystem string     `json:"codeSystem,omitempty"`
	Provenance Provenance `json:"provenance"`
}

type Medication struct {
	Name       string     `json:"name"`
	Provenance Provenance `json:"provenance"`
}

// NameCount is one row of a top-N frequency list.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Statistics summarises a batch.
type Statistics struct {
	TotalDocuments     int            `json:"totalDocuments"`
	TotalPatients      int            `json:"totalPatients"`
	AverageAge         float64        `json:"averageAge"`
	GenderDistribution map[string]int `json:"genderDistribution"`
	TopDiagnoses       []NameCount    `json:"topDiagnoses"`
	TopMedications     []NameCount    `json:"topMedications"`
	ProcessingTimeMs   int64          `json:"processingTimeMs"`
}

// Failure records a document that could not be processed.
type Failure struct {
	FileName string `json:"fileName"`
	Error    string `json:"error"`
}

// Report is the outcome of one batch run.
type Report struct {
	RunID      string               `json:"runId"`
	Source     string               `json:"source"`
	StartedAt  time.Time            `json:"startedAt"`
	Statistics Statistics           `json:"statistics"`
	Documents  []SimplifiedDocument `json:"documents"`
	Failures   []Failure            `json:"failures"`
}
