// Package reports persists batch runs and document analyses and serves them
// back for trend reporting.
package reports

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/cdainsight/internal/platform/batch"
	"github.com/ehr/cdainsight/internal/platform/semantic"
)

// BatchRun maps to the batch_runs table. Per-document extractions are not
// stored, only the aggregate and the failures.
type BatchRun struct {
	ID               uuid.UUID        `json:"id"`
	Source           string           `json:"source"`
	StartedAt        time.Time        `json:"startedAt"`
	TotalDocuments   int              `json:"totalDocuments"`
	TotalPatients    int              `json:"totalPatients"`
	FailureCount     int              `json:"failureCount"`
	ProcessingTimeMs int64            `json:"processingTimeMs"`
	Statistics       batch.Statistics `json:"statistics"`
	Failures         []batch.Failure  `json:"failures"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// DocumentAnalysis maps to the document_analyses table.
type DocumentAnalysis struct {
	ID           uuid.UUID         `json:"id"`
	Source       string            `json:"source"`
	DocumentID   string            `json:"documentId,omitempty"`
	DocumentType string            `json:"documentType"`
	Completeness int               `json:"completeness"`
	Consistency  int               `json:"consistency"`
	Compliance   int               `json:"standardsCompliance"`
	DataRichness int               `json:"dataRichness"`
	Analysis     semantic.Analysis `json:"analysis"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// AnalysisFilter narrows ListAnalyses and QualitySummary. Zero fields do not
// filter.
type AnalysisFilter struct {
	DocumentID      string
	Source          string
	DocumentType    string
	MinCompleteness int
	Since           *time.Time
}

// QualitySummary averages the four quality scores over matching analyses.
type QualitySummary struct {
	Analyses            int     `json:"analyses"`
	Completeness        float64 `json:"completeness"`
	Consistency         float64 `json:"consistency"`
	StandardsCompliance float64 `json:"standardsCompliance"`
	DataRichness        float64 `json:"dataRichness"`
}
