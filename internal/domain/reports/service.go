package reports

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/cdainsight/internal/platform/batch"
	"github.com/ehr/cdainsight/internal/platform/semantic"
)

// Service stores finished batch runs and served analyses. It satisfies
// batch.RunRecorder and semantic.Recorder.
type Service struct {
	repo Repository
}

var (
	_ batch.RunRecorder = (*Service)(nil)
	_ semantic.Recorder = (*Service)(nil)
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) RecordRun(ctx context.Context, report *batch.Report) error {
	if report == nil {
		return fmt.Errorf("report is required")
	}
	id, err := uuid.Parse(report.RunID)
	if err != nil {
		id = uuid.New()
	}

	failures := report.Failures
	if failures == nil {
		failures = []batch.Failure{}
	}
	run := &BatchRun{
		ID:               id,
		Source:           report.Source,
		StartedAt:        report.StartedAt,
		TotalDocuments:   report.Statistics.TotalDocuments,
		TotalPatients:    report.Statistics.TotalPatients,
		FailureCount:     len(failures),
		ProcessingTimeMs: report.Statistics.ProcessingTimeMs,
		Statistics:       report.Statistics,
		Failures:         failures,
	}
	if err := s.repo.CreateBatchRun(ctx, run); err != nil {
		return fmt.Errorf("store batch run %s: %w", id, err)
	}
	return nil
}

func (s *Service) RecordAnalysis(ctx context.Context, source, documentID string, a *semantic.Analysis) error {
	if a == nil {
		return fmt.Errorf("analysis is required")
	}
	rec := &DocumentAnalysis{
		ID:           uuid.New(),
		Source:       source,
		DocumentID:   documentID,
		DocumentType: a.DocumentType,
		Completeness: a.QualityMetrics.Completeness,
		Consistency:  a.QualityMetrics.Consistency,
		Compliance:   a.QualityMetrics.StandardsCompliance,
		DataRichness: a.QualityMetrics.DataRichness,
		Analysis:     *a,
	}
	if err := s.repo.CreateAnalysis(ctx, rec); err != nil {
		return fmt.Errorf("store analysis: %w", err)
	}
	return nil
}

func (s *Service) GetBatchRun(ctx context.Context, id uuid.UUID) (*BatchRun, error) {
	return s.repo.GetBatchRun(ctx, id)
}

func (s *Service) ListBatchRuns(ctx context.Context, limit, offset int) ([]*BatchRun, int, error) {
	return s.repo.ListBatchRuns(ctx, limit, offset)
}

func (s *Service) ListAnalyses(ctx context.Context, f AnalysisFilter, limit, offset int) ([]*DocumentAnalysis, int, error) {
	return s.repo.ListAnalyses(ctx, f, limit, offset)
}

func (s *Service) QualitySummary(ctx context.Context, f AnalysisFilter) (*QualitySummary, error) {
	return s.repo.QualitySummary(ctx, f)
}
