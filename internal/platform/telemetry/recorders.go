package telemetry

import (
	"context"

	"github.com/ehr/cdainsight/internal/platform/batch"
	"github.com/ehr/cdainsight/internal/platform/semantic"
)

type runRecorder struct {
	m    *Metrics
	next batch.RunRecorder
}

// RunRecorder counts every finished batch run, then hands it to next when
// next is not nil.
func (m *Metrics) RunRecorder(next batch.RunRecorder) batch.RunRecorder {
	return &runRecorder{m: m, next: next}
}

func (r *runRecorder) RecordRun(ctx context.Context, report *batch.Report) error {
	r.m.Add(BatchRuns, 1)
	r.m.Add(BatchDocuments, int64(report.Statistics.TotalDocuments))
	r.m.Add(BatchFailures, int64(len(report.Failures)))
	if r.next == nil {
		return nil
	}
	return r.next.RecordRun(ctx, report)
}

type analysisRecorder struct {
	m    *Metrics
	next semantic.Recorder
}

// AnalysisRecorder counts every analysis served, then hands it to next when
// next is not nil.
func (m *Metrics) AnalysisRecorder(next semantic.Recorder) semantic.Recorder {
	return &analysisRecorder{m: m, next: next}
}

func (r *analysisRecorder) RecordAnalysis(ctx context.Context, source, documentID string, a *semantic.Analysis) error {
	r.m.Add(DocumentsAnalyzed, 1)
	if r.next == nil {
		return nil
	}
	return r.next.RecordAnalysis(ctx, source, documentID, a)
}
