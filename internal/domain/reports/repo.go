package reports

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("report not found")

type Repository interface {
	CreateBatchRun(ctx context.Context, run *BatchRun) error
	GetBatchRun(ctx context.Context, id uuid.UUID) (*BatchRun, error)
	ListBatchRuns(ctx context.Context, limit, offset int) ([]*BatchRun, int, error)

	CreateAnalysis(ctx context.Context, a *DocumentAnalysis) error
	ListAnalyses(ctx context.Context, f AnalysisFilter, limit, offset int) ([]*DocumentAnalysis, int, error)
	QualitySummary(ctx context.Context, f AnalysisFilter) (*QualitySummary, error)
}
