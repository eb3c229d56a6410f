package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RunRecorder persists finished batch reports.
type RunRecorder interface {
	RecordRun(ctx context.Context, report *Report) error
}

// Runner processes every document of a Source and aggregates the results.
type Runner struct {
	extractor *HeuristicExtractor
	workers   int
	recorder  RunRecorder
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRunner creates a Runner. workers <= 1 processes documents sequentially.
func NewRunner(extractor *HeuristicExtractor, workers int, logger zerolog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		extractor: extractor,
		workers:   workers,
		logger:    logger.With().Str("component", "batch-runner").Logger(),
		now:       time.Now,
	}
}

// SetRecorder enables persistence of every finished run.
func (r *Runner) SetRecorder(rec RunRecorder) {
	r.recorder = rec
}

type outcome struct {
	doc *SimplifiedDocument
	err error
}

// Run lists src and processes each document. A document that cannot be read
// or parsed becomes a Failure and is left out of the statistics. Run returns
// an error only when listing fails or ctx is cancelled; cancellation takes
// effect before the next document starts.
func (r *Runner) Run(ctx context.Context, src Source) (*Report, error) {
	started := r.now()
	runID := uuid.New().String()
	log := r.logger.With().Str("run_id", runID).Str("source", src.Name()).Logger()

	items, err := src.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]outcome, len(items))
	process := func(ctx context.Context, i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := src.Read(ctx, items[i].Key)
		if err != nil {
			results[i] = outcome{err: err}
			return nil
		}
		doc, err := r.extractor.Extract(items[i].FileName, data)
		results[i] = outcome{doc: doc, err: err}
		return nil
	}

	if r.workers == 1 {
		for i := range items {
			if err := process(ctx, i); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.workers)
		for i := range items {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error { return process(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	report := &Report{
		RunID:     runID,
		Source:    src.Name(),
		StartedAt: started.UTC(),
		Documents: []SimplifiedDocument{},
		Failures:  []Failure{},
	}
	acc := NewAccumulator()
	for i, res := range results {
		if res.err != nil {
			log.Warn().Err(res.err).Str("file", items[i].FileName).Msg("document skipped")
			report.Failures = append(report.Failures, Failure{FileName: items[i].FileName, Error: res.err.Error()})
			continue
		}
		acc.Add(res.doc)
		report.Documents = append(report.Documents, *res.doc)
	}
	report.Statistics = acc.Statistics()
	report.Statistics.ProcessingTimeMs = r.now().Sub(started).Milliseconds()

	log.Info().
		Int("documents", report.Statistics.TotalDocuments).
		Int("failures", len(report.Failures)).
		Int("patients", report.Statistics.TotalPatients).
		Int64("processing_time_ms", report.Statistics.ProcessingTimeMs).
		Msg("batch run finished")

	if r.recorder != nil {
		if err := r.recorder.RecordRun(ctx, report); err != nil {
			log.Error().Err(err).Msg("failed to record batch run")
		}
	}
	return report, nil
}
