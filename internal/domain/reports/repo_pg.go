package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ conn queryable }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{conn: pool}
}

// -- batch runs --

const runCols = `id, source, started_at, total_documents, total_patients,
	failure_count, processing_time_ms, statistics, failures, created_at`

func scanRun(row pgx.Row) (*BatchRun, error) {
	var r BatchRun
	var stats, failures []byte
	err := row.Scan(&r.ID, &r.Source, &r.StartedAt, &r.TotalDocuments, &r.TotalPatients,
		&r.FailureCount, &r.ProcessingTimeMs, &stats, &failures, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stats, &r.Statistics); err != nil {
		return nil, fmt.Errorf("decode statistics of run %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(failures, &r.Failures); err != nil {
		return nil, fmt.Errorf("decode failures of run %s: %w", r.ID, err)
	}
	return &r, nil
}

func (r *repoPG) CreateBatchRun(ctx context.Context, run *BatchRun) error {
	stats, err := json.Marshal(run.Statistics)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	failures, err := json.Marshal(run.Failures)
	if err != nil {
		return fmt.Errorf("encode failures: %w", err)
	}

	return r.conn.QueryRow(ctx, `
		INSERT INTO batch_runs (id, source, started_at, total_documents, total_patients,
			failure_count, processing_time_ms, statistics, failures)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		run.ID, run.Source, run.StartedAt, run.TotalDocuments, run.TotalPatients,
		run.FailureCount, run.ProcessingTimeMs, stats, failures,
	).Scan(&run.CreatedAt)
}

func (r *repoPG) GetBatchRun(ctx context.Context, id uuid.UUID) (*BatchRun, error) {
	run, err := scanRun(r.conn.QueryRow(ctx, `SELECT `+runCols+` FROM batch_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

func (r *repoPG) ListBatchRuns(ctx context.Context, limit, offset int) ([]*BatchRun, int, error) {
	var total int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM batch_runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn.Query(ctx,
		`SELECT `+runCols+` FROM batch_runs ORDER BY started_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*BatchRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, run)
	}
	return items, total, rows.Err()
}

// -- document analyses --

const analysisCols = `id, source, document_id, document_type,
	completeness, consistency, compliance, data_richness, analysis, created_at`

func scanAnalysis(row pgx.Row) (*DocumentAnalysis, error) {
	var a DocumentAnalysis
	var docID *string
	var body []byte
	err := row.Scan(&a.ID, &a.Source, &docID, &a.DocumentType,
		&a.Completeness, &a.Consistency, &a.Compliance, &a.DataRichness, &body, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if docID != nil {
		a.DocumentID = *docID
	}
	if err := json.Unmarshal(body, &a.Analysis); err != nil {
		return nil, fmt.Errorf("decode analysis %s: %w", a.ID, err)
	}
	return &a, nil
}

func (r *repoPG) CreateAnalysis(ctx context.Context, a *DocumentAnalysis) error {
	body, err := json.Marshal(a.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}

	var docID *string
	if a.DocumentID != "" {
		docID = &a.DocumentID
	}
	return r.conn.QueryRow(ctx, `
		INSERT INTO document_analyses (id, source, document_id, document_type,
			completeness, consistency, compliance, data_richness, analysis)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		a.ID, a.Source, docID, a.DocumentType,
		a.Completeness, a.Consistency, a.Compliance, a.DataRichness, body,
	).Scan(&a.CreatedAt)
}

// whereClause renders f as a WHERE clause with positional arguments.
func whereClause(f AnalysisFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.DocumentID != "" {
		add("document_id = $%d", f.DocumentID)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.DocumentType != "" {
		add("document_type = $%d", f.DocumentType)
	}
	if f.MinCompleteness > 0 {
		add("completeness >= $%d", f.MinCompleteness)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *repoPG) ListAnalyses(ctx context.Context, f AnalysisFilter, limit, offset int) ([]*DocumentAnalysis, int, error) {
	where, args := whereClause(f)

	var total int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM document_analyses`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM document_analyses%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		analysisCols, where, n+1, n+2)
	rows, err := r.conn.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*DocumentAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) QualitySummary(ctx context.Context, f AnalysisFilter) (*QualitySummary, error) {
	where, args := whereClause(f)

	var s QualitySummary
	err := r.conn.QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(AVG(completeness), 0)::float8,
			COALESCE(AVG(consistency), 0)::float8,
			COALESCE(AVG(compliance), 0)::float8,
			COALESCE(AVG(data_richness), 0)::float8
		FROM document_analyses`+where, args...,
	).Scan(&s.Analyses, &s.Completeness, &s.Consistency, &s.StandardsCompliance, &s.DataRichness)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
