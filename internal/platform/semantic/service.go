package semantic

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/cdainsight/internal/platform/cache"
	"github.com/ehr/cdainsight/internal/platform/ccda"
)

const cacheNamespace = "cda:analysis:v1"

// Recorder persists analyses for later reporting.
type Recorder interface {
	RecordAnalysis(ctx context.Context, source, documentID string, a *Analysis) error
}

// Result is an analysis together with the identity of the analysed document.
type Result struct {
	DocumentID string    `json:"documentId,omitempty"`
	Analysis   *Analysis `json:"analysis"`
	Cached     bool      `json:"-"`
}

// Service extracts and analyses raw documents, caching results by content
// hash. Cache failures are logged and never fail a request.
type Service struct {
	extractor *ccda.Extractor
	cache     cache.Cache
	ttl       time.Duration
	recorder  Recorder
	logger    zerolog.Logger
}

// NewService creates a Service. A nil cache disables caching.
func NewService(extractor *ccda.Extractor, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{
		extractor: extractor,
		cache:     c,
		ttl:       ttl,
		logger:    logger.With().Str("component", "semantic-service").Logger(),
	}
}

// SetRecorder enables persistence of every analysis served.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// Analyze parses data and returns its analysis. source labels the origin of
// the document for recording. Malformed and structural errors are returned
// unchanged.
func (s *Service) Analyze(ctx context.Context, source string, data []byte) (*Result, error) {
	key := cache.Key(cacheNamespace, data)

	var res Result
	err := s.cache.Get(ctx, key, &res)
	switch {
	case err == nil && res.Analysis != nil:
		res.Cached = true
	default:
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn().Err(err).Str("key", key).Msg("analysis cache read failed")
		}
		doc, err := s.extractor.Parse(data)
		if err != nil {
			return nil, err
		}
		res = Result{Analysis: Analyze(doc)}
		if doc.ID != nil {
			res.DocumentID = doc.ID.String()
		}
		if err := s.cache.Set(ctx, key, res, s.ttl); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("analysis cache write failed")
		}
	}

	if s.recorder != nil {
		if err := s.recorder.RecordAnalysis(ctx, source, res.DocumentID, res.Analysis); err != nil {
			s.logger.Error().Err(err).Str("source", source).Msg("failed to record analysis")
		}
	}
	return &res, nil
}
