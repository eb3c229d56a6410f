package reports

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cdainsight/internal/platform/auth"
	"github.com/ehr/cdainsight/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/reports", auth.RequireRole(auth.RoleAnalyst))
	read.GET("/batches", h.ListBatchRuns)
	read.GET("/batches/:id", h.GetBatchRun)
	read.GET("/analyses", h.ListAnalyses)
	read.GET("/quality", h.QualitySummary)
}

func (h *Handler) ListBatchRuns(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBatchRuns(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if items == nil {
		items = []*BatchRun{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL.Path))
}

func (h *Handler) GetBatchRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	run, err := h.svc.GetBatchRun(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "batch run not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) ListAnalyses(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAnalyses(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if items == nil {
		items = []*DocumentAnalysis{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL.Path))
}

func (h *Handler) QualitySummary(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	summary, err := h.svc.QualitySummary(c.Request().Context(), f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, summary)
}

// filterFromQuery reads documentId, source, documentType, minCompleteness
// and since (RFC 3339).
func filterFromQuery(c echo.Context) (AnalysisFilter, error) {
	f := AnalysisFilter{
		DocumentID:   c.QueryParam("documentId"),
		Source:       c.QueryParam("source"),
		DocumentType: c.QueryParam("documentType"),
	}
	if v := c.QueryParam("minCompleteness"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			return f, errors.New("minCompleteness must be an integer between 0 and 100")
		}
		f.MinCompleteness = n
	}
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("since must be an RFC 3339 timestamp")
		}
		f.Since = &t
	}
	return f, nil
}
