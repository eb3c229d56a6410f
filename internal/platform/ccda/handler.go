package ccda

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cdainsight/internal/platform/xmltree"
)

// Handler provides HTTP endpoints for CDA extraction, transformation and
// header validation.
type Handler struct {
	extractor *Extractor
	now       func() time.Time
}

// NewHandler creates a new CDA handler.
func NewHandler(extractor *Extractor) *Handler {
	return &Handler{extractor: extractor, now: time.Now}
}

// RegisterRoutes registers CDA endpoints on the provided route group.
//
//	POST /api/v1/cda/extract    - Extract the typed document model
//	POST /api/v1/cda/transform  - Flatten the document into its JSON view
//	POST /api/v1/cda/validate   - Header rules and structural statistics
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/cda/extract", h.Extract)
	g.POST("/cda/transform", h.Transform)
	g.POST("/cda/validate", h.Validate)
}

// Extract handles POST /api/v1/cda/extract.
func (h *Handler) Extract(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	doc, err := h.extractor.Parse(body)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// Transform handles POST /api/v1/cda/transform.
func (h *Handler) Transform(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	doc, err := h.extractor.Parse(body)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, Transform(doc, h.now()))
}

// validateResponse pairs header rule results with structure statistics.
type validateResponse struct {
	Valid      bool               `json:"valid"`
	Validation []ValidationResult `json:"validation"`
	Structure  StructureStats     `json:"structure"`
}

// Validate handles POST /api/v1/cda/validate. Only well-formedness failures
// are errors; missing header elements are reported as failed rules.
func (h *Handler) Validate(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	tree, err := xmltree.ParseBytes(body)
	if err != nil {
		return ErrorResponse(c, err)
	}

	results := Validate(tree)
	return c.JSON(http.StatusOK, validateResponse{
		Valid:      AllValid(results),
		Validation: results,
		Structure:  Inspect(tree),
	})
}

// ErrorResponse maps extraction errors to HTTP status codes: malformed XML is
// 400, missing mandatory structure is 422.
func ErrorResponse(c echo.Context, err error) error {
	switch {
	case xmltree.IsMalformed(err):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case IsStructural(err):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
}
