package semantic

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cdainsight/internal/platform/ccda"
)

// Handler serves document analysis over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers POST /cda/analyze on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/cda/analyze", h.Analyze)
}

// Analyze handles POST /api/v1/cda/analyze. The X-Cache header reports
// whether the result came from the cache.
func (h *Handler) Analyze(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	res, err := h.svc.Analyze(c.Request().Context(), "api", body)
	if err != nil {
		return ccda.ErrorResponse(c, err)
	}

	if res.Cached {
		c.Response().Header().Set("X-Cache", "HIT")
	} else {
		c.Response().Header().Set("X-Cache", "MISS")
	}
	return c.JSON(http.StatusOK, res.Analysis)
}
