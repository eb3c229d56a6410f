package blobstore

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cdainsight/internal/platform/auth"
	"github.com/ehr/cdainsight/internal/platform/ccda"
	"github.com/ehr/cdainsight/internal/platform/semantic"
	"github.com/ehr/cdainsight/pkg/pagination"
)

// BlobHandler provides Echo HTTP handlers for stored documents.
type BlobHandler struct {
	store    BlobStore
	analyzer *semantic.Service
}

// NewBlobHandler creates a BlobHandler. analyzer may be nil, in which case
// the analysis route is not registered.
func NewBlobHandler(store BlobStore, analyzer *semantic.Service) *BlobHandler {
	return &BlobHandler{store: store, analyzer: analyzer}
}

// RegisterRoutes mounts document routes on the supplied Echo group.
func (h *BlobHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/documents", h.handleUpload)
	g.GET("/documents", h.handleSearch)
	g.GET("/documents/:id/metadata", h.handleGetMetadata)
	g.GET("/documents/:id", h.handleDownload)
	g.DELETE("/documents/:id", h.handleDelete, auth.RequireRole(auth.RoleAnalyst))
	if h.analyzer != nil {
		g.GET("/documents/:id/analysis", h.handleAnalyze)
	}
}

func (h *BlobHandler) handleUpload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file is required"})
	}

	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to open uploaded file"})
	}
	defer src.Close()

	// Multipart clients often send XML as octet-stream.
	contentType := file.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = DefaultContentType
	}

	meta := BlobMetadata{
		FileName:    file.Filename,
		ContentType: contentType,
		Collection:  c.FormValue("collection"),
		PatientID:   c.FormValue("patientId"),
		CreatedBy:   auth.UserIDFromContext(c.Request().Context()),
	}

	result, err := h.store.Upload(c.Request().Context(), meta, src)
	if err != nil {
		switch {
		case errors.Is(err, ErrFileTooLarge):
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrMissingFileName):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrInvalidContentType):
			return c.JSON(http.StatusUnsupportedMediaType, map[string]string{"error": err.Error()})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}

	return c.JSON(http.StatusCreated, result)
}

func (h *BlobHandler) handleDownload(c echo.Context) error {
	rc, meta, err := h.store.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(c, err)
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, meta.FileName))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *BlobHandler) handleGetMetadata(c echo.Context) error {
	meta, err := h.store.GetMetadata(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, meta)
}

func (h *BlobHandler) handleDelete(c echo.Context) error {
	if err := h.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *BlobHandler) handleSearch(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := SearchParams{
		Collection:  c.QueryParam("collection"),
		PatientID:   c.QueryParam("patientId"),
		ContentType: c.QueryParam("contentType"),
		FileName:    c.QueryParam("fileName"),
		Limit:       pg.Limit,
		Offset:      pg.Offset,
	}

	items, total, err := h.store.Search(c.Request().Context(), params)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if items == nil {
		items = []*BlobMetadata{}
	}

	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// handleAnalyze runs semantic analysis over a stored document.
func (h *BlobHandler) handleAnalyze(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	rc, _, err := h.store.Download(ctx, id)
	if err != nil {
		return storeError(c, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read document"})
	}

	res, err := h.analyzer.Analyze(ctx, "blob:"+id, data)
	if err != nil {
		return ccda.ErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func storeError(c echo.Context, err error) error {
	if errors.Is(err, ErrBlobNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
