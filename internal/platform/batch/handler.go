package batch

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cdainsight/internal/platform/blobstore"
)

// MaxUploadFiles bounds the number of files accepted by one upload.
const MaxUploadFiles = 500

// Handler exposes batch runs over HTTP.
type Handler struct {
	runner *Runner
	store  blobstore.BlobStore
}

// NewHandler creates a Handler. store may be nil, in which case runs over
// stored documents are not offered.
func NewHandler(runner *Runner, store blobstore.BlobStore) *Handler {
	return &Handler{runner: runner, store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/batch", h.Upload)
	if h.store != nil {
		g.POST("/batch/stored", h.Stored)
	}
}

// Upload handles POST /api/v1/batch with one or more multipart "files".
func (h *Handler) Upload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "multipart form is required"})
	}
	files := form.File["files"]
	if len(files) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "at least one file is required"})
	}
	if len(files) > MaxUploadFiles {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "too many files"})
	}

	src := &MemorySource{Label: "upload"}
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to open " + fh.Filename})
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read " + fh.Filename})
		}
		src.Documents = append(src.Documents, NamedDocument{FileName: fh.Filename, Data: data})
	}
	return h.run(c, src)
}

type storedRequest struct {
	Collection string `json:"collection"`
}

// Stored handles POST /api/v1/batch/stored, running over a blob store
// collection.
func (h *Handler) Stored(c echo.Context) error {
	var req storedRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	return h.run(c, BlobSource{Store: h.store, Collection: req.Collection})
}

func (h *Handler) run(c echo.Context, src Source) error {
	report, err := h.runner.Run(c.Request().Context(), src)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, report)
}
