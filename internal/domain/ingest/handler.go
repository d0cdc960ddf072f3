package ingest

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dicomvault/dicomvault/internal/platform/contentstore"
)

// Handler is the upload transport boundary: it accepts a multipart file,
// hands it to the Ingestor, and translates the typed pipeline failures to
// HTTP statuses. It also serves stored bytes back out for download.
type Handler struct {
	ing   *Ingestor
	store contentstore.Store
}

func NewHandler(ing *Ingestor, store contentstore.Store) *Handler {
	return &Handler{ing: ing, store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/uploads", h.Upload)
	api.GET("/uploads/:path", h.Download)
}

// Upload handles POST /uploads with a multipart "file" field.
func (h *Handler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}

	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read uploaded file")
	}
	defer src.Close()

	res, err := h.ing.Ingest(c.Request().Context(), fh.Filename, src)
	if err != nil {
		return translateFailure(err)
	}

	return c.JSON(http.StatusCreated, res)
}

// Download streams previously stored bytes by their store-relative path.
func (h *Handler) Download(c echo.Context) error {
	path := c.Param("path")

	rc, err := h.store.Get(c.Request().Context(), path)
	if err != nil {
		if errors.Is(err, contentstore.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		if errors.Is(err, contentstore.ErrMissingFileName) || errors.Is(err, contentstore.ErrInvalidFileName) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid file path")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "could not open file")
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+path+`"`)
	return c.Stream(http.StatusOK, "application/octet-stream", rc)
}

// translateFailure maps pipeline failure kinds to HTTP statuses: a failed
// store or commit is a server-side fault, incomplete metadata is a problem
// with the uploaded content.
func translateFailure(err error) error {
	var bad *echo.HTTPError
	if errors.As(err, &bad) {
		return bad
	}

	switch KindOf(err) {
	case StoreFailed:
		if errors.Is(err, ErrEmptyFileName) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, contentstore.ErrFileTooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		}
		if errors.Is(err, contentstore.ErrConcurrentWrite) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		if errors.Is(err, contentstore.ErrInvalidFileName) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	case ExtractFailed:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case CommitFailed:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
