package hierarchy

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.GET("/studies/:id", h.GetStudy)
	api.GET("/series/:id", h.GetSeries)
	api.GET("/files/:id", h.GetFile)
	api.GET("/modalities", h.ListModalities)

	api.DELETE("/patients/:id", h.DeletePatient)
	api.DELETE("/studies/:id", h.DeleteStudy)
	api.DELETE("/series/:id", h.DeleteSeries)
	api.DELETE("/files/:id", h.DeleteFile)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func translate(err error) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) ListPatients(c echo.Context) error {
	patients, err := h.svc.ListPatients(c.Request().Context())
	if err != nil {
		return translate(err)
	}
	if patients == nil {
		patients = []*Patient{}
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return translate(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetStudy(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetStudy(c.Request().Context(), id)
	if err != nil {
		return translate(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) GetSeries(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	se, err := h.svc.GetSeries(c.Request().Context(), id)
	if err != nil {
		return translate(err)
	}
	return c.JSON(http.StatusOK, se)
}

func (h *Handler) GetFile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	chain, err := h.svc.GetFileChain(c.Request().Context(), id)
	if err != nil {
		return translate(err)
	}
	return c.JSON(http.StatusOK, chain)
}

func (h *Handler) ListModalities(c echo.Context) error {
	modalities, err := h.svc.ListModalities(c.Request().Context())
	if err != nil {
		return translate(err)
	}
	if modalities == nil {
		modalities = []*Modality{}
	}
	return c.JSON(http.StatusOK, modalities)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return translate(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteStudy(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteStudy(c.Request().Context(), id); err != nil {
		return translate(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteSeries(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSeries(c.Request().Context(), id); err != nil {
		return translate(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteFile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteFile(c.Request().Context(), id); err != nil {
		return translate(err)
	}
	return c.NoContent(http.StatusNoContent)
}
