package handler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/octobees/cardscan/api/internal/backend"
	"github.com/octobees/cardscan/api/internal/dto"
	"github.com/octobees/cardscan/api/internal/repository"
	"github.com/octobees/cardscan/api/internal/service"
)

const exportFilename = "all_business_cards.csv"

// CardsHandler exposes the card grid and single-card endpoints.
type CardsHandler struct {
	service *service.CardsService
}

// NewCardsHandler creates a new handler instance.
func NewCardsHandler(service *service.CardsService) *CardsHandler {
	return &CardsHandler{service: service}
}

// List handles GET /cards requests.
func (h *CardsHandler) List(c echo.Context) error {
	snap, err := h.service.Snapshot(c.Request().Context())
	if err != nil {
		return backendError(c, "failed to fetch cards", err)
	}
	return Success(c, http.StatusOK, "cards retrieved", snap)
}

// Export handles GET /cards/export.csv requests.
func (h *CardsHandler) Export(c echo.Context) error {
	var buf bytes.Buffer
	if err := h.service.ExportCSV(c.Request().Context(), &buf, c.QueryParam("with_id") == "true"); err != nil {
		return backendError(c, "failed to fetch cards", err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", exportFilename))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Create handles POST /cards requests.
func (h *CardsHandler) Create(c echo.Context) error {
	var req dto.CardFields
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "invalid payload")
	}
	card, warnings, err := h.service.CreateCard(c.Request().Context(), req)
	if err != nil {
		return backendError(c, "failed to create card", err)
	}
	message := "card created"
	if card == nil {
		message = "card created but no data returned"
	}
	return Success(c, http.StatusCreated, message, dto.CardResponse{Card: card, Warnings: warnings})
}

// Upload handles POST /cards/upload requests.
func (h *CardsHandler) Upload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return Error(c, http.StatusBadRequest, "missing image file")
	}
	if !service.AllowedImage(fileHeader.Filename) {
		return Error(c, http.StatusBadRequest, service.ErrUnsupportedImage.Error())
	}

	file, err := fileHeader.Open()
	if err != nil {
		return Error(c, http.StatusBadRequest, "unable to open file")
	}
	defer file.Close()

	card, warnings, err := h.service.UploadCard(c.Request().Context(), fileHeader.Filename, file)
	if err != nil {
		return backendError(c, "upload failed", err)
	}
	message := "card extracted"
	if card == nil {
		message = "backend returned success but no data payload"
	}
	return Success(c, http.StatusCreated, message, dto.CardResponse{Card: card, Warnings: warnings})
}

// Validate handles POST /cards/validate requests.
func (h *CardsHandler) Validate(c echo.Context) error {
	var req dto.CardFields
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "invalid payload")
	}
	return Success(c, http.StatusOK, "fields checked", dto.ValidateResponse{Warnings: h.service.ValidateFields(req)})
}

// Update handles PATCH /cards/:id requests.
func (h *CardsHandler) Update(c echo.Context) error {
	var req dto.CardFields
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "invalid payload")
	}
	warnings, err := h.service.UpdateCard(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return backendError(c, "failed to update", err)
	}
	return Success(c, http.StatusOK, "updated", dto.ValidateResponse{Warnings: warnings})
}

// Delete handles DELETE /cards/:id requests.
func (h *CardsHandler) Delete(c echo.Context) error {
	if err := h.service.DeleteCard(c.Request().Context(), c.Param("id")); err != nil {
		return backendError(c, "failed to delete", err)
	}
	return Success(c, http.StatusOK, "deleted", nil)
}

// Save handles POST /cards/save requests. Per-row failures do not fail the
// request; they are listed in the returned summary.
func (h *CardsHandler) Save(c echo.Context) error {
	var req dto.SaveRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "invalid payload")
	}
	mode, err := service.ParseMatchMode(req.Match)
	if err != nil {
		return Error(c, http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Save(c.Request().Context(), req.Original, req.Edited, mode)
	if err != nil {
		return backendError(c, "failed to save", err)
	}
	return Success(c, http.StatusOK, saveMessage(result), result)
}

// SaveRuns handles GET /saves requests.
func (h *CardsHandler) SaveRuns(c echo.Context) error {
	runs, err := h.service.RecentSaves(c.Request().Context(), parseIntDefault(c.QueryParam("limit"), 20))
	if err != nil {
		if errors.Is(err, service.ErrAuditDisabled) {
			return Error(c, http.StatusNotFound, err.Error())
		}
		return Error(c, http.StatusInternalServerError, "failed to list save runs")
	}
	return Success(c, http.StatusOK, "save runs retrieved", runs)
}

// SaveRun handles GET /saves/:id requests.
func (h *CardsHandler) SaveRun(c echo.Context) error {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		return Error(c, http.StatusBadRequest, "invalid save run id")
	}
	run, err := h.service.FindSave(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrAuditDisabled) || errors.Is(err, repository.ErrSaveRunNotFound) {
			return Error(c, http.StatusNotFound, err.Error())
		}
		return Error(c, http.StatusInternalServerError, "failed to fetch save run")
	}
	return Success(c, http.StatusOK, "save run retrieved", run)
}

func saveMessage(result service.SaveResult) string {
	if !result.Attempted {
		return "no changes detected"
	}
	msg := fmt.Sprintf("updated %d card(s)", result.Updated)
	if result.Failed > 0 {
		msg += fmt.Sprintf(", save completed with %d failures", result.Failed)
	}
	if result.Skipped > 0 {
		msg += fmt.Sprintf(", skipped %d card(s) with only blank values", result.Skipped)
	}
	return msg
}

// backendError maps service and backend failures onto HTTP statuses. Caller
// mistakes are 400s; anything the card backend reported is a 502 carrying the
// backend's own message.
func backendError(c echo.Context, prefix string, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidSnapshot),
		errors.Is(err, service.ErrMissingID),
		errors.Is(err, service.ErrUnsupportedImage),
		errors.Is(err, backend.ErrEmptyUpdate):
		return Error(c, http.StatusBadRequest, err.Error())
	}

	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		return Error(c, http.StatusBadGateway, fmt.Sprintf("%s: %s", prefix, statusErr.Message))
	}
	var transportErr *backend.TransportError
	if errors.As(err, &transportErr) {
		return Error(c, http.StatusBadGateway, fmt.Sprintf("%s: %v", prefix, transportErr.Err))
	}
	return Error(c, http.StatusBadGateway, fmt.Sprintf("%s: %v", prefix, err))
}

func parseIntDefault(input string, fallback int) int {
	if input == "" {
		return fallback
	}
	if value, err := strconv.Atoi(input); err == nil {
		return value
	}
	return fallback
}
