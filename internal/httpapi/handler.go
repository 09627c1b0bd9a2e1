package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/mithzak/are-you-dead/internal/checkin"
	"github.com/mithzak/are-you-dead/internal/models"

	"go.uber.org/zap"
)

// Handler check-in API handlers
type Handler struct {
	svc    *checkin.Service
	logger *zap.Logger
}

func NewHandler(svc *checkin.Service, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

type checkInBody struct {
	UserID       string           `json:"userId"`
	BatteryLevel *int             `json:"batteryLevel"`
	Location     *models.Location `json:"location"`
	ObservedAt   *time.Time       `json:"observedAt"`
}

// checkInError device-facing error body
type checkInError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// CheckIn POST /api/check-in
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var body checkInBody
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, checkInError{Error: "invalid JSON body"})
		return
	}
	if body.BatteryLevel == nil {
		writeJSON(w, http.StatusBadRequest, checkInError{Error: "batteryLevel is required"})
		return
	}

	resp, err := h.svc.CheckIn(r.Context(), checkin.Request{
		UserID:       body.UserID,
		BatteryLevel: *body.BatteryLevel,
		Location:     body.Location,
		ObservedAt:   body.ObservedAt,
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Check-in failed", zap.String("user_id", body.UserID), zap.Error(err))
			writeJSON(w, status, checkInError{Error: "internal error"})
			return
		}
		writeJSON(w, status, checkInError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusView struct {
	User             *models.UserRecord `json:"user"`
	NextDeadline     time.Time          `json:"nextDeadline"`
	RemainingSeconds int64              `json:"remainingSeconds"`
	IsEscalated      bool               `json:"isEscalated"`
}

// Status GET /api/users/{id}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request, id string) {
	st, err := h.svc.Status(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(statusView{
		User:             st.User,
		NextDeadline:     st.NextDeadline,
		RemainingSeconds: int64(st.Remaining / time.Second),
		IsEscalated:      st.IsEscalated,
	}))
}

// History GET /api/users/{id}/check-ins?limit=N
func (h *Handler) History(w http.ResponseWriter, r *http.Request, id string) {
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	if limit < 1 || limit > 500 {
		writeJSON(w, http.StatusBadRequest, Fail("limit must be between 1 and 500"))
		return
	}
	entries, err := h.svc.History(r.Context(), id, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(entries))
}

// Escalations GET /api/users/{id}/escalations?limit=N
func (h *Handler) Escalations(w http.ResponseWriter, r *http.Request, id string) {
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	if limit < 1 || limit > 500 {
		writeJSON(w, http.StatusBadRequest, Fail("limit must be between 1 and 500"))
		return
	}
	records, err := h.svc.Escalations(r.Context(), id, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(records))
}

type registerBody struct {
	ID                string                    `json:"id"`
	Name              string                    `json:"name"`
	BatteryLevel      int                       `json:"batteryLevel"`
	Location          *models.Location          `json:"location"`
	EmergencyContacts []models.EmergencyContact `json:"emergencyContacts"`
}

// Register POST /api/users
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid JSON body"))
		return
	}
	rec, err := h.svc.Register(r.Context(), checkin.RegisterRequest{
		ID:                body.ID,
		Name:              body.Name,
		BatteryLevel:      body.BatteryLevel,
		Location:          body.Location,
		EmergencyContacts: body.EmergencyContacts,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(rec))
}

// Erase DELETE /api/users/{id}
func (h *Handler) Erase(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.svc.Erase(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id}))
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
		writeJSON(w, status, Fail("internal error"))
		return
	}
	writeJSON(w, status, Fail(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, checkin.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkin.ErrStale), errors.Is(err, checkin.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, checkin.ErrInvalidBattery),
		errors.Is(err, checkin.ErrInvalidLocation),
		errors.Is(err, checkin.ErrInvalidUserID),
		errors.Is(err, checkin.ErrInvalidContact),
		errors.Is(err, checkin.ErrEmergencyNumber):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
