package intake

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/medspa-consent-intake/internal/submissions"
	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

const (
	maxBodyBytes = 64 << 10

	msgSuccess          = "Submission successful"
	msgInvalidBody      = "Invalid request body"
	msgPersistFailed    = "Submission could not be saved. Please try again."
	msgNotificationWarn = "Your submission was saved, but we could not send the WhatsApp confirmation."
)

// SubmissionResponse is the JSON body returned by POST /submissions.
type SubmissionResponse struct {
	Message      string `json:"message"`
	ID           string `json:"id,omitempty"`
	Notification string `json:"notification,omitempty"`
	Warning      string `json:"warning,omitempty"`
}

// Handler handles HTTP requests for consent submissions
type Handler struct {
	orchestrator *Orchestrator
	logger       *logging.Logger
}

// NewHandler creates a new submissions handler
func NewHandler(orchestrator *Orchestrator, logger *logging.Logger) *Handler {
	if orchestrator == nil {
		panic("intake: orchestrator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{orchestrator: orchestrator, logger: logger}
}

// CreateSubmission handles POST /submissions requests
func (h *Handler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req submissions.SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Info("failed to decode submission", "error", err)
		writeJSON(w, http.StatusBadRequest, SubmissionResponse{Message: msgInvalidBody})
		return
	}

	outcome := h.orchestrator.Submit(r.Context(), req)
	status, resp := responseFor(outcome)
	writeJSON(w, status, resp)
}

func responseFor(outcome Outcome) (int, SubmissionResponse) {
	switch outcome.Kind {
	case OutcomeRejected:
		var verr *submissions.ValidationError
		if errors.As(outcome.Err, &verr) {
			return http.StatusBadRequest, SubmissionResponse{Message: verr.Message()}
		}
		return http.StatusBadRequest, SubmissionResponse{Message: msgInvalidBody}
	case OutcomePersistFailed:
		status := http.StatusServiceUnavailable
		if submissions.StoreErrorKindOf(outcome.Err) == submissions.ConstraintViolation {
			status = http.StatusBadGateway
		}
		return status, SubmissionResponse{Message: msgPersistFailed}
	}

	resp := SubmissionResponse{
		Message:      msgSuccess,
		ID:           outcome.ID(),
		Notification: outcome.Notification.Label(),
	}
	if outcome.Notification == submissions.NotificationFailed {
		resp.Warning = msgNotificationWarn
	}
	return http.StatusOK, resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
