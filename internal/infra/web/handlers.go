package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/model"
	"telegram-subscriber-notify/internal/infra/logging"
	"telegram-subscriber-notify/internal/usecase"
)

const (
	maxBodyBytes = 1 << 20
	maxNameLen   = 256

	messengerMissing = "Server not configured with TELEGRAM_TOKEN"
)

type notifyRequest struct {
	Message   string  `json:"message"`
	ChatID    *int64  `json:"chat_id"`
	Username  *string `json:"username"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	NIP       *string `json:"nip"`
}

func (r notifyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message, validation.Required),
		validation.Field(&r.Username, validation.Length(0, maxNameLen)),
		validation.Field(&r.FirstName, validation.Length(0, maxNameLen)),
		validation.Field(&r.LastName, validation.Length(0, maxNameLen)),
	)
}

func (r notifyRequest) toModel() model.NotifyRequest {
	return model.NotifyRequest{
		Message:   r.Message,
		ChatID:    r.ChatID,
		Username:  r.Username,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		NIP:       r.NIP,
	}
}

type notifyResponse struct {
	Sent    int    `json:"sent"`
	OK      bool   `json:"ok"`
	BatchID string `json:"batch_id,omitempty"`
}

// subscriberUpdateRequest has no length rule on nip: longer values are
// truncated by the registry.
type subscriberUpdateRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Username  *string `json:"username"`
	NIP       *string `json:"nip"`
}

func (r subscriberUpdateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Length(0, maxNameLen)),
		validation.Field(&r.FirstName, validation.Length(0, maxNameLen)),
		validation.Field(&r.LastName, validation.Length(0, maxNameLen)),
	)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func notifyHandler(notifyUC usecase.NotificationUseCase, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req notifyRequest
		if !decodeStrict(w, r, &req) {
			return
		}

		res, err := notifyUC.Notify(r.Context(), req.toModel())
		switch {
		case errors.Is(err, domain.ErrMessengerUnavailable):
			writeError(w, http.StatusInternalServerError, messengerMissing)
			return
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		case err != nil:
			logging.With(r.Context(), logger).Error().Err(err).Msg("notify failed")
			writeError(w, http.StatusInternalServerError, "notification failed")
			return
		}
		writeJSON(w, http.StatusOK, notifyResponse{Sent: res.Sent, OK: true, BatchID: res.BatchID})
	}
}

func subscribersListHandler(subUC usecase.SubscriberUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subs, err := subUC.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load subscribers")
			return
		}
		out := make(map[string]model.Record, len(subs))
		for id, s := range subs {
			out[strconv.FormatInt(id, 10)] = s.Record()
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func subscriberPutHandler(subUC usecase.SubscriberUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}
		var req subscriberUpdateRequest
		if !decodeStrict(w, r, &req) {
			return
		}
		s, err := subUC.Update(r.Context(), chatID, model.SubscriberUpdate{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Username:  req.Username,
			NIP:       req.NIP,
		})
		if err != nil {
			writeUseCaseError(w, err, chatID)
			return
		}
		writeRecord(w, s)
	}
}

func subscriberDeleteHandler(subUC usecase.SubscriberUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}
		if err := subUC.Delete(r.Context(), chatID); err != nil {
			writeUseCaseError(w, err, chatID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func subscriberSyncHandler(subUC usecase.SubscriberUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}
		s, err := subUC.Sync(r.Context(), chatID)
		if err != nil {
			writeUseCaseError(w, err, chatID)
			return
		}
		writeRecord(w, s)
	}
}

func subscribersSyncAllHandler(subUC usecase.SubscriberUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// detached like /notify: a disconnect must not abandon half the refresh
		n, err := subUC.SyncAll(context.WithoutCancel(r.Context()))
		if err != nil {
			writeUseCaseError(w, err, 0)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"updated": n, "ok": true})
	}
}

// ---- helpers ----

func chatIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "chatId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid chat id %q", raw))
		return 0, false
	}
	return id, true
}

// decodeStrict decodes a single JSON object, rejecting unknown fields, then
// runs its validation rules. Any failure is a 422.
func decodeStrict(w http.ResponseWriter, r *http.Request, dst validation.Validatable) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusUnprocessableEntity, "request body is required")
			return false
		}
		writeError(w, http.StatusUnprocessableEntity, "malformed request body: "+err.Error())
		return false
	}
	if dec.More() {
		writeError(w, http.StatusUnprocessableEntity, "request body must be a single JSON object")
		return false
	}
	if err := dst.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

func writeUseCaseError(w http.ResponseWriter, err error, chatID int64) {
	switch {
	case errors.Is(err, domain.ErrMessengerUnavailable):
		writeError(w, http.StatusInternalServerError, messengerMissing)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Chat %d not found or not accessible", chatID))
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeRecord(w http.ResponseWriter, s *model.Subscriber) {
	writeJSON(w, http.StatusOK, map[string]model.Record{strconv.FormatInt(s.ChatID, 10): s.Record()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
