package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"hostshell/internal/notification"
	logx "hostshell/pkg/logx"
)

const maxNotifyBody = 64 << 10

// NotifyResult is the body returned by POST /notify.
type NotifyResult struct {
	ID       string                `json:"id,omitempty"`
	Outcome  string                `json:"outcome,omitempty"`
	Response notification.Response `json:"response"`
	Error    string                `json:"error,omitempty"`
}

// handleNotify submits a JSON notification.Request and answers once the
// presenter has resolved it.
func (a *App) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notification.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotifyBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeNotify(w, http.StatusBadRequest, NotifyResult{ID: req.ID, Error: err.Error()})
		return
	}

	resp, err := a.notif.Submit(r.Context(), req)
	if err != nil {
		code := notifyStatus(err)
		if code == http.StatusInternalServerError {
			a.log.Warn("notify request failed", logx.String("id", req.ID), logx.Err(err))
		}
		writeNotify(w, code, NotifyResult{ID: req.ID, Error: err.Error()})
		return
	}

	outcome := string(resp.Outcome())
	if outcome == "" {
		outcome = "none"
	}
	writeNotify(w, http.StatusOK, NotifyResult{ID: req.ID, Outcome: outcome, Response: resp})
}

func notifyStatus(err error) int {
	switch {
	case errors.Is(err, notification.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, notification.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, notification.ErrNoPresenter):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeNotify(w http.ResponseWriter, code int, res NotifyResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(res)
}
