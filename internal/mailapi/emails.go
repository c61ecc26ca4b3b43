package mailapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/mailstore"
)

var _ Mailbox = (*mailstore.Mailbox)(nil)

type updateRequest struct {
	IsRead *bool `json:"is_read"`
}

type replyRequest struct {
	Body string `json:"body"`
}

func (a *API) handleListEmails(w http.ResponseWriter, r *http.Request) {
	folder := email.Folder(r.URL.Query().Get("folder"))
	recs, err := a.mailbox.List(r.Context(), folder)
	if err != nil {
		a.fail(w, r, err, "failed to list emails")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *API) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	rec, err := a.mailbox.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err, "failed to get email")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleEmailSource serves the stored RFC 5322 message of a composed reply.
func (a *API) handleEmailSource(w http.ResponseWriter, r *http.Request) {
	raw, err := a.mailbox.Source(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err, "failed to get email source")
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (a *API) handleCreateEmail(w http.ResponseWriter, r *http.Request) {
	var in email.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	rec, err := a.mailbox.Compose(r.Context(), in)
	if err != nil {
		a.fail(w, r, err, "failed to create email")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleUpdateEmail(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.IsRead == nil {
		writeError(w, http.StatusBadRequest, "is_read is required")
		return
	}
	rec, err := a.mailbox.SetRead(r.Context(), chi.URLParam(r, "id"), *req.IsRead)
	if err != nil {
		a.fail(w, r, err, "failed to update email")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleDeleteEmail(w http.ResponseWriter, r *http.Request) {
	if err := a.mailbox.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err, "failed to delete email")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReplyEmail(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	rec, err := a.mailbox.Reply(r.Context(), chi.URLParam(r, "id"), req.Body)
	if err != nil {
		a.fail(w, r, err, "failed to reply to email")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
