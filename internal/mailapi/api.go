// Package mailapi serves the triage job endpoints and the mailbox they read
// from.
package mailapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/mailstore"
	"github.com/linnemanlabs/courier/internal/triage"
)

// TriageService defines the job operations mailapi needs.
type TriageService interface {
	Submit(ctx context.Context, records []email.Record) (*triage.SubmitResult, error)
	Status(ctx context.Context, id string) (triage.Snapshot, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context) ([]triage.Snapshot, error)
}

// Mailbox defines the mailbox operations mailapi needs.
type Mailbox interface {
	List(ctx context.Context, folder email.Folder) ([]email.Record, error)
	Unread(ctx context.Context) ([]email.Record, error)
	Open(ctx context.Context, id string) (email.Record, error)
	Source(ctx context.Context, id string) ([]byte, error)
	Compose(ctx context.Context, in email.Input) (email.Record, error)
	SetRead(ctx context.Context, id string, read bool) (email.Record, error)
	Delete(ctx context.Context, id string) error
	Reply(ctx context.Context, id, text string) (email.Record, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	svc     TriageService
	mailbox Mailbox
}

// New creates a new API handler. The mailbox is optional; without one only
// the job endpoints are served.
func New(logger log.Logger, svc TriageService, mailbox Mailbox) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger:  logger,
		svc:     svc,
		mailbox: mailbox,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Post("/process-emails", a.handleProcessEmails)
	r.Get("/job-status/{jobId}", a.handleJobStatus)
	r.Get("/jobs", a.handleListJobs)
	r.Delete("/jobs/{jobId}", a.handleCancelJob)

	if a.mailbox == nil {
		return
	}
	r.Route("/emails", func(r chi.Router) {
		r.Get("/", a.handleListEmails)
		r.Post("/", a.handleCreateEmail)
		r.Post("/triage", a.handleTriageInbox)
		r.Get("/{id}", a.handleGetEmail)
		r.Get("/{id}/raw", a.handleEmailSource)
		r.Patch("/{id}", a.handleUpdateEmail)
		r.Delete("/{id}", a.handleDeleteEmail)
		r.Post("/{id}/reply", a.handleReplyEmail)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps domain errors onto HTTP statuses. Anything unrecognised is
// logged and reported as an internal error.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, triage.ErrJobNotFound),
		errors.Is(err, mailstore.ErrNotFound),
		errors.Is(err, mailstore.ErrNoSource):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, triage.ErrJobFinished), errors.Is(err, mailstore.ErrExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, triage.ErrDuplicateID),
		errors.Is(err, email.ErrMissingID),
		errors.Is(err, email.ErrMissingSender),
		errors.Is(err, email.ErrMissingRecipient),
		errors.Is(err, email.ErrInvalidFolder),
		errors.Is(err, email.ErrInvalidAddress),
		errors.Is(err, email.ErrEmptyReply):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, triage.ErrServiceClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
