package mailapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/triage"
)

const processingStarted = "Email processing started"

type processRequest struct {
	Emails []email.Input `json:"emails"`
}

type processResponse struct {
	JobID      string `json:"job_id"`
	Message    string `json:"message"`
	EmailCount int    `json:"email_count"`
}

func (a *API) handleProcessEmails(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	records := make([]email.Record, 0, len(req.Emails))
	for i, in := range req.Emails {
		rec := in.Record()
		if err := rec.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("emails[%d]: %v", i, err))
			return
		}
		records = append(records, rec)
	}

	a.submit(w, r, records)
}

func (a *API) submit(w http.ResponseWriter, r *http.Request, records []email.Record) {
	res, err := a.svc.Submit(r.Context(), records)
	if err != nil {
		a.fail(w, r, err, "failed to submit triage job")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("courier.job.id", res.JobID),
		attribute.Int("courier.job.emails", res.EmailCount),
	)
	a.logger.Info(r.Context(), "triage job accepted", "job_id", res.JobID, "emails", res.EmailCount)

	writeJSON(w, http.StatusOK, processResponse{
		JobID:      res.JobID,
		Message:    processingStarted,
		EmailCount: res.EmailCount,
	})
}

// handleJobStatus serves the job snapshot. Clients waiting for a job should
// poll until stage is completed or error; status reads completed as soon as
// classification covers every email.
func (a *API) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("courier.job.id", id))

	snap, err := a.svc.Status(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to get job status")
		return
	}

	span.SetAttributes(attribute.String("courier.job.status", string(snap.Status)))
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	snaps, err := a.svc.List(r.Context())
	if err != nil {
		a.fail(w, r, err, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (a *API) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("courier.job.id", id))

	if err := a.svc.Cancel(r.Context(), id); err != nil {
		a.fail(w, r, err, "failed to cancel job")
		return
	}
	a.logger.Info(r.Context(), "triage job cancel requested", "job_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "message": "cancellation requested"})
}

// handleTriageInbox submits every unread inbox email as one job.
func (a *API) handleTriageInbox(w http.ResponseWriter, r *http.Request) {
	unread, err := a.mailbox.Unread(r.Context())
	if err != nil {
		a.fail(w, r, err, "failed to load unread mail")
		return
	}
	a.submit(w, r, unread)
}

var _ TriageService = (*triage.Service)(nil)
