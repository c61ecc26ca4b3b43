package mailapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/mailstore"
	"github.com/linnemanlabs/courier/internal/mailstore/memstore"
	"github.com/linnemanlabs/courier/internal/triage"
)

type mockService struct {
	mu        sync.Mutex
	submitted [][]email.Record
	cancelled []string
	snaps     map[string]triage.Snapshot
	submitErr error
	cancelErr error
}

func (m *mockService) Submit(_ context.Context, records []email.Record) (*triage.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.submitted = append(m.submitted, records)
	return &triage.SubmitResult{JobID: "01JOB", EmailCount: len(records)}, nil
}

func (m *mockService) Status(_ context.Context, id string) (triage.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	if !ok {
		return triage.Snapshot{}, triage.ErrJobNotFound
	}
	return s, nil
}

func (m *mockService) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	if _, ok := m.snaps[id]; !ok {
		return triage.ErrJobNotFound
	}
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *mockService) List(context.Context) ([]triage.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]triage.Snapshot, 0, len(m.snaps))
	for _, s := range m.snaps {
		out = append(out, s)
	}
	return out, nil
}

func newTestRouter(t *testing.T, svc *mockService) (chi.Router, *mailstore.Mailbox) {
	t.Helper()
	mb := mailstore.New(memstore.New(), "", log.Nop())
	api := New(nil, svc, mb)
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r, mb
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, &mockService{}, nil)
	if api.logger == nil {
		t.Fatal("New(nil, svc, nil) left logger nil; expected Nop logger")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil service did not panic")
		}
	}()
	New(nil, nil, nil)
}

func TestRegisterRoutes_NoMailbox(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	New(nil, &mockService{}, nil).RegisterRoutes(r)

	if rec := do(t, r, http.MethodGet, "/emails", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /emails without mailbox = %d, want 404", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/jobs", ""); rec.Code != http.StatusOK {
		t.Errorf("GET /jobs = %d, want 200", rec.Code)
	}
}

// Jobs

func TestProcessEmails(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	r, _ := newTestRouter(t, svc)

	body := `{"emails":[
		{"id":"a","sender":"alice@example.com","recipient":"user@example.com","subject":"Hi","body":"hello","timestamp":"2024-01-01T00:00:00Z"},
		{"id":"b","sender":"bob@example.com","recipient":"user@example.com","subject":"Sale","body":"buy"}
	]}`
	rec := do(t, r, http.MethodPost, "/process-emails", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}

	got := decode[processResponse](t, rec)
	want := processResponse{JobID: "01JOB", Message: "Email processing started", EmailCount: 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response (-want +got):\n%s", diff)
	}

	if len(svc.submitted) != 1 || len(svc.submitted[0]) != 2 {
		t.Fatalf("submitted = %v", svc.submitted)
	}
	b := svc.submitted[0][1]
	if b.Folder != email.FolderInbox || b.Timestamp == "" || b.Attachments == nil {
		t.Errorf("defaults not applied: %+v", b)
	}
}

func TestProcessEmails_EmptyBatch(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, &mockService{})
	rec := do(t, r, http.MethodPost, "/process-emails", `{"emails":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decode[processResponse](t, rec); got.EmailCount != 0 {
		t.Errorf("email_count = %d, want 0", got.EmailCount)
	}
}

func TestProcessEmails_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		submitErr error
		wantCode  int
		wantErr   string
	}{
		{"invalid JSON", `{bad`, nil, http.StatusBadRequest, "invalid payload"},
		{"missing sender", `{"emails":[{"id":"a","recipient":"user@example.com"}]}`, nil, http.StatusBadRequest, "emails[0]"},
		{"malformed address", `{"emails":[{"id":"a","sender":"not an address","recipient":"user@example.com"}]}`, nil, http.StatusBadRequest, "malformed address"},
		{"duplicate id", `{"emails":[]}`, triage.ErrDuplicateID, http.StatusBadRequest, "duplicate email id"},
		{"service closed", `{"emails":[]}`, triage.ErrServiceClosed, http.StatusServiceUnavailable, "closed"},
		{"store failure", `{"emails":[]}`, errors.New("disk full"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, _ := newTestRouter(t, &mockService{submitErr: tt.submitErr})
			rec := do(t, r, http.MethodPost, "/process-emails", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %q", ct)
			}
			got := decode[map[string]string](t, rec)
			if !strings.Contains(got["error"], tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", got["error"], tt.wantErr)
			}
		})
	}
}

func TestJobStatus(t *testing.T) {
	t.Parallel()

	svc := &mockService{snaps: map[string]triage.Snapshot{
		"01A": {JobID: "01A", Status: triage.StatusProcessing, Stage: triage.StageClassifying},
	}}
	r, _ := newTestRouter(t, svc)

	rec := do(t, r, http.MethodGet, "/job-status/01A", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["job_id"] != "01A" || got["status"] != "processing" {
		t.Errorf("body = %v", got)
	}

	rec = do(t, r, http.MethodGet, "/job-status/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["error"] != "not found" {
		t.Errorf("error body = %v", got)
	}
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		id        string
		cancelErr error
		wantCode  int
	}{
		{"running", "01A", nil, http.StatusAccepted},
		{"unknown", "nope", nil, http.StatusNotFound},
		{"finished", "01A", triage.ErrJobFinished, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &mockService{
				snaps:     map[string]triage.Snapshot{"01A": {JobID: "01A"}},
				cancelErr: tt.cancelErr,
			}
			r, _ := newTestRouter(t, svc)
			rec := do(t, r, http.MethodDelete, "/jobs/"+tt.id, "")
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	svc := &mockService{snaps: map[string]triage.Snapshot{"01A": {JobID: "01A"}}}
	r, _ := newTestRouter(t, svc)

	rec := do(t, r, http.MethodGet, "/jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[[]triage.Snapshot](t, rec)
	if len(got) != 1 || got[0].JobID != "01A" {
		t.Errorf("jobs = %+v", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, &mockService{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/process-emails"},
		{http.MethodPost, "/job-status/01A"},
		{http.MethodPut, "/jobs/01A"},
	}
	for _, tt := range tests {
		if rec := do(t, r, tt.method, tt.path, ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", tt.method, tt.path, rec.Code)
		}
	}
}

// Mailbox

func TestEmails_CRUD(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, &mockService{})

	rec := do(t, r, http.MethodPost, "/emails",
		`{"sender":"alice@example.com","recipient":"user@example.com","subject":"Hello","body":"hi","timestamp":"2024-01-01T00:00:00Z"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (body %s)", rec.Code, rec.Body)
	}
	created := decode[email.Record](t, rec)
	if created.Folder != email.FolderInbox || created.ID == "" {
		t.Fatalf("created = %+v", created)
	}

	rec = do(t, r, http.MethodPost, "/emails",
		`{"sender":"user@example.com","recipient":"bob@example.com","subject":"Out","body":"x","timestamp":"2024-01-02T00:00:00Z"}`)
	if got := decode[email.Record](t, rec); got.Folder != email.FolderSent {
		t.Errorf("owner-sent folder = %q, want sent", got.Folder)
	}

	rec = do(t, r, http.MethodGet, "/emails?folder=inbox", "")
	if list := decode[[]email.Record](t, rec); len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("inbox = %+v", list)
	}
	rec = do(t, r, http.MethodGet, "/emails", "")
	if list := decode[[]email.Record](t, rec); len(list) != 2 || list[0].Subject != "Out" {
		t.Errorf("all emails not newest first: %+v", list)
	}

	rec = do(t, r, http.MethodGet, "/emails/"+created.ID, "")
	if got := decode[email.Record](t, rec); !got.IsRead {
		t.Error("GET did not mark inbox mail read")
	}

	rec = do(t, r, http.MethodPatch, "/emails/"+created.ID, `{"is_read":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d", rec.Code)
	}
	if got := decode[email.Record](t, rec); got.IsRead {
		t.Error("PATCH is_read=false not applied")
	}

	if rec = do(t, r, http.MethodDelete, "/emails/"+created.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec = do(t, r, http.MethodGet, "/emails/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}
}

func TestEmails_Errors(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, &mockService{})

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
	}{
		{"bad folder", http.MethodGet, "/emails?folder=spam", "", http.StatusBadRequest},
		{"get missing", http.MethodGet, "/emails/nope", "", http.StatusNotFound},
		{"create invalid JSON", http.MethodPost, "/emails", `{`, http.StatusBadRequest},
		{"create missing recipient", http.MethodPost, "/emails", `{"sender":"a@example.com"}`, http.StatusBadRequest},
		{"patch missing field", http.MethodPatch, "/emails/nope", `{}`, http.StatusBadRequest},
		{"patch missing email", http.MethodPatch, "/emails/nope", `{"is_read":true}`, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/emails/nope", "", http.StatusNotFound},
		{"reply missing", http.MethodPost, "/emails/nope/reply", `{"body":"hi"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if rec := do(t, r, tt.method, tt.path, tt.body); rec.Code != tt.wantCode {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantCode)
			}
		})
	}
}

func TestEmails_DuplicateID(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, &mockService{})
	body := `{"id":"fixed","sender":"a@example.com","recipient":"user@example.com"}`
	if rec := do(t, r, http.MethodPost, "/emails", body); rec.Code != http.StatusCreated {
		t.Fatalf("first create = %d", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, "/emails", body); rec.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", rec.Code)
	}
}

func TestEmails_Reply(t *testing.T) {
	t.Parallel()

	r, mb := newTestRouter(t, &mockService{})
	orig, err := mb.Compose(context.Background(), email.Input{
		Sender: "alice@example.com", Recipient: "user@example.com", Subject: "Question",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := do(t, r, http.MethodPost, "/emails/"+orig.ID+"/reply", `{"body":"Thanks!"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("reply status = %d (body %s)", rec.Code, rec.Body)
	}
	got := decode[email.Record](t, rec)
	if got.Subject != "RE: Question" || got.Recipient != "alice@example.com" || got.Folder != email.FolderSent {
		t.Errorf("reply = %+v", got)
	}

	if rec := do(t, r, http.MethodPost, "/emails/"+orig.ID+"/reply", `{"body":"  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty reply = %d, want 400", rec.Code)
	}

	src := do(t, r, http.MethodGet, "/emails/"+got.ID+"/raw", "")
	if src.Code != http.StatusOK {
		t.Fatalf("raw status = %d (body %s)", src.Code, src.Body)
	}
	if ct := src.Header().Get("Content-Type"); ct != "message/rfc822" {
		t.Errorf("raw content type = %q", ct)
	}
	for _, h := range []string{"In-Reply-To: <" + orig.ID + ">", "References: <" + orig.ID + ">"} {
		if !strings.Contains(src.Body.String(), h) {
			t.Errorf("sent message lacks %q:\n%s", h, src.Body)
		}
	}

	if rec := do(t, r, http.MethodGet, "/emails/"+orig.ID+"/raw", ""); rec.Code != http.StatusNotFound {
		t.Errorf("raw of received mail = %d, want 404", rec.Code)
	}
}

func TestEmails_TriageInbox(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	r, mb := newTestRouter(t, svc)
	if _, err := mb.Seed(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := do(t, r, http.MethodPost, "/emails/triage", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[processResponse](t, rec); got.EmailCount != 2 {
		t.Errorf("email_count = %d, want the 2 unread inbox emails", got.EmailCount)
	}
	for _, r := range svc.submitted[0] {
		if r.Folder != email.FolderInbox || r.IsRead {
			t.Errorf("submitted non-unread-inbox email %+v", r)
		}
	}
}
