package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/triage"
)

const requestTimeout = 30 * time.Second

var errNotFound = errors.New("not found")

// submitResponse mirrors the server's reply to a batch submission.
type submitResponse struct {
	JobID      string `json:"job_id"`
	Message    string `json:"message"`
	EmailCount int    `json:"email_count"`
}

// client talks to the courier HTTP API.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string) *client {
	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: requestTimeout},
	}
}

func (c *client) Submit(ctx context.Context, records []email.Record) (*submitResponse, error) {
	var out submitResponse
	err := c.do(ctx, http.MethodPost, "/process-emails", map[string]any{"emails": records}, &out)
	return &out, err
}

func (c *client) TriageInbox(ctx context.Context) (*submitResponse, error) {
	var out submitResponse
	err := c.do(ctx, http.MethodPost, "/emails/triage", nil, &out)
	return &out, err
}

func (c *client) Status(ctx context.Context, jobID string) (*triage.Snapshot, error) {
	var out triage.Snapshot
	err := c.do(ctx, http.MethodGet, "/job-status/"+url.PathEscape(jobID), nil, &out)
	return &out, err
}

func (c *client) List(ctx context.Context) ([]triage.Snapshot, error) {
	var out []triage.Snapshot
	err := c.do(ctx, http.MethodGet, "/jobs", nil, &out)
	return out, err
}

func (c *client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil, nil)
}

// Wait polls a job until it reaches a terminal stage. onPoll, when set, sees
// every snapshot.
func (c *client) Wait(ctx context.Context, jobID string, interval time.Duration, onPoll func(*triage.Snapshot)) (*triage.Snapshot, error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		snap, err := c.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(snap)
		}
		if snap.Terminal() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
