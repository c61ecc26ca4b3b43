package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/triage"
)

func (a *app) submitCmd() *cobra.Command {
	var (
		inbox    bool
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit [FILE...]",
		Short: "Submit a batch of emails for triage",
		Long: `Submit a batch of emails for triage.

Each FILE is either JSON (a {"emails": [...]} document or a bare array of
emails) or an RFC 5322 message ending in .eml. All files form one batch.

Examples:
  courierctl submit batch.json
  courierctl submit mail/*.eml --wait
  courierctl submit --inbox           # every unread inbox email on the server`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				res *submitResponse
				err error
			)
			switch {
			case inbox && len(args) > 0:
				return errors.New("--inbox takes no files")
			case inbox:
				res, err = a.client.TriageInbox(cmd.Context())
			case len(args) == 0:
				return errors.New("no files given (or use --inbox)")
			default:
				var records []email.Record
				records, err = loadBatch(args)
				if err != nil {
					return err
				}
				res, err = a.client.Submit(cmd.Context(), records)
			}
			if err != nil {
				return err
			}

			if !wait {
				if a.jsonOutput {
					return a.printJSON(res)
				}
				if a.quiet {
					fmt.Fprintln(a.out, res.JobID)
					return nil
				}
				successMsg(a.out, "job %s accepted (%d emails)", res.JobID, res.EmailCount)
				return nil
			}
			return a.follow(cmd, res.JobID, interval)
		},
	}
	cmd.Flags().BoolVar(&inbox, "inbox", false, "triage every unread inbox email held by the server")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "poll interval for --wait")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show a job's classification, results and report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if wait {
				return a.follow(cmd, args[0], interval)
			}
			snap, err := a.client.Status(cmd.Context(), args[0])
			if errors.Is(err, errNotFound) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return a.printSnapshot(snap)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "poll interval for --wait")
	return cmd
}

func (a *app) jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"ls"},
		Short:   "List jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snaps, err := a.client.List(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(snaps)
			}
			renderJobs(a.out, snaps)
			return nil
		},
	}
}

func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.client.Cancel(cmd.Context(), args[0])
			if errors.Is(err, errNotFound) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}
			if !a.quiet {
				successMsg(a.out, "cancellation requested for %s", args[0])
			}
			return nil
		},
	}
}

// follow polls a job to completion, printing progress unless quiet or JSON.
func (a *app) follow(cmd *cobra.Command, jobID string, interval time.Duration) error {
	var last string
	snap, err := a.client.Wait(cmd.Context(), jobID, interval, func(s *triage.Snapshot) {
		if a.quiet || a.jsonOutput {
			return
		}
		if line := progressLine(s); line != last {
			fmt.Fprintln(a.out, line)
			last = line
		}
	})
	if errors.Is(err, errNotFound) {
		return fmt.Errorf("job %s not found", jobID)
	}
	if err != nil {
		return err
	}
	if err := a.printSnapshot(snap); err != nil {
		return err
	}
	if snap.Status == triage.StatusError {
		return fmt.Errorf("job %s failed: %s", jobID, snap.Error)
	}
	return nil
}

func (a *app) printSnapshot(s *triage.Snapshot) error {
	if a.jsonOutput {
		return a.printJSON(s)
	}
	if a.quiet {
		fmt.Fprintln(a.out, s.Status)
		return nil
	}
	renderSnapshot(a.out, s)
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadBatch reads every file into one batch of records.
func loadBatch(paths []string) ([]email.Record, error) {
	var out []email.Record
	for _, p := range paths {
		recs, err := loadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func loadFile(path string) ([]email.Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".eml") {
		rec, err := email.ParseEML(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		if rec.ID == "" {
			rec.ID = email.NewID()
		}
		if rec.Timestamp == "" {
			rec.Timestamp = email.Now()
		}
		return []email.Record{rec}, nil
	}

	var inputs []email.Input
	if trimmed := bytes.TrimSpace(b); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(b, &inputs)
	} else {
		var doc struct {
			Emails []email.Input `json:"emails"`
		}
		err = json.Unmarshal(b, &doc)
		inputs = doc.Emails
	}
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	out := make([]email.Record, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, in.Record())
	}
	return out, nil
}
