package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/linnemanlabs/courier/internal/triage"
)

var (
	muted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	bold     = lipgloss.NewStyle().Bold(true)
	success  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
	warn     = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
)

func successMsg(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, success.Render("✓")+" "+fmt.Sprintf(format, args...))
}

func errorMsg(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, errStyle.Render("✗")+" "+fmt.Sprintf(format, args...))
}

// statusBadge returns a colored status label.
func statusBadge(s triage.Status) string {
	label := fmt.Sprintf("%-11s", s)
	switch s {
	case triage.StatusCompleted:
		return success.Render(label)
	case triage.StatusError:
		return errStyle.Render(label)
	case triage.StatusProcessing:
		return warn.Render(label)
	default:
		return dim.Render(label)
	}
}

// progressLine is the one-line form used while waiting on a job.
func progressLine(s *triage.Snapshot) string {
	return fmt.Sprintf("%s %s  %s %d/%d classified",
		statusBadge(s.Status), muted.Render(string(s.Stage)),
		dim.Render("·"), s.ProcessedEmails, s.TotalEmails)
}

func renderJobs(w io.Writer, snaps []triage.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, muted.Render("no jobs"))
		return
	}
	fmt.Fprintln(w, bold.Render(fmt.Sprintf("%-26s  %-11s  %-11s  %s", "JOB", "STATUS", "STAGE", "EMAILS")))
	for i := range snaps {
		s := &snaps[i]
		fmt.Fprintf(w, "%-26s  %s  %-11s  %d (%d review, %d automated)\n",
			s.JobID, statusBadge(s.Status), s.Stage, s.TotalEmails, s.HumanReviewCount, s.AutomationCount)
	}
}

func renderSnapshot(w io.Writer, s *triage.Snapshot) {
	fmt.Fprintf(w, "%s %s\n", bold.Render("Job"), s.JobID)
	fmt.Fprintf(w, "  %s %s   %s %s\n", muted.Render("status"), statusBadge(s.Status), muted.Render("stage"), s.Stage)
	fmt.Fprintf(w, "  %s %d/%d processed, %d for review, %d automated\n",
		muted.Render("emails"), s.ProcessedEmails, s.TotalEmails, s.HumanReviewCount, s.AutomationCount)
	if s.TokensUsed > 0 || s.ToolCalls > 0 {
		fmt.Fprintf(w, "  %s %d tokens, %d tool calls\n", muted.Render("usage"), s.TokensUsed, s.ToolCalls)
	}
	if s.Error != "" {
		fmt.Fprintf(w, "  %s %s\n", errStyle.Render("error"), s.Error)
	}
	for _, msg := range s.Warnings {
		fmt.Fprintf(w, "  %s %s\n", warn.Render("warning"), msg)
	}

	if len(s.ReviewResults) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, bold.Render("Needs review"))
		for _, id := range sortedKeys(s.ReviewResults) {
			fmt.Fprintf(w, "  %s %s  %s\n", warn.Render("●"), id, dim.Render(truncate(s.ReviewResults[id], 80)))
		}
	}
	if len(s.AutomationResults) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, bold.Render("Automated"))
		for _, id := range sortedKeys(s.AutomationResults) {
			r := s.AutomationResults[id]
			fmt.Fprintf(w, "  %s %s  %s %s\n", success.Render("●"), id, r.Action, dim.Render(truncate(r.Result, 60)))
		}
	}
	if s.ReviewReport != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, bold.Render("Report"))
		for _, line := range strings.Split(strings.TrimSpace(s.ReviewReport), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
