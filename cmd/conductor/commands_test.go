package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/clarify"
	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/metrics"
	"github.com/ShayCichocki/conductor/internal/orchestrator"
)

func init() {
	color.NoColor = true
}

// useEnv points the shared command state at a fresh workspace.
func useEnv(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	old := env
	env = runtimeEnv{cfg: config.Default(), root: root, log: zerolog.Nop()}
	t.Cleanup(func() { env = old })
	return root
}

func run(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	c.SetOut(&buf)
	c.SetErr(&buf)
	err := c.RunE(c, args)
	return buf.String(), err
}

func TestAuthzCheck(t *testing.T) {
	tests := []struct {
		name    string
		caller  string
		target  string
		want    string
		wantErr bool
	}{
		{"exact match", "Paul", "Sam (Implementer)", "allowed:", false},
		{"base name match", "Paul", "Joshua", "allowed:", false},
		{"unknown caller unrestricted", "someone-else", "ultrabrain", "unrestricted", false},
		{"planner cannot reach ultrabrain", "planner-paul", "ultrabrain", "denied:", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, authzCheckCmd, tt.caller, tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected output to contain %q, got %q", tt.want, out)
			}
		})
	}
}

func TestAuthzList(t *testing.T) {
	out, err := run(t, authzListCmd, "worker-paul")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Joshua (Test Runner)") {
		t.Errorf("expected worker-paul targets, got %q", out)
	}
	if strings.Contains(out, "Sam (Implementer)") {
		t.Errorf("worker-paul must not list the implementer, got %q", out)
	}
}

func TestApprovalsRecordAndCheck(t *testing.T) {
	useEnv(t)

	if _, err := run(t, approvalsCheckCmd); err == nil {
		t.Fatal("expected implementation completion to be blocked without an approval")
	}

	out, err := run(t, approvalsRecordCmd, "task_1", "Joshua (Test Runner)", "pass")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !strings.Contains(out, "approved") {
		t.Errorf("expected approved verdict, got %q", out)
	}

	out, err = run(t, approvalsCheckCmd)
	if err != nil {
		t.Fatalf("check after approval: %v (%s)", err, out)
	}

	out, err = run(t, approvalsListCmd)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "task_1") {
		t.Errorf("expected task_1 in list, got %q", out)
	}
}

func TestApprovalsRecordInvalidStatus(t *testing.T) {
	useEnv(t)
	if _, err := run(t, approvalsRecordCmd, "task_1", "Joshua", "maybe"); err == nil {
		t.Error("expected an error for an unknown status")
	}
}

func TestTasksEmpty(t *testing.T) {
	useEnv(t)
	out, err := run(t, tasksCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No delegations recorded.") {
		t.Errorf("unexpected output %q", out)
	}
	if _, err := run(t, tasksCmd, "task_missing"); err == nil {
		t.Error("expected an error for an unknown task")
	}
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt(strings.NewReader("ignored"), []string{"edit", "src/a.go "})
	if err != nil || got != "edit src/a.go" {
		t.Errorf("args: got %q, %v", got, err)
	}
	got, err = readPrompt(strings.NewReader("  fix docs/plans/x.md\n"), nil)
	if err != nil || got != "fix docs/plans/x.md" {
		t.Errorf("stdin: got %q, %v", got, err)
	}
}

func TestFormatEvent(t *testing.T) {
	ev := orchestrator.Event{
		Type:   orchestrator.EventTaskRejected,
		TaskID: "task_1",
		Agent:  "ultrabrain",
		Error:  errors.New("[hierarchy-enforcer] HIERARCHY VIOLATION: nope"),
	}
	got := formatEvent(ev)
	for _, want := range []string{"task_rejected", "task_1", "ultrabrain", "HIERARCHY VIOLATION"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
}

func TestPrintMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)
	m.Delegation("admitted")
	m.Delegation("admitted")

	var buf bytes.Buffer
	printMetrics(&buf, reg)
	if !strings.Contains(buf.String(), "conductor_delegations_total{outcome=admitted} 2") {
		t.Errorf("unexpected metrics output:\n%s", buf.String())
	}
}

// scriptedDelegator asks one clarification question, then finishes.
type scriptedDelegator struct {
	reqs []orchestrator.Request
}

func (d *scriptedDelegator) Delegate(_ context.Context, req orchestrator.Request) (orchestrator.Response, error) {
	d.reqs = append(d.reqs, req)
	if req.ResumeSessionID == "" {
		return orchestrator.Response{
			SessionID:     "ses_child",
			Files:         []string{"src/cache.go"},
			Output:        "Which cache? redis or memory",
			Clarification: clarify.StateAwaitingAnswer,
		}, nil
	}
	return orchestrator.Response{
		SessionID:     req.ResumeSessionID,
		Output:        "used " + req.Answer,
		Clarification: clarify.StateAnswered,
	}, nil
}

func TestConverseAnswersInProcess(t *testing.T) {
	d := &scriptedDelegator{}
	ask := newAsker([]string{"", "memory"}, strings.NewReader(""), io.Discard, true)

	resp, err := converse(context.Background(), d, orchestrator.Request{
		ParentSessionID: "ses_parent",
		Caller:          "Paul",
		Agent:           "Sam (Implementer)",
		Prompt:          "add caching to src/cache.go",
	}, ask)
	if err != nil {
		t.Fatalf("converse: %v", err)
	}
	if resp.Output != "used memory" || resp.Clarification != clarify.StateAnswered {
		t.Errorf("resp = %+v", resp)
	}
	if len(d.reqs) != 2 {
		t.Fatalf("delegations = %d, want 2", len(d.reqs))
	}
	resume := d.reqs[1]
	if resume.ResumeSessionID != "ses_child" || resume.Answer != "memory" || resume.ParentSessionID != "ses_parent" {
		t.Errorf("resume request = %+v", resume)
	}
	if len(resume.Files) != 1 || resume.Files[0] != "src/cache.go" {
		t.Errorf("resume files = %v", resume.Files)
	}
}

func TestConverseWithoutAnswerLeavesQuestion(t *testing.T) {
	d := &scriptedDelegator{}
	ask := newAsker(nil, strings.NewReader("memory\n"), io.Discard, true)

	resp, err := converse(context.Background(), d, orchestrator.Request{
		ParentSessionID: "ses_parent",
		Agent:           "Sam (Implementer)",
		Prompt:          "add caching",
	}, ask)
	if err != nil {
		t.Fatalf("converse: %v", err)
	}
	if resp.Clarification != clarify.StateAwaitingAnswer || len(d.reqs) != 1 {
		t.Errorf("resp = %+v after %d delegations", resp, len(d.reqs))
	}

	var buf bytes.Buffer
	printResponse(&buf, resp)
	if !strings.Contains(buf.String(), "--answer") || strings.Contains(buf.String(), "--resume") {
		t.Errorf("unexpected hint:\n%s", buf.String())
	}
}
