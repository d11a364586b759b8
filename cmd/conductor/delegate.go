package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/clarify"
	"github.com/ShayCichocki/conductor/internal/hierarchy"
	"github.com/ShayCichocki/conductor/internal/orchestrator"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	delegateCaller      string
	delegateAgent       string
	delegateCategory    string
	delegateDescription string
	delegateFiles       []string
	delegateBackground  bool
	delegateParent      string
	delegateAnswers     []string
	delegateQuiet       bool
	delegateMetrics     bool
)

var delegateCmd = &cobra.Command{
	Use:   "delegate [prompt...]",
	Short: "Delegate a task to a subagent",
	Long: `Delegate a task to a subagent through every gate.

The prompt is taken from the arguments, or from stdin when none are given.
Files to lock are extracted from the prompt unless --file is passed.

When the subagent asks a clarification question, the answer is taken from
the next --answer value, or read from the terminal, and the same subagent
session is resumed in this process.

Examples:
  conductor delegate --caller Paul --agent "Sam (Implementer)" "edit src/auth.go to add rate limiting"
  conductor delegate --caller Paul --agent "Joshua (Test Runner)" --category implementation "run the test suite"
  conductor delegate --agent "Sam (Implementer)" --answer "Option A" "add caching to src/cache.go"`,
	RunE: runDelegate,
}

func init() {
	f := delegateCmd.Flags()
	f.StringVar(&delegateCaller, "caller", hierarchy.AgentPaul, "Identity of the delegating agent")
	f.StringVar(&delegateAgent, "agent", "", "Target subagent")
	f.StringVar(&delegateCategory, "category", string(models.CategoryGeneral), "Task category")
	f.StringVarP(&delegateDescription, "description", "d", "", "Short description for notifications")
	f.StringSliceVarP(&delegateFiles, "file", "f", nil, "File the task writes (repeatable; overrides extraction)")
	f.BoolVarP(&delegateBackground, "background", "b", false, "Do not wait for the result in the foreground")
	f.StringVar(&delegateParent, "parent", "", "Parent session ID (default: a fresh session)")
	f.StringArrayVar(&delegateAnswers, "answer", nil, "Answer to a clarification question (repeatable, used in order)")
	f.BoolVarP(&delegateQuiet, "quiet", "q", false, "Do not print lifecycle events")
	f.BoolVar(&delegateMetrics, "metrics", false, "Print delegation metrics on exit")
	delegateCmd.MarkFlagRequired("agent")
}

func runDelegate(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	if prompt == "" {
		return errors.New("a prompt is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := buildStack(ctx, env.cfg, env.root)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if !delegateQuiet {
		wg.Add(1)
		go func() {
			defer wg.Done()
			printEvents(cmd.ErrOrStderr(), s.orch.Events())
		}()
	}

	parent := delegateParent
	if parent == "" {
		if parent, err = s.runtime.Create(ctx, "", "conductor cli"); err != nil {
			s.Close()
			wg.Wait()
			return fmt.Errorf("create parent session: %w", err)
		}
	}

	ask := newAsker(delegateAnswers, cmd.InOrStdin(), cmd.ErrOrStderr(), len(args) > 0)
	resp, delegateErr := converse(ctx, s.orch, orchestrator.Request{
		ParentSessionID: parent,
		Caller:          delegateCaller,
		Agent:           delegateAgent,
		Description:     delegateDescription,
		Prompt:          prompt,
		Category:        models.ParseCategory(delegateCategory),
		Files:           delegateFiles,
		Background:      delegateBackground,
	}, ask)
	if delegateErr == nil && delegateBackground {
		fmt.Fprintf(cmd.OutOrStdout(), "launched %s (session %s); waiting for it to finish\n", resp.TaskID, resp.SessionID)
	}

	// Close waits for background work, then closes the event stream.
	s.Close()
	wg.Wait()

	if delegateMetrics {
		printMetrics(cmd.ErrOrStderr(), s.registry)
	}
	if delegateErr != nil {
		return delegateErr
	}
	if !delegateBackground {
		printResponse(cmd.OutOrStdout(), resp)
	}
	return nil
}

type delegator interface {
	Delegate(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
}

// errNoAnswer stops a conversation that has no answer to give.
var errNoAnswer = errors.New("no answer available")

// converse delegates req and answers clarification questions until the
// subagent finishes or ask has nothing more to say. Each answer resumes the
// same child session.
func converse(ctx context.Context, d delegator, req orchestrator.Request, ask func(question string) (string, error)) (orchestrator.Response, error) {
	resp, err := d.Delegate(ctx, req)
	for err == nil && resp.Clarification == clarify.StateAwaitingAnswer {
		answer, askErr := ask(resp.Output)
		if errors.Is(askErr, errNoAnswer) {
			return resp, nil
		}
		if askErr != nil {
			return resp, askErr
		}
		resp, err = d.Delegate(ctx, orchestrator.Request{
			ParentSessionID: req.ParentSessionID,
			Caller:          req.Caller,
			Agent:           req.Agent,
			Category:        req.Category,
			Files:           resp.Files,
			ResumeSessionID: resp.SessionID,
			Answer:          answer,
		})
	}
	return resp, err
}

// newAsker returns answers from preset first, then from in when it is a
// terminal that did not supply the prompt.
func newAsker(preset []string, in io.Reader, out io.Writer, promptFromArgs bool) func(string) (string, error) {
	var answers []string
	for _, a := range preset {
		if a = strings.TrimSpace(a); a != "" {
			answers = append(answers, a)
		}
	}
	var lines *bufio.Reader
	if f, ok := in.(*os.File); ok && promptFromArgs && isatty.IsTerminal(f.Fd()) {
		lines = bufio.NewReader(f)
	}
	return func(question string) (string, error) {
		if len(answers) > 0 {
			a := answers[0]
			answers = answers[1:]
			return a, nil
		}
		if lines == nil {
			return "", errNoAnswer
		}
		fmt.Fprintln(out, question)
		color.New(color.FgMagenta).Fprint(out, "answer> ")
		line, err := lines.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			if err != nil && !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("read answer: %w", err)
			}
			return "", errNoAnswer
		}
		return line, nil
	}
}

func readPrompt(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}
	if f, ok := in.(*os.File); ok {
		if st, err := f.Stat(); err == nil && st.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

var eventColors = map[orchestrator.EventType]*color.Color{
	orchestrator.EventTaskQueued:             color.New(color.Faint),
	orchestrator.EventTaskStarted:            color.New(color.FgCyan),
	orchestrator.EventTaskCompleted:          color.New(color.FgGreen),
	orchestrator.EventTaskFailed:             color.New(color.FgRed),
	orchestrator.EventTaskCancelled:          color.New(color.FgYellow),
	orchestrator.EventTaskRejected:           color.New(color.FgRed, color.Bold),
	orchestrator.EventClarificationRequested: color.New(color.FgMagenta),
	orchestrator.EventApprovalRecorded:       color.New(color.FgGreen, color.Bold),
}

func printEvents(w io.Writer, events <-chan orchestrator.Event) {
	for ev := range events {
		fmt.Fprintln(w, formatEvent(ev))
	}
}

func formatEvent(ev orchestrator.Event) string {
	c, ok := eventColors[ev.Type]
	if !ok {
		c = color.New(color.Reset)
	}
	var b strings.Builder
	b.WriteString(c.Sprintf("%-24s", ev.Type))
	if ev.TaskID != "" {
		fmt.Fprintf(&b, " %s", ev.TaskID)
	}
	if ev.Agent != "" {
		fmt.Fprintf(&b, " → %s", ev.Agent)
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, ": %s", ev.Message)
	}
	if ev.Error != nil {
		fmt.Fprintf(&b, ": %v", ev.Error)
	}
	return b.String()
}

func printResponse(w io.Writer, resp orchestrator.Response) {
	fmt.Fprintln(w, resp.Output)
	if resp.Clarification == clarify.StateAwaitingAnswer {
		color.New(color.FgMagenta).Fprintln(w, "\nclarification left unanswered; rerun with --answer <option> to answer it")
	}
	if resp.Approval != nil {
		fmt.Fprintf(w, "\nverdict recorded: %s %s\n", resp.Approval.Approver, resp.Approval.Status)
	}
}

func printMetrics(w io.Writer, g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		fmt.Fprintf(w, "gather metrics: %v\n", err)
		return
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetGauge().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%gs", name, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}
