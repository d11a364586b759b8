// Package notify delivers user-facing notices about delegations: toasts for
// the human watching and text injected into an agent session.
//
// Notification failures never affect the delegation they describe.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// Variant is the severity of a toast.
type Variant string

const (
	VariantInfo    Variant = "info"
	VariantSuccess Variant = "success"
	VariantWarning Variant = "warning"
	VariantError   Variant = "error"
)

// Toast is a short notice for the human operator.
type Toast struct {
	Title   string
	Message string
	Variant Variant
}

// Sink receives notifications.
type Sink interface {
	Toast(ctx context.Context, t Toast) error
	// Inject appends text to the conversation of sessionID.
	Inject(ctx context.Context, sessionID, text string) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Toast(context.Context, Toast) error           { return nil }
func (Nop) Inject(context.Context, string, string) error { return nil }

// LogSink writes notifications to a logger.
type LogSink struct {
	Log zerolog.Logger
}

// Toast implements Sink.
func (s LogSink) Toast(_ context.Context, t Toast) error {
	ev := s.Log.Info()
	switch t.Variant {
	case VariantWarning:
		ev = s.Log.Warn()
	case VariantError:
		ev = s.Log.Error()
	}
	ev.Str("title", t.Title).Str("variant", string(t.Variant)).Msg(t.Message)
	return nil
}

// Inject implements Sink.
func (s LogSink) Inject(_ context.Context, sessionID, text string) error {
	s.Log.Info().Str("session", sessionID).Msg(text)
	return nil
}

// TerminalSink prints colored notices.
type TerminalSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminalSink prints to out.
func NewTerminalSink(out io.Writer) *TerminalSink {
	return &TerminalSink{out: out}
}

var variantColors = map[Variant]*color.Color{
	VariantInfo:    color.New(color.FgCyan),
	VariantSuccess: color.New(color.FgGreen),
	VariantWarning: color.New(color.FgYellow),
	VariantError:   color.New(color.FgRed, color.Bold),
}

// Toast implements Sink.
func (s *TerminalSink) Toast(_ context.Context, t Toast) error {
	c, ok := variantColors[t.Variant]
	if !ok {
		c = variantColors[VariantInfo]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "%s %s\n", c.Sprintf("[%s]", t.Title), t.Message)
	return err
}

// Inject implements Sink.
func (s *TerminalSink) Inject(_ context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "%s %s\n", color.New(color.Faint).Sprintf("→ %s", sessionID), text)
	return err
}

// Multi fans out to every sink and joins their errors.
type Multi []Sink

// Toast implements Sink.
func (m Multi) Toast(ctx context.Context, t Toast) error {
	var errs []error
	for _, s := range m {
		if err := s.Toast(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Inject implements Sink.
func (m Multi) Inject(ctx context.Context, sessionID, text string) error {
	var errs []error
	for _, s := range m {
		if err := s.Inject(ctx, sessionID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async delivers notifications on background goroutines. Failures and
// timeouts are logged and otherwise ignored.
type Async struct {
	sink    Sink
	log     zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps sink. Each delivery gets timeout to complete.
func NewAsync(sink Sink, log zerolog.Logger, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Async{sink: sink, log: log, timeout: timeout}
}

// Toast sends t without blocking.
func (a *Async) Toast(t Toast) {
	a.dispatch("toast", func(ctx context.Context) error { return a.sink.Toast(ctx, t) })
}

// Inject sends text without blocking.
func (a *Async) Inject(sessionID, text string) {
	a.dispatch("inject", func(ctx context.Context) error { return a.sink.Inject(ctx, sessionID, text) })
}

func (a *Async) dispatch(kind string, fn func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.log.Warn().Err(err).Str("kind", kind).Msg("notification failed")
		}
	}()
}

// Wait blocks until every pending delivery has finished.
func (a *Async) Wait() { a.wg.Wait() }
