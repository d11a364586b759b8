package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/conductor/internal/approval"
	"github.com/ShayCichocki/conductor/internal/clarify"
	"github.com/ShayCichocki/conductor/internal/convergence"
	"github.com/ShayCichocki/conductor/internal/notify"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Start launches the lock and clarification sweepers, recovers orphaned
// task records and, when configured, watches the approval ledger. Watched
// background tasks run under ctx. Start does not block.
func (o *Orchestrator) Start(ctx context.Context) {
	o.baseMu.Lock()
	o.baseCtx = ctx
	o.baseMu.Unlock()

	o.registry.StartSweeper(ctx, o.opts.sweepInterval, o.opts.lockMaxAge)
	o.protocol.Store().StartSweeper(ctx, o.opts.sweepInterval, o.opts.clarifyMaxAge)

	if r, ok := o.store.(interface{ RecoverOrphans() (int64, error) }); ok {
		n, err := r.RecoverOrphans()
		if err != nil {
			o.log.Warn().Err(err).Msg("recover orphaned tasks")
		} else if n > 0 {
			o.log.Info().Int64("count", n).Msg("marked orphaned tasks as failed")
		}
	}

	if o.opts.ledgerPath != "" {
		go func() {
			err := o.gate.Ledger().Watch(ctx, o.opts.ledgerPath, func() {
				o.log.Debug().Str("path", o.opts.ledgerPath).Msg("approval ledger reloaded")
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				o.log.Warn().Err(err).Msg("approval ledger watch stopped")
			}
		}()
	}
}

// Close waits for watched background tasks and pending notifications, then
// closes the event channel. Cancel the Start context first.
func (o *Orchestrator) Close() {
	o.bg.Wait()
	o.notify.Wait()
	o.events.Close()
}

// CompleteBackground reports that a background task finished. It applies
// the same post-processing as a synchronous delegation and notifies the
// parent session. A non-nil runErr marks the task failed.
func (o *Orchestrator) CompleteBackground(taskID, output string, runErr error) (Response, error) {
	resp, err := o.finish(taskID, output, runErr)
	if errors.Is(err, ErrUnknownTask) {
		return resp, err
	}

	title := "Background task completed"
	variant := notify.VariantSuccess
	body := resp.Output
	if err != nil {
		title = "Background task failed"
		variant = notify.VariantError
		body = err.Error()
	}
	o.notify.Toast(notify.Toast{Title: title, Message: fmt.Sprintf("%s (%s)", taskID, resp.SessionID), Variant: variant})
	o.notify.Inject(resp.ParentSessionID, fmt.Sprintf("[background task %s %s]\n\n%s", taskID, resp.Status, body))
	return resp, err
}

// Cancel stops tracking taskID, releases its locks and aborts its child
// session.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	if !o.cancel(ctx, taskID, "cancelled") {
		return fmt.Errorf("%s: %w", taskID, ErrUnknownTask)
	}
	return nil
}

func (o *Orchestrator) cancel(ctx context.Context, taskID, reason string) bool {
	e, ok := o.tracker.remove(taskID)
	if !ok {
		return false
	}
	task := e.task
	o.registry.Release(task.ParentSessionID, task.ID)
	o.metrics.SetActive(o.tracker.Len())
	if e.cancel != nil {
		e.cancel()
	}
	if task.ChildSessionID != "" {
		if err := o.client.Abort(ctx, task.ChildSessionID); err != nil {
			o.log.Warn().Err(err).Str("session", task.ChildSessionID).Msg("abort child session")
		}
	}

	now := o.now()
	task.Status = models.TaskStatusError
	task.Error = reason
	task.CompletedAt = &now
	o.persist(task)

	ev := taskEvent(EventTaskCancelled, task, now)
	ev.Message = reason
	o.emit(ev)
	o.log.Info().Str("task", taskID).Str("reason", reason).Msg("delegation cancelled")
	return true
}

// BeforeComplete is the "mark complete" hook. It returns a HookError when
// the category requires a verifier approval that is missing, expired or
// stale.
func (o *Orchestrator) BeforeComplete(_ context.Context, req approval.CompletionRequest) error {
	if err := o.gate.Ledger().Reload(); err != nil {
		o.log.Warn().Err(err).Msg("reload approval ledger")
	}

	err := o.gate.CheckCompletion(req)
	switch {
	case err == nil:
		o.metrics.CompletionGate("passed")
		return nil
	case errors.Is(err, approval.ErrStale):
		o.metrics.CompletionGate("stale")
		return hookError(HookApproval, CategoryPlanStale, err)
	case errors.Is(err, approval.ErrMissing):
		o.metrics.CompletionGate("missing")
		return hookError(HookApproval, CategoryApprovalRequired, err)
	default:
		return err
	}
}

// Tasks lists the tracked tasks of a parent session, or all of them when
// parentSessionID is empty.
func (o *Orchestrator) Tasks(parentSessionID string) []*models.DelegatedTask {
	return o.tracker.List(parentSessionID)
}

// finish post-processes a task's result: it stops tracking the task,
// releases its locks, records verifier verdicts and routes clarification
// requests. Lock release happens on every path.
func (o *Orchestrator) finish(taskID, output string, runErr error) (Response, error) {
	e, ok := o.tracker.remove(taskID)
	if !ok {
		return Response{}, fmt.Errorf("%s: %w", taskID, ErrUnknownTask)
	}
	task := e.task
	defer func() {
		o.registry.Release(task.ParentSessionID, task.ID)
		o.metrics.SetActive(o.tracker.Len())
	}()

	now := o.now()
	task.CompletedAt = &now
	resp := Response{TaskID: task.ID, ParentSessionID: task.ParentSessionID, SessionID: task.ChildSessionID, Files: task.Files}

	if runErr != nil {
		task.Status = models.TaskStatusError
		task.Error = runErr.Error()
		resp.Status = task.Status
		o.persist(task)

		ev := taskEvent(EventTaskFailed, task, now)
		ev.Error = runErr
		o.emit(ev)
		o.log.Warn().Err(runErr).Str("task", task.ID).Str("session", task.ChildSessionID).Msg("delegation failed")

		if errors.Is(runErr, convergence.ErrNoOutput) || errors.Is(runErr, convergence.ErrTimeout) {
			return resp, hookError(HookConvergence, CategoryConvergenceTimeout,
				fmt.Errorf("%w. Inspect the session manually or re-delegate with a narrower prompt", runErr))
		}
		return resp, fmt.Errorf("task %s: %w", task.ID, runErr)
	}

	resp.Approval = o.recordVerdict(task, output)

	outcome := o.protocol.Process(clarify.Input{
		SessionID:    task.ParentSessionID,
		DelegationID: task.ChildSessionID,
		Agent:        task.TargetAgent,
		Output:       output,
		Background:   task.IsBackground,
	})
	resp.Clarification = outcome.State
	resp.Output = outcome.Output
	if outcome.State != clarify.StateNone {
		o.metrics.Clarification(string(outcome.State))
	}
	if outcome.State == clarify.StateAwaitingAnswer {
		ev := taskEvent(EventClarificationRequested, task, now)
		if outcome.Request != nil {
			ev.Message = outcome.Request.Question
		}
		o.emit(ev)
	}

	task.Status = models.TaskStatusCompleted
	task.Output = resp.Output
	resp.Status = task.Status
	o.persist(task)

	ev := taskEvent(EventTaskCompleted, task, now)
	ev.Message = string(outcome.State)
	o.emit(ev)
	o.log.Info().Str("task", task.ID).Str("session", task.ChildSessionID).
		Str("clarification", string(outcome.State)).Dur("elapsed", now.Sub(task.StartedAt)).
		Msg("delegation completed")
	return resp, nil
}

// recordVerdict writes a ledger entry when the target is a verifier and its
// output carries a verdict.
func (o *Orchestrator) recordVerdict(task *models.DelegatedTask, output string) *approval.Record {
	verifier, ok := o.gate.Verifier(task.TargetAgent)
	if !ok {
		return nil
	}
	status, found := approval.DetectVerdict(output)
	if !found {
		o.log.Debug().Str("task", task.ID).Str("verifier", verifier).Msg("verifier output carried no verdict")
		return nil
	}

	rec := o.gate.Ledger().Record(task.ID, verifier, status)
	o.metrics.Approval(string(status))

	ev := taskEvent(EventApprovalRecorded, task, o.now())
	ev.Message = fmt.Sprintf("%s %s", verifier, status)
	o.emit(ev)
	return &rec
}
