package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/conductor/internal/admission"
	"github.com/ShayCichocki/conductor/internal/approval"
	"github.com/ShayCichocki/conductor/internal/clarify"
	"github.com/ShayCichocki/conductor/internal/convergence"
	"github.com/ShayCichocki/conductor/internal/filelock"
	"github.com/ShayCichocki/conductor/internal/hierarchy"
	"github.com/ShayCichocki/conductor/internal/metrics"
	"github.com/ShayCichocki/conductor/internal/notify"
	"github.com/ShayCichocki/conductor/internal/session"
	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Request is one delegation from an orchestrating session.
type Request struct {
	ParentSessionID string
	// CallID identifies the delegating tool invocation. At most one active
	// task may exist per call ID.
	CallID string
	// Caller is the delegating agent's identity.
	Caller string
	// Agent is the target identity.
	Agent       string
	Description string
	Prompt      string
	Category    models.Category
	// Files overrides prompt extraction when non-nil.
	Files      []string
	Background bool
	// ResumeSessionID continues an existing child session, typically one
	// that asked for clarification. Answer is recorded as the reply.
	ResumeSessionID string
	Answer          string
}

// Response is what the delegating agent receives.
type Response struct {
	TaskID          string
	ParentSessionID string
	SessionID       string
	Status          models.TaskStatus
	Output          string
	Files           []string
	// Clarification is the protocol state after post-processing.
	Clarification clarify.State
	// Approval is set when the output carried a verifier verdict.
	Approval *approval.Record
}

// Orchestrator gates, launches and post-processes delegations.
type Orchestrator struct {
	client     session.Client
	graph      *hierarchy.Graph
	registry   *filelock.Registry
	extractor  *filelock.Extractor
	tracker    *Tracker
	admission  *admission.Controller
	detector   *convergence.Detector
	bgDetector *convergence.Detector
	gate       *approval.Gate
	protocol   *clarify.Protocol
	store      state.TaskStore
	notify     *notify.Async
	metrics    *metrics.Metrics
	events     *EventEmitter
	log        zerolog.Logger
	now        func() time.Time
	opts       *options

	// gateMu serializes authorization, lock registration, admission and
	// tracking so two requests cannot both pass before either registers.
	gateMu sync.Mutex

	baseMu  sync.RWMutex
	baseCtx context.Context
	bg      sync.WaitGroup
}

// New creates an Orchestrator driving child sessions through client.
func New(client session.Client, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if o.graph == nil {
		o.graph = hierarchy.Default()
	}
	if o.registry == nil {
		o.registry = filelock.NewRegistry(filelock.WithLogger(o.log))
	}
	if o.extractor == nil {
		o.extractor = filelock.NewExtractor(filelock.WithExtractorLogger(o.log))
	}
	if o.gate == nil {
		ledger := approval.NewLedger(&approval.MemoryStore{}, approval.WithLedgerLogger(o.log))
		o.gate = approval.NewGate(ledger, approval.WithGateLogger(o.log))
	}
	if o.protocol == nil {
		o.protocol = clarify.NewProtocol(clarify.NewStore(clarify.WithStoreLogger(o.log)), clarify.WithLogger(o.log))
	}
	if o.sink == nil {
		o.sink = notify.Nop{}
	}
	if o.events == nil {
		o.events = NewEventEmitter(DefaultEventBuffer, o.log)
	}

	tracker := NewTracker()
	convOpts := append([]convergence.Option{convergence.WithLogger(o.log)}, o.convergenceOpts...)
	detector := convergence.NewDetector(client, convOpts...)
	bgCfg := detector.Config()
	bgCfg.MaxWait = o.backgroundMaxWait
	bgDetector := convergence.NewDetector(client, append(convOpts, convergence.WithConfig(bgCfg))...)

	admOpts := append([]admission.Option{admission.WithLogger(o.log)}, o.admissionOpts...)

	return &Orchestrator{
		client:     client,
		graph:      o.graph,
		registry:   o.registry,
		extractor:  o.extractor,
		tracker:    tracker,
		admission:  admission.NewController(tracker, admOpts...),
		detector:   detector,
		bgDetector: bgDetector,
		gate:       o.gate,
		protocol:   o.protocol,
		store:      o.store,
		notify:     notify.NewAsync(o.sink, o.log, DefaultNotifyTimeout),
		metrics:    o.metrics,
		events:     o.events,
		log:        o.log,
		now:        o.now,
		opts:       o,
		baseCtx:    context.Background(),
	}
}

// Tracker returns the active task tracker.
func (o *Orchestrator) Tracker() *Tracker { return o.tracker }

// Registry returns the file lock registry.
func (o *Orchestrator) Registry() *filelock.Registry { return o.registry }

// Gate returns the approval gate.
func (o *Orchestrator) Gate() *approval.Gate { return o.gate }

// Protocol returns the clarification protocol.
func (o *Orchestrator) Protocol() *clarify.Protocol { return o.protocol }

// Events returns a read-only channel of events.
func (o *Orchestrator) Events() <-chan Event { return o.events.Events() }

// Delegate runs req through the gates and then either launches it in the
// background or waits for the child session to converge.
func (o *Orchestrator) Delegate(ctx context.Context, req Request) (Response, error) {
	if err := validate(req); err != nil {
		return Response{}, err
	}
	if req.Category == "" {
		req.Category = models.CategoryGeneral
	}

	files := o.files(req)
	task := &models.DelegatedTask{
		ID:              "task_" + uuid.NewString(),
		CallID:          req.CallID,
		ParentSessionID: req.ParentSessionID,
		ChildSessionID:  req.ResumeSessionID,
		Caller:          req.Caller,
		TargetAgent:     req.Agent,
		Category:        req.Category,
		Description:     describe(req),
		Prompt:          req.Prompt,
		IsBackground:    req.Background,
		Files:           files,
		Status:          models.TaskStatusQueued,
		StartedAt:       o.now(),
	}

	if err := o.admit(task); err != nil {
		return Response{}, err
	}
	o.emit(taskEvent(EventTaskQueued, task, o.now()))

	parts, err := o.prepare(ctx, req, task)
	if err != nil {
		o.abandon(task.ID, err)
		return Response{}, err
	}

	if err := o.client.Prompt(ctx, task.ChildSessionID, task.TargetAgent, parts); err != nil {
		err = fmt.Errorf("prompt session %s: %w", task.ChildSessionID, err)
		o.abandon(task.ID, err)
		return Response{}, err
	}

	task.Status = models.TaskStatusRunning
	o.tracker.update(task.ID, func(e *tracked) { e.task.Status = models.TaskStatusRunning })
	o.persist(task)
	o.emit(taskEvent(EventTaskStarted, task, o.now()))
	o.log.Info().Str("task", task.ID).Str("parent", task.ParentSessionID).Str("session", task.ChildSessionID).
		Str("agent", task.TargetAgent).Bool("background", task.IsBackground).Strs("files", task.Files).
		Msg("delegation started")

	if task.IsBackground {
		return o.launchBackground(task), nil
	}
	return o.waitSync(ctx, task)
}

// admit applies authorization, file locks and admission under gateMu and
// tracks the task on success. A rejection leaves no locks behind.
func (o *Orchestrator) admit(task *models.DelegatedTask) error {
	o.gateMu.Lock()
	defer o.gateMu.Unlock()

	if err := o.graph.Check(task.Caller, task.TargetAgent); err != nil {
		o.reject(task, "unauthorized", err)
		return hookError(HookHierarchy, CategoryHierarchyViolation, err)
	}

	if err := o.registry.Register(task.ParentSessionID, task.ID, task.Files); err != nil {
		o.reject(task, "conflict", err)
		return hookError(HookFileLock, CategoryFileConflict,
			fmt.Errorf("%w. Wait for that task to finish or delegate work on other files", err))
	}

	if err := o.admission.Check(task.ParentSessionID, task.Category); err != nil {
		o.registry.Release(task.ParentSessionID, task.ID)
		o.reject(task, "rejected", err)
		return hookError(HookConcurrency, CategoryParallelLimit, err)
	}

	if err := o.tracker.add(task); err != nil {
		o.registry.Release(task.ParentSessionID, task.ID)
		o.reject(task, "duplicate", err)
		return fmt.Errorf("call %s: %w", task.CallID, err)
	}

	o.metrics.Delegation("admitted")
	o.metrics.SetActive(o.tracker.Len())
	return nil
}

func (o *Orchestrator) reject(task *models.DelegatedTask, outcome string, err error) {
	o.metrics.Delegation(outcome)
	o.log.Info().Err(err).Str("caller", task.Caller).Str("agent", task.TargetAgent).
		Str("parent", task.ParentSessionID).Str("outcome", outcome).Msg("delegation rejected")
	ev := taskEvent(EventTaskRejected, task, o.now())
	ev.Error = err
	o.emit(ev)
}

// prepare creates or resumes the child session and builds the prompt parts.
func (o *Orchestrator) prepare(ctx context.Context, req Request, task *models.DelegatedTask) ([]session.Part, error) {
	if req.ResumeSessionID == "" {
		id, err := o.client.Create(ctx, task.ParentSessionID, task.Description)
		if err != nil {
			return nil, fmt.Errorf("create child session: %w", err)
		}
		task.ChildSessionID = id
		o.tracker.update(task.ID, func(e *tracked) { e.task.ChildSessionID = id })
		return []session.Part{session.TextPart(req.Prompt)}, nil
	}

	text := req.Prompt
	if req.Answer != "" {
		resume, err := o.protocol.Answer(task.ParentSessionID, req.ResumeSessionID, req.Answer, req.Caller)
		if err != nil {
			return nil, fmt.Errorf("resume %s: %w", req.ResumeSessionID, err)
		}
		if text != "" {
			text = resume + "\n\n" + text
		} else {
			text = resume
		}
	}
	return []session.Part{session.TextPart(text)}, nil
}

func (o *Orchestrator) waitSync(ctx context.Context, task *models.DelegatedTask) (Response, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.tracker.update(task.ID, func(e *tracked) { e.cancel = cancel })

	res, err := o.detector.Wait(waitCtx, task.ChildSessionID)
	o.observeWait(res, err)
	if res.Aborted {
		o.cancel(context.WithoutCancel(ctx), task.ID, "cancelled while waiting for output")
		return Response{TaskID: task.ID, ParentSessionID: task.ParentSessionID, SessionID: task.ChildSessionID,
				Status: models.TaskStatusError, Files: task.Files},
			fmt.Errorf("task %s: %w", task.ID, ErrCancelled)
	}
	return o.finish(task.ID, res.Output, err)
}

func (o *Orchestrator) launchBackground(task *models.DelegatedTask) Response {
	if o.opts.backgroundWatch {
		ctx, cancel := context.WithCancel(o.base())
		o.tracker.update(task.ID, func(e *tracked) { e.cancel = cancel })
		o.bg.Add(1)
		go func() {
			defer o.bg.Done()
			defer cancel()
			res, err := o.bgDetector.Wait(ctx, task.ChildSessionID)
			o.observeWait(res, err)
			if res.Aborted {
				return
			}
			if _, err := o.CompleteBackground(task.ID, res.Output, err); err != nil && !errors.Is(err, ErrUnknownTask) {
				o.log.Info().Err(err).Str("task", task.ID).Msg("background task finished with error")
			}
		}()
	}

	return Response{
		TaskID:          task.ID,
		ParentSessionID: task.ParentSessionID,
		SessionID:       task.ChildSessionID,
		Status:          models.TaskStatusRunning,
		Files:           task.Files,
		Output: fmt.Sprintf("Background task %s launched: %s is working in session %s. "+
			"You will be notified when it completes.", task.ID, task.TargetAgent, task.ChildSessionID),
	}
}

// abandon drops a task that was admitted but never started.
func (o *Orchestrator) abandon(id string, cause error) {
	e, ok := o.tracker.remove(id)
	if !ok {
		return
	}
	o.registry.Release(e.task.ParentSessionID, id)
	o.metrics.Delegation("failed")
	o.metrics.SetActive(o.tracker.Len())

	now := o.now()
	e.task.Status = models.TaskStatusError
	e.task.Error = cause.Error()
	e.task.CompletedAt = &now
	o.persist(e.task)

	ev := taskEvent(EventTaskFailed, e.task, now)
	ev.Error = cause
	o.emit(ev)
	o.log.Warn().Err(cause).Str("task", id).Msg("delegation failed to start")
}

func (o *Orchestrator) observeWait(res convergence.Result, err error) {
	switch {
	case res.Aborted:
		o.metrics.Convergence("aborted", res.Elapsed)
	case errors.Is(err, convergence.ErrNoOutput):
		o.metrics.Convergence("no_output", timeoutElapsed(err))
	case errors.Is(err, convergence.ErrTimeout):
		o.metrics.Convergence("timeout", timeoutElapsed(err))
	case err != nil:
		o.metrics.Convergence("error", res.Elapsed)
	default:
		o.metrics.Convergence("converged", res.Elapsed)
	}
}

func timeoutElapsed(err error) time.Duration {
	var te *convergence.TimeoutError
	if errors.As(err, &te) {
		return te.Elapsed
	}
	return 0
}

func (o *Orchestrator) files(req Request) []string {
	if req.Files == nil {
		return o.extractor.Extract(req.Prompt)
	}
	seen := make(map[string]bool, len(req.Files))
	out := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		if n := filelock.Normalize(f); n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func (o *Orchestrator) persist(task *models.DelegatedTask) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveTask(task); err != nil {
		o.log.Warn().Err(err).Str("task", task.ID).Msg("persist task record")
	}
}

func (o *Orchestrator) emit(ev Event) {
	o.events.Emit(ev)
}

func (o *Orchestrator) base() context.Context {
	o.baseMu.RLock()
	defer o.baseMu.RUnlock()
	return o.baseCtx
}

func validate(req Request) error {
	var missing []string
	if strings.TrimSpace(req.ParentSessionID) == "" {
		missing = append(missing, "parent session")
	}
	if strings.TrimSpace(req.Agent) == "" {
		missing = append(missing, "agent")
	}
	if strings.TrimSpace(req.Prompt) == "" && (req.ResumeSessionID == "" || req.Answer == "") {
		missing = append(missing, "prompt")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if req.Background && req.ResumeSessionID != "" {
		return fmt.Errorf("%w: a resumed session must run synchronously", ErrInvalidRequest)
	}
	return nil
}

func describe(req Request) string {
	if d := strings.TrimSpace(req.Description); d != "" {
		return d
	}
	line := strings.TrimSpace(req.Prompt)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if r := []rune(line); len(r) > 60 {
		line = string(r[:57]) + "..."
	}
	if line == "" {
		return "resume " + req.ResumeSessionID
	}
	return line
}
