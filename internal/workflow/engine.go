package workflow

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"github.com/ClareAI/astra-voice-receptionist/internal/event"
	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	"github.com/ClareAI/astra-voice-receptionist/pkg/metrics"
	"go.uber.org/zap"
)

// MaxRetries bounds how many times a failed job is retried before being
// dropped with a warning (spec.md §4.H "Job queue").
const MaxRetries = 3

// Repository is the persistence surface the Workflow Engine needs: reading
// workflow definitions and recording runs.
type Repository interface {
	WorkflowLister
	GetWorkflow(ctx context.Context, id string) (domain.Workflow, error)
	AllScheduledWorkflows(ctx context.Context) ([]domain.Workflow, error)
	CreateRun(ctx context.Context, run *domain.WorkflowRun) error
	UpdateRun(ctx context.Context, run *domain.WorkflowRun) error
}

// Engine subscribes to call_ended, matches and enqueues workflows, runs the
// scheduler tick, and drains the job queue against the step pipeline
// (spec.md §4.H, entire section).
type Engine struct {
	repo    Repository
	queue   *Queue
	actions *ActionRunner

	pollInterval time.Duration
	fired        map[string]time.Time // workflowID -> last-fired minute, for the scheduler guard
}

// NewEngine constructs an Engine and subscribes it to bus's call_ended event.
func NewEngine(bus event.Bus, repo Repository, queue *Queue, actions *ActionRunner, pollInterval time.Duration) *Engine {
	e := &Engine{repo: repo, queue: queue, actions: actions, pollInterval: pollInterval, fired: make(map[string]time.Time)}
	bus.Subscribe(event.KindCallEnded, e.onCallEnded)
	return e
}

// onCallEnded derives secondary triggers, matches enabled workflows, and
// enqueues a job per match (spec.md §4.H "Event bus", "Matcher").
func (e *Engine) onCallEnded(evt *event.CallEvent) {
	ctx := context.Background()
	now := time.Now()

	rawEvent, _ := json.Marshal(callEndedPayload(evt))

	for _, trigger := range deriveTriggers(evt) {
		workflows, err := e.repo.EnabledWorkflows(evt.TenantID, trigger)
		if err != nil {
			logger.Base().Error("failed to list workflows for trigger", zap.String("trigger", string(trigger)), zap.Error(err))
			continue
		}
		for _, wf := range workflows {
			if !matches(wf, evt, now) {
				continue
			}
			job := domain.Job{
				ID:         wf.ID + ":" + evt.CallID + ":" + string(trigger),
				WorkflowID: wf.ID,
				TenantID:   wf.TenantID,
				Trigger:    trigger,
				Event:      domain.JSONB{"raw": string(rawEvent), "caller_id": evt.Session.CallerID, "call_id": evt.CallID},
			}
			if err := e.queue.Enqueue(ctx, job); err != nil {
				logger.Base().Error("failed to enqueue workflow job", zap.String("workflow_id", wf.ID), zap.Error(err))
				continue
			}
			metrics.WorkflowJobsEnqueuedTotal.WithLabelValues(string(trigger)).Inc()
		}
	}
}

func callEndedPayload(evt *event.CallEvent) map[string]interface{} {
	p := map[string]interface{}{
		"tenant_id": evt.TenantID,
		"call_id":   evt.CallID,
		"at":        evt.At,
	}
	if evt.Session != nil {
		p["caller_id"] = evt.Session.CallerID
		p["duration_ms"] = evt.Session.DurationMS()
		p["turns"] = len(evt.Session.History)
		p["transcript"] = evt.Transcript
		p["lead"] = evt.Session.Lead
	}
	return p
}

// RunScheduler ticks once (called by a periodic goroutine at ~30s cadence,
// spec.md §4.H "Scheduler") and enqueues any scheduled workflow whose cron
// expression matches the current minute in its timezone, guarding against
// double-firing within the same minute.
func (e *Engine) RunScheduler(ctx context.Context) {
	workflows, err := e.repo.AllScheduledWorkflows(ctx)
	if err != nil {
		logger.Base().Error("failed to list scheduled workflows", zap.Error(err))
		return
	}

	now := time.Now()
	e.pruneFiredGuard(now)

	for _, wf := range workflows {
		tz, _ := wf.TriggerConfig["timezone"].(string)
		loc, err := time.LoadLocation(tz)
		if err != nil {
			loc = time.UTC
		}
		local := now.In(loc)

		expr, _ := wf.TriggerConfig["cronExpression"].(string)
		schedule, err := parseCron(expr)
		if err != nil {
			logger.Base().Warn("invalid cron expression", zap.String("workflow_id", wf.ID), zap.String("expr", expr))
			continue
		}
		if !schedule.Matches(local) {
			continue
		}

		minuteKey := local.Truncate(time.Minute)
		if last, ok := e.fired[wf.ID]; ok && last.Equal(minuteKey) {
			continue // already fired this minute
		}
		e.fired[wf.ID] = minuteKey

		job := domain.Job{ID: wf.ID + ":" + minuteKey.Format(time.RFC3339), WorkflowID: wf.ID, TenantID: wf.TenantID, Trigger: domain.TriggerScheduled, Event: domain.JSONB{"fired_at": minuteKey}}
		if err := e.queue.Enqueue(ctx, job); err != nil {
			logger.Base().Error("failed to enqueue scheduled workflow", zap.String("workflow_id", wf.ID), zap.Error(err))
		}
	}
}

func (e *Engine) pruneFiredGuard(now time.Time) {
	for id, t := range e.fired {
		if now.Sub(t) > time.Hour {
			delete(e.fired, id)
		}
	}
}

// RunWorker drains the job queue in a loop until ctx is cancelled, executing
// each job's workflow through the step pipeline (spec.md §4.H "Job queue",
// "Step pipeline").
func (e *Engine) RunWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := e.queue.PromoteDue(ctx); err != nil {
			logger.Base().Warn("failed to promote delayed jobs", zap.Error(err))
		}

		job, ok := e.queue.Dequeue(ctx, e.pollInterval)
		if !ok {
			continue
		}
		e.executeJob(ctx, *job)
	}
}

func (e *Engine) executeJob(ctx context.Context, job domain.Job) {
	wf, err := e.repo.GetWorkflow(ctx, job.WorkflowID)
	if err != nil {
		logger.Base().Error("workflow not found for job", zap.String("workflow_id", job.WorkflowID), zap.Error(err))
		return
	}

	run := &domain.WorkflowRun{
		WorkflowID:   wf.ID,
		TenantID:     wf.TenantID,
		TriggerEvent: job.Event,
		Status:       domain.RunStatusRunning,
		StepsTotal:   len(wf.Steps),
		StartedAt:    time.Now(),
	}
	if err := e.repo.CreateRun(ctx, run); err != nil {
		logger.Base().Error("failed to create workflow run", zap.Error(err))
	}

	tctx := e.buildContext(wf, job)
	steps := append([]domain.Step(nil), wf.Steps...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	failed := false
	for _, step := range steps {
		cfg := interpolateConfig(step.Config, tctx)
		output, err := e.actions.Run(ctx, domain.Step{Action: step.Action, Config: cfg, Order: step.Order}, tctx, wf.TenantID, stringField(job.Event, "call_id"))

		result := domain.StepResult{Order: step.Order, Action: string(step.Action)}
		if err != nil {
			result.Error = err.Error()
			run.Result = append(run.Result, result)
			failed = true
			break
		}

		result.Output = domain.JSONB(output)
		run.Result = append(run.Result, result)
		run.StepsCompleted++

		if tctx.StepOutputs == nil {
			tctx.StepOutputs = make(map[int]map[string]interface{})
		}
		tctx.StepOutputs[step.Order] = output
		if step.Action == domain.ActionAIExtract || step.Action == domain.ActionAIExtractQuote {
			if extracted, ok := output["extracted"].(map[string]interface{}); ok {
				tctx.Extracted = extracted
			}
		}
	}

	now := time.Now()
	run.CompletedAt = &now
	if failed {
		run.Status = domain.RunStatusFailed
		if len(run.Result) > 0 {
			run.Error = run.Result[len(run.Result)-1].Error
		}
	} else {
		run.Status = domain.RunStatusCompleted
	}
	if err := e.repo.UpdateRun(ctx, run); err != nil {
		logger.Base().Error("failed to persist workflow run", zap.Error(err))
	}
	metrics.WorkflowRunsTotal.WithLabelValues(string(run.Status)).Inc()

	if failed {
		e.retryJob(ctx, job)
	}
}

// retryJob schedules a retry with exponential backoff 2^retries seconds, up
// to MaxRetries; beyond that the job is dropped with a warning (spec.md
// §4.H "Job queue", §8 property 7).
func (e *Engine) retryJob(ctx context.Context, job domain.Job) {
	if job.Retries >= MaxRetries {
		logger.Base().Warn("workflow job exceeded max retries, dropping", zap.String("job_id", job.ID), zap.Int("retries", job.Retries))
		return
	}

	job.Retries++
	delay := time.Duration(math.Pow(2, float64(job.Retries))) * time.Second
	job.NotBefore = time.Now().Add(delay)
	metrics.WorkflowJobRetriesTotal.Inc()

	if err := e.queue.Enqueue(ctx, job); err != nil {
		logger.Base().Error("failed to reschedule workflow job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (e *Engine) buildContext(wf domain.Workflow, job domain.Job) templateContext {
	raw := stringField(job.Event, "raw")
	transcript := ""
	var payload map[string]interface{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &payload)
	}
	var eventLead map[string]interface{}
	if payload != nil {
		if t, ok := payload["transcript"].(string); ok {
			transcript = t
		}
		if lead, ok := payload["lead"].(map[string]interface{}); ok {
			eventLead = lead
		}
	}

	return templateContext{
		Caller:      stringField(job.Event, "caller_id"),
		Tenant:      wf.TenantID,
		Workflow:    wf.Name,
		Timestamp:   time.Now().Format(time.RFC3339),
		Transcript:  transcript,
		StepOutputs: make(map[int]map[string]interface{}),
		EventLead:   eventLead,
	}
}

func interpolateConfig(cfg domain.JSONB, tctx templateContext) domain.JSONB {
	out := make(domain.JSONB, len(cfg))
	for k, v := range cfg {
		if s, ok := v.(string); ok {
			out[k] = interpolate(s, tctx)
		} else {
			out[k] = v
		}
	}
	return out
}
