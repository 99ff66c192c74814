// Package feedback closes the learning loop: every executed plan flows
// back into the registry, the pattern memory, the conflict graph, the
// confidence engine, and the optimizer. Updates are split into a
// real-time tier with a hard budget and an async batched tier with
// retries; on budget exhaustion real-time work demotes to the queue
// instead of blocking the caller.
package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"maestro/internal/bayesian"
	"maestro/internal/bus"
	"maestro/internal/conflict"
	"maestro/internal/logging"
	"maestro/internal/memory"
	"maestro/internal/pareto"
	"maestro/internal/registry"
	"maestro/internal/semantic"
	"maestro/internal/types"
)

const (
	defaultRealtimeBudget = 500 * time.Millisecond
	defaultBatchWindow    = 30 * time.Second
	defaultQueueDepth     = 1024
	maxRetries            = 3
	maxWorkers            = 4
	persistTimeout        = 5 * time.Second
)

// Options tunes the loop's scheduling. Zero values take defaults.
type Options struct {
	RealtimeBudget time.Duration
	BatchWindow    time.Duration
	QueueDepth     int
}

func (o Options) withDefaults() Options {
	if o.RealtimeBudget <= 0 {
		o.RealtimeBudget = defaultRealtimeBudget
	}
	if o.BatchWindow <= 0 {
		o.BatchWindow = defaultBatchWindow
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = defaultQueueDepth
	}
	return o
}

// Loop applies execution outcomes to every learning subsystem. All
// work is idempotent with respect to the pattern id, so a demoted or
// retried job never double-counts.
type Loop struct {
	analyzer  *semantic.Analyzer
	registry  *registry.Registry
	memory    *memory.PatternMemory
	graph     *conflict.Graph
	engine    *bayesian.Engine
	optimizer *pareto.Optimizer
	bridge    *Bridge
	events    *bus.Bus

	opts Options

	mu      sync.Mutex
	applied map[string]bool

	sem        *semaphore.Weighted
	queue      chan job
	quit       chan struct{}
	wg         sync.WaitGroup
	workerDone chan struct{}
	closeOnce  sync.Once
}

// job is one unit of demoted or async-only work. from indexes into
// steps(): everything before it has already been applied.
type job struct {
	pattern types.ExecutionPattern
	from    int
}

func New(analyzer *semantic.Analyzer, reg *registry.Registry, mem *memory.PatternMemory,
	graph *conflict.Graph, engine *bayesian.Engine, optimizer *pareto.Optimizer,
	bridge *Bridge, events *bus.Bus, opts Options) *Loop {
	l := &Loop{
		analyzer:   analyzer,
		registry:   reg,
		memory:     mem,
		graph:      graph,
		engine:     engine,
		optimizer:  optimizer,
		bridge:     bridge,
		events:     events,
		opts:       opts.withDefaults(),
		applied:    make(map[string]bool),
		sem:        semaphore.NewWeighted(maxWorkers),
		quit:       make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	l.queue = make(chan job, l.opts.QueueDepth)
	go l.worker()
	return l
}

// step is one feedback update. Steps before asyncOnlyFrom run in the
// real-time budget; the rest always go through the async queue.
type step struct {
	name string
	run  func(p *types.ExecutionPattern) error
}

func (l *Loop) steps() []step {
	return []step{
		{"semantic_analysis", l.stepAnalysis},
		{"agent_stats", l.stepAgentStats},
		{"execution_record", l.stepRecord},
		{"conflict_graph", l.stepGraph},
		{"confidence_calibration", l.stepConfidence},
		{"optimizer_weights", l.stepOptimizer},
		{"knowledge_bridge", l.stepBridge},
	}
}

const asyncOnlyFrom = 6

// Enqueue schedules feedback for one execution pattern and returns
// immediately. A pattern id that was already applied is skipped.
func (l *Loop) Enqueue(p types.ExecutionPattern) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if !l.markApplied(p.ID) {
		logging.FeedbackDebug("pattern %s already applied, skipping", p.ID)
		return
	}
	l.wg.Add(1)
	go l.realtime(p)
}

func (l *Loop) markApplied(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.applied[id] {
		return false
	}
	l.applied[id] = true
	return true
}

// realtime runs the budgeted tier. Whatever the budget does not cover
// is demoted to the async queue, never dropped.
func (l *Loop) realtime(p types.ExecutionPattern) {
	defer l.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.RealtimeBudget)
	defer cancel()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		logging.Feedback("no worker free within the real-time budget; demoting %s", p.ID)
		l.submit(job{pattern: p})
		return
	}
	defer l.sem.Release(1)

	steps := l.steps()
	for i := 0; i < asyncOnlyFrom; i++ {
		if ctx.Err() != nil {
			logging.Feedback("real-time budget exhausted before %s; demoting %s", steps[i].name, p.ID)
			l.submit(job{pattern: p, from: i})
			return
		}
		if err := steps[i].run(&p); err != nil {
			logging.Get(logging.CategoryFeedback).Warn("step %s for %s: %v", steps[i].name, p.ID, err)
		}
	}
	l.submit(job{pattern: p, from: asyncOnlyFrom})
}

func (l *Loop) submit(j job) {
	select {
	case l.queue <- j:
	case <-l.quit:
		logging.Get(logging.CategoryFeedback).Warn("loop closed; dropping pending feedback for %s", j.pattern.ID)
	}
}

// worker batches async jobs: one flush per batch window, a final drain
// on shutdown.
func (l *Loop) worker() {
	defer close(l.workerDone)
	ticker := time.NewTicker(l.opts.BatchWindow)
	defer ticker.Stop()

	var batch []job
	for {
		select {
		case j := <-l.queue:
			batch = append(batch, j)
		case <-ticker.C:
			l.flush(batch)
			batch = nil
		case <-l.quit:
			batch = append(batch, l.drain()...)
			l.flush(batch)
			return
		}
	}
}

func (l *Loop) drain() []job {
	var jobs []job
	for {
		select {
		case j := <-l.queue:
			jobs = append(jobs, j)
		default:
			return jobs
		}
	}
}

func (l *Loop) flush(batch []job) {
	if len(batch) == 0 {
		return
	}
	g := new(errgroup.Group)
	g.SetLimit(maxWorkers)
	for _, j := range batch {
		j := j
		g.Go(func() error {
			l.runJob(j)
			return nil
		})
	}
	_ = g.Wait()
	logging.FeedbackDebug("flushed %d async feedback jobs", len(batch))
}

// runJob applies the remaining steps with 1s/2s/4s backoff on
// transient failure. Progress survives across attempts so completed
// steps never re-run.
func (l *Loop) runJob(j job) {
	from := j.from
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(delay):
			case <-l.quit:
				// shutting down; the first attempt already ran
				return
			}
		}
		next, err := l.runSteps(&j.pattern, from)
		from = next
		if err == nil {
			if l.events != nil {
				l.events.Publish(bus.FeedbackApplied, map[string]interface{}{
					"pattern_id": j.pattern.ID,
					"success":    j.pattern.Success,
				})
			}
			return
		}
		logging.Get(logging.CategoryFeedback).Warn("async feedback attempt %d for %s: %v", attempt+1, j.pattern.ID, err)
	}
	logging.Get(logging.CategoryFeedback).Error("giving up on pattern %s after %d attempts", j.pattern.ID, maxRetries+1)
}

// runSteps applies steps[from:] and returns the index of the first
// failure, or len(steps) on success.
func (l *Loop) runSteps(p *types.ExecutionPattern, from int) (int, error) {
	steps := l.steps()
	for i := from; i < len(steps); i++ {
		if err := steps[i].run(p); err != nil {
			return i, fmt.Errorf("%s: %w", steps[i].name, err)
		}
	}
	return len(steps), nil
}

// Close waits for in-flight real-time work, then drains and flushes
// the async queue.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.wg.Wait()
		close(l.quit)
		<-l.workerDone
	})
}

// =============================================================================
// STEPS
// =============================================================================

// stepAnalysis fills missing analysis fields from the semantic
// analyzer and feeds the intent calibration counters.
func (l *Loop) stepAnalysis(p *types.ExecutionPattern) error {
	a := l.analyzer.Analyze(p.Objective)
	observed := p.ObjectiveType
	if observed == "" {
		observed = a.Intent
	}
	l.analyzer.Calibration().Record(a.Intent, observed)

	if p.ObjectiveType == "" {
		p.ObjectiveType = a.Intent
	}
	if p.Domain == "" {
		p.Domain = a.Domain
	}
	if p.TaskType == "" {
		p.TaskType = a.TaskType
	}
	if p.Complexity == "" {
		p.Complexity = a.Complexity
	}
	return nil
}

// stepAgentStats updates per-agent running statistics. Per-agent
// results are preferred; without them the totals are split evenly and
// blame goes to the failed agent alone.
func (l *Loop) stepAgentStats(p *types.ExecutionPattern) error {
	if len(p.AgentResults) > 0 {
		for _, r := range p.AgentResults {
			l.registry.RecordFeedback(r.AgentID, r.Success, r.TokensUsed, r.DurationMs)
		}
		return nil
	}
	if len(p.AgentsUsed) == 0 {
		return nil
	}
	tokens := p.TotalTokens / len(p.AgentsUsed)
	duration := p.TotalDurationMs / int64(len(p.AgentsUsed))
	for _, id := range p.AgentsUsed {
		success := p.Success
		if !p.Success && p.FailedAgent != "" {
			success = id != p.FailedAgent
		}
		l.registry.RecordFeedback(id, success, tokens, duration)
	}
	return nil
}

func (l *Loop) stepRecord(p *types.ExecutionPattern) error {
	*p = l.memory.Record(*p)
	return nil
}

func (l *Loop) stepGraph(p *types.ExecutionPattern) error {
	l.graph.Learn(p)
	return nil
}

func (l *Loop) stepConfidence(p *types.ExecutionPattern) error {
	if p.PredictedConfidence > 0 {
		l.engine.RecordOutcome(p.PredictedConfidence, p.Success)
	}
	return nil
}

func (l *Loop) stepOptimizer(p *types.ExecutionPattern) error {
	l.optimizer.ObserveOutcome(p, p.EstimatedTokens, 0)
	return nil
}

func (l *Loop) stepBridge(p *types.ExecutionPattern) error {
	if l.bridge == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return l.bridge.Persist(ctx, p)
}
