package core

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"pipeweld/internal/artifact"
	"pipeweld/internal/gate"
	"pipeweld/internal/history"
	"pipeweld/internal/storage"
	"pipeweld/pkg/utils"
)

// hookTimeout bounds each teardown command so a stuck hook cannot hold a
// finished run open.
const hookTimeout = 2 * time.Minute

// Runner drives a pipeline run: it walks the stage tree in declared order,
// forks parallel groups, applies the global timeout, and runs teardown hooks
// in every terminal state. The overall state machine is
// Pending -> Running -> {Succeeded, Failed, Aborted}.
type Runner struct {
	cfg      *Config
	executor *Executor
	logs     *storage.LogStore
	journal  *history.Journal

	mu     sync.Mutex
	result *RunResult
}

// NewRunner wires a runner for one run of the configured pipeline.
func NewRunner(cfg *Config) (*Runner, error) {
	r := &Runner{
		cfg:      cfg,
		executor: NewExecutor(cfg.Logger),
		logs:     storage.NewLogStore(cfg.RunsDir),
	}
	if cfg.Journal != "" {
		j, err := history.Open(cfg.Journal)
		if err != nil {
			return nil, errors.Wrap(err, "opening run journal")
		}
		r.journal = j
	}
	return r, nil
}

// Run executes the pipeline to a terminal state. The returned result tree is
// complete even on failure or abort: stages that never ran are recorded as
// skipped and partial artifacts stay archived for postmortem.
func (r *Runner) Run(ctx context.Context) *RunResult {
	res := &RunResult{
		RunID:    r.cfg.RunID,
		Pipeline: r.cfg.Pipeline.Name,
		State:    RunPending,
		Started:  time.Now(),
	}
	r.mu.Lock()
	r.result = res
	res.State = RunRunning
	r.mu.Unlock()

	r.cfg.Logger.Info("pipeline started",
		"pipeline", r.cfg.Pipeline.Name, "run", r.cfg.RunID)

	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	var failedStage string
	failed, aborted := false, false
	for _, planned := range Plan(r.cfg.Pipeline, r.cfg.LookupEnv, r.cfg.Params) {
		st := planned.Stage
		switch {
		case failed || aborted || runCtx.Err() != nil:
			r.appendStage(r.skipStage(st.Name, "earlier stage ended the run"))
		case !planned.Included:
			r.appendStage(r.skipStage(st.Name, ""))
		default:
			sr := r.runStage(runCtx, st)
			r.appendStage(sr)
			switch sr.Status {
			case StatusFailure:
				failed = true
				failedStage = st.Name
			case StatusAborted:
				aborted = true
			}
		}
	}

	r.mu.Lock()
	res.Finished = time.Now()
	switch {
	case failed:
		res.State = RunFailed
		res.Reason = fmt.Sprintf("stage %q failed", failedStage)
	case aborted || runCtx.Err() != nil:
		res.State = RunAborted
		if runCtx.Err() != nil {
			res.Reason = runCtx.Err().Error()
		}
	default:
		res.State = RunSucceeded
	}
	r.mu.Unlock()

	// Pipeline teardown runs in every terminal state, on a context that
	// survives the global timeout. Hook failures become warnings; the
	// terminal state is already decided and never changes here.
	r.runPost(context.WithoutCancel(ctx), r.cfg.Pipeline.Post, res.State, "pipeline")

	if err := r.logs.Prune(r.cfg.Pipeline.KeepRuns); err != nil {
		r.warnf("pruning old runs: %v", err)
	}

	r.cfg.Logger.Info("pipeline finished",
		"pipeline", r.cfg.Pipeline.Name, "run", r.cfg.RunID,
		"state", string(res.State), "duration", res.Finished.Sub(res.Started))
	return res
}

// Result returns a snapshot of the result tree; safe to call from other
// goroutines while the run is in flight. Stage results are immutable once
// appended, so copying the slices is enough to decouple the snapshot from
// the running mutation.
func (r *Runner) Result() *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		return nil
	}
	snap := *r.result
	snap.Stages = append([]*StageResult(nil), r.result.Stages...)
	snap.Warnings = append([]string(nil), r.result.Warnings...)
	return &snap
}

// appendStage publishes a finished stage result.
func (r *Runner) appendStage(sr *StageResult) {
	r.mu.Lock()
	r.result.Stages = append(r.result.Stages, sr)
	r.mu.Unlock()
}

func (r *Runner) skipStage(name, reason string) *StageResult {
	now := time.Now()
	sr := &StageResult{Name: name, Status: StatusSkipped, Reason: reason, Started: now, Finished: now}
	r.record(sr)
	return sr
}

// runStage executes one node of the stage tree. The returned result is set
// exactly once, after teardown, and never mutated afterwards.
func (r *Runner) runStage(ctx context.Context, st *Stage) *StageResult {
	sr := &StageResult{Name: st.Name, Status: StatusPending, Started: time.Now()}

	if !st.When.Evaluate(r.cfg.LookupEnv, r.cfg.Params) {
		sr.Status = StatusSkipped
		sr.Finished = time.Now()
		r.cfg.Logger.Info("stage skipped", "stage", st.Name)
		r.record(sr)
		return sr
	}
	if ctx.Err() != nil {
		// Cancelled before the stage ever started.
		sr.Status = StatusAborted
		sr.Reason = ctx.Err().Error()
		sr.Finished = time.Now()
		r.record(sr)
		return sr
	}

	r.cfg.Logger.Info("stage started", "stage", st.Name)
	sr.Status = StatusRunning
	if st.IsGroup() {
		r.runGroup(ctx, st, sr)
	} else {
		r.runSteps(ctx, st, sr)
	}
	r.finishStage(ctx, st, sr)
	sr.Finished = time.Now()

	r.cfg.Logger.Info("stage finished", "stage", st.Name,
		"status", string(sr.Status), "duration", sr.Finished.Sub(sr.Started))
	r.record(sr)
	return sr
}

func (r *Runner) runSteps(ctx context.Context, st *Stage, sr *StageResult) {
	baseEnv := MergeEnv(r.cfg.Env, st.Env)
	for i := range st.Steps {
		step := st.Steps[i]
		if ctx.Err() != nil {
			r.markAborted(sr, ctx.Err())
			return
		}
		if step.Gate != nil {
			if err := r.waitGate(ctx, step.Gate); err != nil {
				if ctx.Err() != nil {
					r.markAborted(sr, ctx.Err())
				} else {
					markFailed(sr, err)
				}
				return
			}
			continue
		}

		stepRes, err := r.executor.RunCommand(ctx, step, baseEnv, r.cfg.WorkDir)
		if stepRes != nil {
			sr.Steps = append(sr.Steps, *stepRes)
		}
		if err != nil {
			if step.ContinueOnError && !errors.Is(err, ErrAborted) {
				// Best-effort step: logged, never propagated.
				r.warnf("best-effort step failed in stage %q: %v", st.Name, err)
				continue
			}
			if errors.Is(err, ErrAborted) {
				r.markAborted(sr, err)
			} else {
				markFailed(sr, err)
			}
			return
		}
	}
	sr.Status = StatusSuccess
}

// runGroup executes children concurrently with fail-fast semantics: the
// first failure cancels every still-running sibling. The group returns only
// after all children are terminal. Children share no mutable state; each
// goroutine writes its own result slot.
func (r *Runner) runGroup(ctx context.Context, st *Stage, sr *StageResult) {
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	children := make([]*StageResult, len(st.Parallel))
	var wg sync.WaitGroup
	for i := range st.Parallel {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			child := r.runStage(gctx, &st.Parallel[i])
			children[i] = child
			if child.Status == StatusFailure {
				cancel()
			}
		}(i)
	}
	wg.Wait()

	sr.Children = children
	var firstErr error
	anyFailed := false
	for _, c := range children {
		if c.Status == StatusFailure {
			anyFailed = true
			if firstErr == nil {
				firstErr = c.Err
				if firstErr == nil {
					firstErr = errors.Errorf("stage %q failed", c.Name)
				}
			}
		}
	}
	switch {
	case anyFailed:
		markFailed(sr, firstErr)
	case ctx.Err() != nil:
		r.markAborted(sr, ctx.Err())
	default:
		sr.Status = StatusSuccess
	}
}

// finishStage is the stage's teardown: persist captured output, collect
// artifacts, then run post hooks keyed by the outcome. It executes on every
// exit path, including cancellation, so it runs on an uncancellable context.
func (r *Runner) finishStage(ctx context.Context, st *Stage, sr *StageResult) {
	ctx = context.WithoutCancel(ctx)

	if len(sr.Steps) > 0 {
		var buf bytes.Buffer
		for _, step := range sr.Steps {
			fmt.Fprintf(&buf, "$ %s\n", step.Command)
			buf.WriteString(step.Stdout)
			buf.WriteString(step.Stderr)
		}
		path, err := r.logs.SaveStageLog(r.cfg.RunID, st.Name, buf.Bytes())
		if err != nil {
			r.warnf("saving log for stage %q: %v", st.Name, err)
		} else {
			sr.LogPath = path
		}
	}

	// Artifact collection is part of teardown and tolerates missing files
	// only when the spec allows it; a strict miss fails the stage.
	for _, spec := range st.Artifacts {
		arts, err := r.collect(spec)
		sr.Artifacts = append(sr.Artifacts, arts...)
		if err != nil {
			if sr.Status == StatusSuccess {
				markFailed(sr, err)
			} else {
				r.warnf("collecting artifacts for stage %q: %v", st.Name, err)
			}
		}
	}

	if st.Post != nil {
		actions := append([]PostAction{}, st.Post.Always...)
		switch sr.Status {
		case StatusSuccess:
			actions = append(actions, st.Post.Success...)
		case StatusFailure:
			actions = append(actions, st.Post.Failure...)
		}
		for _, a := range actions {
			r.runPostAction(ctx, a, fmt.Sprintf("stage %q", st.Name))
		}
	}
}

func (r *Runner) runPost(ctx context.Context, post *PostSpec, state RunState, where string) {
	if post == nil {
		return
	}
	actions := append([]PostAction{}, post.Always...)
	switch state {
	case RunSucceeded:
		actions = append(actions, post.Success...)
	case RunFailed:
		actions = append(actions, post.Failure...)
	}
	for _, a := range actions {
		r.runPostAction(ctx, a, where)
	}
}

func (r *Runner) runPostAction(ctx context.Context, a PostAction, where string) {
	switch {
	case a.Run != "":
		step := Step{Run: a.Run, Timeout: Duration(hookTimeout)}
		if _, err := r.executor.RunCommand(ctx, step, r.cfg.Env, r.cfg.WorkDir); err != nil {
			r.warnf("%s teardown hook failed: %v", where, err)
		}
	case a.Collect != nil:
		if _, err := r.collect(*a.Collect); err != nil {
			r.warnf("%s teardown collect failed: %v", where, err)
		}
	}
}

func (r *Runner) collect(spec ArtifactSpec) ([]artifact.Artifact, error) {
	pattern := spec.Pattern
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(r.cfg.WorkDir, pattern)
	}
	dest := filepath.Join(r.logs.ReportsDir(r.cfg.RunID), spec.Dest)
	return artifact.Collect(pattern, dest, artifact.Options{
		Fingerprint: spec.Fingerprint,
		AllowEmpty:  spec.AllowEmpty,
	})
}

func (r *Runner) waitGate(ctx context.Context, spec *GateSpec) error {
	token := ""
	if spec.TokenEnv != "" {
		token, _ = r.cfg.LookupEnv(spec.TokenEnv)
	}
	client := &gate.Client{
		URL:      spec.URL,
		Token:    token,
		Timeout:  time.Duration(spec.Timeout),
		Interval: time.Duration(spec.Interval),
		Logger:   r.cfg.Logger,
	}
	return client.Wait(ctx)
}

// record appends the finished stage to the run journal, fingerprinting its
// log so tampering with archived output is detectable later.
func (r *Runner) record(sr *StageResult) {
	if r.journal == nil {
		return
	}
	logHash := ""
	if sr.LogPath != "" {
		if h, err := utils.HashFile(sr.LogPath); err == nil {
			logHash = h
		}
	}
	var fingerprints []string
	for _, a := range sr.Artifacts {
		if a.Fingerprint != "" {
			fingerprints = append(fingerprints, a.Fingerprint)
		}
	}
	rec := history.NewRecord(r.cfg.RunID, r.cfg.Pipeline.Name, sr.Name,
		string(sr.Status), sr.LogPath, logHash, fingerprints)
	if err := r.journal.Append(rec); err != nil {
		r.warnf("journal append for stage %q failed: %v", sr.Name, err)
	}
}

func (r *Runner) warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.cfg.Logger.Warn(msg)
	r.mu.Lock()
	if r.result != nil {
		r.result.Warnings = append(r.result.Warnings, msg)
	}
	r.mu.Unlock()
}

func (r *Runner) markAborted(sr *StageResult, cause error) {
	sr.Status = StatusAborted
	if cause != nil {
		sr.Err = cause
		sr.Reason = cause.Error()
	}
}

func markFailed(sr *StageResult, err error) {
	sr.Status = StatusFailure
	if err != nil {
		sr.Err = err
		sr.Reason = err.Error()
	}
}
