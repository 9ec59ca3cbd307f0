package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunner(t *testing.T, p *Pipeline, params map[string]bool, timeout time.Duration) (*Runner, *Config) {
	t.Helper()
	require.NoError(t, p.Validate())
	cfg := NewConfig(p, Options{
		WorkDir: t.TempDir(),
		RunsDir: t.TempDir(),
		Params:  params,
		Timeout: timeout,
		Logger:  testLogger(),
	})
	r, err := NewRunner(cfg)
	require.NoError(t, err)
	return r, cfg
}

func shellStage(name, cmd string) Stage {
	return Stage{Name: name, Steps: []Step{{Run: cmd}}}
}

func TestRunSingleStageSucceeds(t *testing.T) {
	p := &Pipeline{Name: "simple", Stages: []Stage{shellStage("Hello", "echo hello")}}
	r, _ := testRunner(t, p, nil, 0)

	res := r.Run(context.Background())
	assert.Equal(t, RunSucceeded, res.State)
	require.Len(t, res.Stages, 1)
	assert.Equal(t, StatusSuccess, res.Stages[0].Status)
	assert.NotEmpty(t, res.Stages[0].LogPath)
}

func TestRunStopsAfterFailure(t *testing.T) {
	p := &Pipeline{Name: "stops", Stages: []Stage{
		shellStage("Boom", "exit 1"),
		shellStage("Never", "echo never"),
	}}
	r, _ := testRunner(t, p, nil, 0)

	res := r.Run(context.Background())
	assert.Equal(t, RunFailed, res.State)
	assert.Equal(t, StatusFailure, res.StageByName("Boom").Status)
	assert.Equal(t, StatusSkipped, res.StageByName("Never").Status)
	assert.Contains(t, res.Reason, "Boom")
}

func TestBestEffortStepNeverFailsStage(t *testing.T) {
	p := &Pipeline{Name: "besteffort", Stages: []Stage{{
		Name: "Optional",
		Steps: []Step{
			{Run: "exit 1", ContinueOnError: true},
			{Run: "echo still here"},
		},
	}}}
	r, _ := testRunner(t, p, nil, 0)

	res := r.Run(context.Background())
	assert.Equal(t, RunSucceeded, res.State)
	assert.Equal(t, StatusSuccess, res.Stages[0].Status)
	assert.NotEmpty(t, res.Warnings, "best-effort failure must be logged")
}

func TestParallelGroupFailFast(t *testing.T) {
	p := &Pipeline{Name: "failfast", Stages: []Stage{{
		Name: "Group",
		Parallel: []Stage{
			shellStage("Fast Fail", "sleep 0.2; exit 1"),
			shellStage("Slow OK", "sleep 5"),
		},
	}}}
	r, _ := testRunner(t, p, nil, 0)

	start := time.Now()
	res := r.Run(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, RunFailed, res.State)
	group := res.StageByName("Group")
	assert.Equal(t, StatusFailure, group.Status)
	assert.Equal(t, StatusFailure, res.StageByName("Fast Fail").Status)
	assert.Equal(t, StatusAborted, res.StageByName("Slow OK").Status)
	assert.Less(t, elapsed, 3*time.Second, "fail-fast must cancel the slow sibling")
}

func TestParallelGroupAllSucceed(t *testing.T) {
	p := &Pipeline{Name: "par", Stages: []Stage{{
		Name: "Group",
		Parallel: []Stage{
			shellStage("A", "echo a"),
			shellStage("B", "echo b"),
			shellStage("C", "echo c"),
		},
	}}}
	r, _ := testRunner(t, p, nil, 0)

	res := r.Run(context.Background())
	assert.Equal(t, RunSucceeded, res.State)
	group := res.StageByName("Group")
	assert.Equal(t, StatusSuccess, group.Status)
	require.Len(t, group.Children, 3)
	for _, c := range group.Children {
		assert.Equal(t, StatusSuccess, c.Status)
	}
}

func TestGlobalTimeoutAbortsAndKillsProcess(t *testing.T) {
	p := &Pipeline{Name: "timeout", Stages: []Stage{
		shellStage("Long", "sleep 30 & echo $! > pid.txt; wait"),
	}}
	r, cfg := testRunner(t, p, nil, 400*time.Millisecond)

	res := r.Run(context.Background())
	assert.Equal(t, RunAborted, res.State)
	assert.Equal(t, StatusAborted, res.StageByName("Long").Status)

	data, err := os.ReadFile(filepath.Join(cfg.WorkDir, "pid.txt"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)

	// The sleep process must be gone: cancellation terminates the whole
	// process group, not just the shell.
	require.Eventually(t, func() bool {
		return syscall.Kill(pid, syscall.Signal(0)) != nil
	}, 3*time.Second, 50*time.Millisecond, "subprocess %d still alive after abort", pid)
}

func TestGuardedStageSkipped(t *testing.T) {
	p := &Pipeline{
		Name:   "guards",
		Params: []ParamDef{{Name: "lint"}},
		Stages: []Stage{
			{Name: "Lint", When: &Condition{Param: "lint"}, Steps: []Step{{Run: "echo lint"}}},
			shellStage("Always", "echo always"),
		},
	}
	r, _ := testRunner(t, p, nil, 0)

	res := r.Run(context.Background())
	assert.Equal(t, RunSucceeded, res.State)
	assert.Equal(t, StatusSkipped, res.StageByName("Lint").Status)
	assert.Equal(t, StatusSuccess, res.StageByName("Always").Status)
}

func TestStrictArtifactMissFailsStage(t *testing.T) {
	p := &Pipeline{Name: "artifacts", Stages: []Stage{{
		Name:      "Build",
		Steps:     []Step{{Run: "echo built"}},
		Artifacts: []ArtifactSpec{{Pattern: "missing/*.apk", Dest: "apk"}},
	}}}
	r, _ := testRunner(t, p, nil, 0)

	res := r.Run(context.Background())
	assert.Equal(t, RunFailed, res.State)
	assert.Equal(t, StatusFailure, res.Stages[0].Status)
	assert.Contains(t, res.Stages[0].Reason, "no artifacts matched")
}

func TestAllowEmptyArtifactMissIsFine(t *testing.T) {
	p := &Pipeline{Name: "artifacts", Stages: []Stage{{
		Name:      "Build",
		Steps:     []Step{{Run: "echo built"}},
		Artifacts: []ArtifactSpec{{Pattern: "missing/*.apk", Dest: "apk", AllowEmpty: true}},
	}}}
	r, _ := testRunner(t, p, nil, 0)

	res := r.Run(context.Background())
	assert.Equal(t, RunSucceeded, res.State)
	assert.Empty(t, res.Stages[0].Artifacts)
}

func TestTeardownHookFailureIsWarningOnly(t *testing.T) {
	p := &Pipeline{
		Name:   "hooks",
		Stages: []Stage{shellStage("OK", "echo ok")},
		Post: &PostSpec{
			Always:  []PostAction{{Run: "exit 7"}},
			Failure: []PostAction{{Run: "echo should not run"}},
		},
	}
	r, _ := testRunner(t, p, nil, 0)

	res := r.Run(context.Background())
	assert.Equal(t, RunSucceeded, res.State, "teardown failures never change the terminal state")
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "teardown hook failed")
}

func TestStagePostHooksKeyedByOutcome(t *testing.T) {
	p := &Pipeline{Name: "stagepost", Stages: []Stage{{
		Name:  "Work",
		Steps: []Step{{Run: "echo work"}},
		Post: &PostSpec{
			Always:  []PostAction{{Run: "touch always.txt"}},
			Success: []PostAction{{Run: "touch success.txt"}},
			Failure: []PostAction{{Run: "touch failure.txt"}},
		},
	}}}
	r, cfg := testRunner(t, p, nil, 0)

	res := r.Run(context.Background())
	assert.Equal(t, RunSucceeded, res.State)
	assert.FileExists(t, filepath.Join(cfg.WorkDir, "always.txt"))
	assert.FileExists(t, filepath.Join(cfg.WorkDir, "success.txt"))
	assert.NoFileExists(t, filepath.Join(cfg.WorkDir, "failure.txt"))
}

func TestQualityGateRejectionFailsPipeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ERROR"})
	}))
	defer srv.Close()

	p := &Pipeline{Name: "gate", Stages: []Stage{{
		Name: "Analysis",
		Steps: []Step{{Gate: &GateSpec{
			URL:      srv.URL,
			Timeout:  Duration(2 * time.Second),
			Interval: Duration(50 * time.Millisecond),
		}}},
	}}}
	r, _ := testRunner(t, p, nil, 0)

	res := r.Run(context.Background())
	assert.Equal(t, RunFailed, res.State)
	assert.Contains(t, res.StageByName("Analysis").Reason, "quality gate rejected")
}

// With dependencyCheck off and tests/build on, only the
// test and build stages run, the dependency check is skipped, and the final
// archive holds the debug build plus the test reports.
func TestToggleScenario(t *testing.T) {
	p := &Pipeline{
		Name: "android",
		Params: []ParamDef{
			{Name: "dependencyCheck", Default: true},
			{Name: "tests", Default: true},
			{Name: "build", Default: true},
			{Name: "release"},
		},
		Stages: []Stage{
			{Name: "Checks", Parallel: []Stage{
				{
					Name:  "Dependency Check",
					When:  &Condition{Param: "dependencyCheck"},
					Steps: []Step{{Run: "echo scanning deps"}},
				},
				{
					Name:  "Unit Tests",
					When:  &Condition{Param: "tests"},
					Steps: []Step{{Run: "mkdir -p reports && echo '<testsuite/>' > reports/tests.xml && echo 81% > reports/coverage.txt"}},
					Artifacts: []ArtifactSpec{
						{Pattern: "reports/tests.xml", Dest: "tests", Fingerprint: true},
						{Pattern: "reports/coverage.txt", Dest: "coverage"},
					},
				},
			}},
			{
				Name: "Build",
				When: &Condition{Param: "build"},
				Steps: []Step{
					{Run: "mkdir -p build && echo apk > build/app-debug.apk"},
				},
				Artifacts: []ArtifactSpec{{Pattern: "build/*.apk", Dest: "apk", Fingerprint: true}},
			},
		},
	}
	r, cfg := testRunner(t, p, map[string]bool{"dependencyCheck": false}, 0)

	res := r.Run(context.Background())
	require.Equal(t, RunSucceeded, res.State)

	assert.Equal(t, StatusSkipped, res.StageByName("Dependency Check").Status)
	assert.Equal(t, StatusSuccess, res.StageByName("Unit Tests").Status)
	assert.Equal(t, StatusSuccess, res.StageByName("Build").Status)

	// Build runs after the parallel group.
	require.Len(t, res.Stages, 2)
	assert.Equal(t, "Checks", res.Stages[0].Name)
	assert.Equal(t, "Build", res.Stages[1].Name)

	reports := filepath.Join(cfg.RunsDir, res.RunID, "reports")
	assert.FileExists(t, filepath.Join(reports, "apk", "app-debug.apk"))
	assert.FileExists(t, filepath.Join(reports, "tests", "tests.xml"))
	assert.FileExists(t, filepath.Join(reports, "coverage", "coverage.txt"))

	build := res.StageByName("Build")
	require.Len(t, build.Artifacts, 1)
	assert.NotEmpty(t, build.Artifacts[0].Fingerprint)
}

func TestResultSnapshotWhileRunning(t *testing.T) {
	p := &Pipeline{Name: "concurrent", Stages: []Stage{
		shellStage("First", "sleep 0.1"),
		shellStage("Second", "sleep 0.1"),
	}}
	r, _ := testRunner(t, p, nil, 0)

	done := make(chan *RunResult, 1)
	go func() { done <- r.Run(context.Background()) }()

	// Poll and encode snapshots the whole time the run is in flight, the way
	// the status endpoints do.
	for {
		select {
		case res := <-done:
			require.Equal(t, RunSucceeded, res.State)
			snap := r.Result()
			require.Len(t, snap.Stages, 2)
			return
		default:
			if snap := r.Result(); snap != nil {
				_, err := json.Marshal(snap)
				require.NoError(t, err)
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRunRecordsJournal(t *testing.T) {
	p := &Pipeline{Name: "journaled", Stages: []Stage{shellStage("One", "echo one")}}
	require.NoError(t, p.Validate())

	journal := filepath.Join(t.TempDir(), "journal.jsonl")
	cfg := NewConfig(p, Options{
		WorkDir: t.TempDir(),
		RunsDir: t.TempDir(),
		Journal: journal,
		Logger:  testLogger(),
	})
	r, err := NewRunner(cfg)
	require.NoError(t, err)

	res := r.Run(context.Background())
	require.Equal(t, RunSucceeded, res.State)
	assert.FileExists(t, journal)
}
