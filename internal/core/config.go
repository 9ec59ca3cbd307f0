package core

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config carries the immutable settings for one run: the definition, the
// resolved parameters, the merged environment and the filesystem roots.
// It is created at run start and passed into every component; stage-scoped
// env overlays are applied per step, never written back here.
type Config struct {
	Pipeline *Pipeline
	RunID    string
	WorkDir  string
	RunsDir  string
	Journal  string
	Env      map[string]string
	Params   map[string]bool
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Options tune config construction. Zero values fall back to the pipeline
// definition and the current process environment.
type Options struct {
	WorkDir string
	RunsDir string
	Journal string
	Params  map[string]bool
	Timeout time.Duration
	Environ []string
	Logger  *slog.Logger
}

// NewConfig resolves a pipeline definition plus invocation options into the
// run configuration. Param defaults come from the definition; explicit
// overrides win. The environment is the process environment overlaid with
// the pipeline env block.
func NewConfig(p *Pipeline, opts Options) *Config {
	params := make(map[string]bool, len(p.Params))
	for _, def := range p.Params {
		params[def.Name] = def.Default
	}
	for k, v := range opts.Params {
		params[k] = v
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	env := parseEnviron(environ)
	for k, v := range p.Env {
		env[k] = v
	}

	timeout := time.Duration(p.Timeout)
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = "./runs"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	return &Config{
		Pipeline: p,
		RunID:    uuid.NewString(),
		WorkDir:  workDir,
		RunsDir:  runsDir,
		Journal:  opts.Journal,
		Env:      env,
		Params:   params,
		Timeout:  timeout,
		Logger:   logger,
	}
}

// LookupEnv resolves a variable from the run environment.
func (c *Config) LookupEnv(name string) (string, bool) {
	v, ok := c.Env[name]
	return v, ok
}

func parseEnviron(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// MergeEnv overlays maps left to right; later maps win on conflict.
func MergeEnv(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// FlattenEnv renders an env map into the KEY=VALUE form exec wants.
func FlattenEnv(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}
