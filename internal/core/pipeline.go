package core

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline is the declarative definition of a whole run: global settings,
// invocation parameters and the ordered stage tree. It is immutable once
// parsed; execution state lives in the result tree, never here.
type Pipeline struct {
	Name      string            `yaml:"name"`
	Timeout   Duration          `yaml:"timeout,omitempty"`
	KeepRuns  int               `yaml:"keepRuns,omitempty"`
	AnsiColor bool              `yaml:"ansiColor,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Params    []ParamDef        `yaml:"params,omitempty"`
	Stages    []Stage           `yaml:"stages"`
	Post      *PostSpec         `yaml:"post,omitempty"`
}

// ParamDef declares a named boolean toggle with its default value.
type ParamDef struct {
	Name    string `yaml:"name"`
	Default bool   `yaml:"default,omitempty"`
}

// Stage is one unit of work. Its body is either a list of steps or a group
// of children executed in parallel, never both. Stages run sequentially in
// declared order; parallel children are unordered among themselves.
type Stage struct {
	Name      string            `yaml:"name"`
	When      *Condition        `yaml:"when,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Steps     []Step            `yaml:"steps,omitempty"`
	Parallel  []Stage           `yaml:"parallel,omitempty"`
	Artifacts []ArtifactSpec    `yaml:"artifacts,omitempty"`
	Post      *PostSpec         `yaml:"post,omitempty"`
}

// IsGroup reports whether the stage body is a parallel group.
func (s *Stage) IsGroup() bool { return len(s.Parallel) > 0 }

// Step is a single instruction inside a stage: a shell command or a
// quality-gate wait.
type Step struct {
	Run             string            `yaml:"run,omitempty"`
	Dir             string            `yaml:"dir,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	Timeout         Duration          `yaml:"timeout,omitempty"`
	ContinueOnError bool              `yaml:"continueOnError,omitempty"`
	Gate            *GateSpec         `yaml:"gate,omitempty"`
}

// GateSpec describes a blocking wait for an external analysis verdict.
type GateSpec struct {
	URL      string   `yaml:"url"`
	TokenEnv string   `yaml:"tokenEnv,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
}

// PostSpec lists teardown actions keyed by outcome. Always actions run in
// every terminal state; success/failure actions only in the matching one.
type PostSpec struct {
	Always  []PostAction `yaml:"always,omitempty"`
	Success []PostAction `yaml:"success,omitempty"`
	Failure []PostAction `yaml:"failure,omitempty"`
}

// PostAction is one teardown action: a shell command or an artifact
// collection. Teardown failures surface as warnings, never as a changed
// terminal status.
type PostAction struct {
	Run     string        `yaml:"run,omitempty"`
	Collect *ArtifactSpec `yaml:"collect,omitempty"`
}

// ArtifactSpec references stage outputs by glob pattern.
type ArtifactSpec struct {
	Pattern     string `yaml:"pattern"`
	Dest        string `yaml:"dest,omitempty"`
	AllowEmpty  bool   `yaml:"allowEmpty,omitempty"`
	Fingerprint bool   `yaml:"fingerprint,omitempty"`
}

// Duration marshals as a human-readable string ("45m", "1h30m").
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Validate checks the structural invariants of the definition.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	seen := make(map[string]bool)
	for _, param := range p.Params {
		if param.Name == "" {
			return fmt.Errorf("param with empty name")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate param %q", param.Name)
		}
		seen[param.Name] = true
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline %q has no stages", p.Name)
	}
	names := make(map[string]bool)
	for i := range p.Stages {
		if err := validateStage(&p.Stages[i], names); err != nil {
			return err
		}
	}
	return validatePost(p.Post, "pipeline post")
}

func validateStage(s *Stage, names map[string]bool) error {
	if s.Name == "" {
		return fmt.Errorf("stage with empty name")
	}
	if names[s.Name] {
		return fmt.Errorf("duplicate stage name %q", s.Name)
	}
	names[s.Name] = true

	if len(s.Steps) > 0 && len(s.Parallel) > 0 {
		return fmt.Errorf("stage %q: steps and parallel are mutually exclusive", s.Name)
	}
	if len(s.Steps) == 0 && len(s.Parallel) == 0 {
		return fmt.Errorf("stage %q has no body", s.Name)
	}
	if s.When != nil {
		if err := s.When.Validate(); err != nil {
			return fmt.Errorf("stage %q: %w", s.Name, err)
		}
	}
	for i := range s.Steps {
		if err := validateStep(&s.Steps[i], s.Name); err != nil {
			return err
		}
	}
	for i := range s.Parallel {
		if err := validateStage(&s.Parallel[i], names); err != nil {
			return err
		}
	}
	for _, a := range s.Artifacts {
		if a.Pattern == "" {
			return fmt.Errorf("stage %q: artifact with empty pattern", s.Name)
		}
	}
	return validatePost(s.Post, fmt.Sprintf("stage %q post", s.Name))
}

func validateStep(st *Step, stage string) error {
	if st.Run == "" && st.Gate == nil {
		return fmt.Errorf("stage %q: step needs run or gate", stage)
	}
	if st.Run != "" && st.Gate != nil {
		return fmt.Errorf("stage %q: run and gate are mutually exclusive", stage)
	}
	if st.Gate != nil && st.Gate.URL == "" {
		return fmt.Errorf("stage %q: gate needs a url", stage)
	}
	return nil
}

func validatePost(p *PostSpec, where string) error {
	if p == nil {
		return nil
	}
	for _, list := range [][]PostAction{p.Always, p.Success, p.Failure} {
		for _, a := range list {
			if a.Run == "" && a.Collect == nil {
				return fmt.Errorf("%s: action needs run or collect", where)
			}
			if a.Collect != nil && a.Collect.Pattern == "" {
				return fmt.Errorf("%s: collect with empty pattern", where)
			}
		}
	}
	return nil
}
