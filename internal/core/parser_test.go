package core

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPipeline(t *testing.T) {
	p, err := LoadPipeline(filepath.Join("testdata", "android.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "android-security", p.Name)
	assert.Equal(t, 45*time.Minute, time.Duration(p.Timeout))
	assert.Equal(t, 10, p.KeepRuns)
	assert.True(t, p.AnsiColor)
	assert.Len(t, p.Stages, 6)

	group := p.Stages[1]
	require.True(t, group.IsGroup())
	assert.Len(t, group.Parallel, 4)

	gateStep := p.Stages[2].Steps[1]
	require.NotNil(t, gateStep.Gate)
	assert.Equal(t, "SONAR_TOKEN", gateStep.Gate.TokenEnv)
	assert.Equal(t, 5*time.Minute, time.Duration(gateStep.Gate.Timeout))
}

func TestPipelineRoundTrip(t *testing.T) {
	first, err := LoadPipeline(filepath.Join("testdata", "android.yaml"))
	require.NoError(t, err)

	data, err := MarshalPipeline(first)
	require.NoError(t, err)

	second, err := ParsePipeline(data)
	require.NoError(t, err)

	// Serializing and reparsing yields an identical guard/body/teardown tree.
	require.Equal(t, first, second)
}

func TestParsePipelineRejectsBadDefinitions(t *testing.T) {
	cases := map[string]string{
		"no name":          "stages: [{name: s, steps: [{run: \"true\"}]}]",
		"no stages":        "name: p",
		"empty stage":      "name: p\nstages: [{name: s}]",
		"steps and group":  "name: p\nstages: [{name: s, steps: [{run: \"true\"}], parallel: [{name: c, steps: [{run: \"true\"}]}]}]",
		"dup stage name":   "name: p\nstages: [{name: s, steps: [{run: \"true\"}]}, {name: s, steps: [{run: \"true\"}]}]",
		"run and gate":     "name: p\nstages: [{name: s, steps: [{run: \"true\", gate: {url: http://x}}]}]",
		"gate without url": "name: p\nstages: [{name: s, steps: [{gate: {timeout: 5m}}]}]",
		"empty condition":  "name: p\nstages: [{name: s, when: {}, steps: [{run: \"true\"}]}]",
		"bad duration":     "name: p\ntimeout: soon\nstages: [{name: s, steps: [{run: \"true\"}]}]",
		"dup param":        "name: p\nparams: [{name: a}, {name: a}]\nstages: [{name: s, steps: [{run: \"true\"}]}]",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePipeline([]byte(src))
			assert.Error(t, err)
		})
	}
}
