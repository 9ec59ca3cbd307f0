package core

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ParsePipeline parses YAML content into a validated Pipeline.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var pipeline Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, errors.Wrap(err, "parsing pipeline definition")
	}
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// LoadPipeline reads a pipeline definition file and returns a Pipeline.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return ParsePipeline(data)
}

// MarshalPipeline renders a Pipeline back to its declarative form. A
// definition round-trips: reparsing the output yields an identical tree.
func MarshalPipeline(p *Pipeline) ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling pipeline definition")
	}
	return data, nil
}
