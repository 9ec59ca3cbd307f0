package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pipeweld/internal/core"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate the pipeline definition",
	RunE: func(_ *cobra.Command, _ []string) error {
		pipeline, err := core.LoadPipeline(pipelineFile)
		if err != nil {
			return err
		}
		fmt.Printf("pipeline %q is valid (%d stages)\n", pipeline.Name, len(pipeline.Stages))
		return nil
	},
}
