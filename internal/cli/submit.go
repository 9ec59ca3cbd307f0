package cli

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var submitServer string

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit the pipeline to a pipeweld server",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitServer, "server", "http://localhost:8080", "server base URL")
}

func runSubmit(_ *cobra.Command, _ []string) error {
	data, err := os.ReadFile(pipelineFile)
	if err != nil {
		return fmt.Errorf("reading pipeline file: %w", err)
	}

	resp, err := http.Post(submitServer+"/pipelines", "application/x-yaml", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("submitting pipeline: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server rejected pipeline (HTTP %d): %s", resp.StatusCode, body)
	}
	fmt.Printf("submitted: %s", body)
	return nil
}
