package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pipeweld/internal/scan"
)

var (
	scanServer    string
	scanAPIKeyEnv string
	scanType      string
	scanOut       string
	scanPDFOut    string
)

var scanCmd = &cobra.Command{
	Use:   "scan <file>",
	Short: "Upload a binary to the mobile-security-analysis service and fetch results",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanServer, "server", "http://localhost:8000", "analysis service base URL")
	scanCmd.Flags().StringVar(&scanAPIKeyEnv, "api-key-env", "MOBSF_API_KEY", "environment variable holding the API key")
	scanCmd.Flags().StringVar(&scanType, "scan-type", "apk", "scan type to request")
	scanCmd.Flags().StringVar(&scanOut, "out", "", "write the JSON scan result here (default: stdout)")
	scanCmd.Flags().StringVar(&scanPDFOut, "pdf-out", "", "also fetch the PDF report to this path (best-effort)")
}

func runScan(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	apiKey := os.Getenv(scanAPIKeyEnv)
	if apiKey == "" {
		return fmt.Errorf("no API key in $%s", scanAPIKeyEnv)
	}

	client := scan.NewClient(scanServer, apiKey, logger)
	ctx := cmd.Context()

	upload, err := client.Upload(ctx, args[0])
	if err != nil {
		return err
	}
	logger.Info("uploaded", "file", args[0], "hash", upload.Hash)

	result, err := client.Scan(ctx, scanType, upload.Hash)
	if err != nil {
		return err
	}
	if scanOut != "" {
		if err := os.WriteFile(scanOut, result, 0o644); err != nil {
			return fmt.Errorf("writing scan result: %w", err)
		}
	} else {
		fmt.Println(string(result))
	}

	// The rendered PDF is a nice-to-have; a failure here never fails the scan.
	if scanPDFOut != "" {
		if err := client.DownloadPDF(ctx, upload.Hash, scanPDFOut); err != nil {
			logger.Warn("pdf report unavailable", "error", err)
		} else {
			logger.Info("pdf report saved", "path", scanPDFOut)
		}
	}
	return nil
}
