// Package scan talks to a mobile-security-analysis service over REST:
// upload a binary, trigger a scan, and fetch the PDF report. The PDF step is
// best-effort for callers; upload and scan are not, since without the upload
// hash no downstream call is possible.
package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// ErrExternalService marks a malformed or unusable response from the
// analysis service.
var ErrExternalService = errors.New("external service error")

// Client is a thin REST client for the analysis service. Every call carries
// the API key; the key itself is opaque secret material injected by the
// caller.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Logger  *slog.Logger
}

// NewClient builds a client with a generous default timeout; uploads of
// large binaries are slow.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
		Logger:  logger,
	}
}

// UploadResult is the service's answer to an upload. The hash keys every
// downstream call.
type UploadResult struct {
	Hash     string `json:"hash"`
	FileName string `json:"file_name"`
	ScanType string `json:"scan_type"`
}

// Upload posts the file as multipart form data and returns the scan handle.
// A response without a hash is fatal: nothing downstream can run.
func (c *Client) Upload(ctx context.Context, path string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, errors.Wrap(err, "building upload form")
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "finalizing upload form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "upload request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrExternalService, "upload returned HTTP %d", resp.StatusCode)
	}
	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrapf(ErrExternalService, "decoding upload response: %v", err)
	}
	if result.Hash == "" {
		return nil, errors.Wrap(ErrExternalService, "upload response carries no hash")
	}
	return &result, nil
}

// Scan triggers analysis of a previously uploaded file and returns the raw
// scan result. The content is never interpreted here beyond being valid JSON.
func (c *Client) Scan(ctx context.Context, scanType, hash string) (json.RawMessage, error) {
	payload := map[string]string{"scan_type": scanType, "hash": hash}
	resp, err := c.postJSON(ctx, "/api/v1/scan", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrExternalService, "scan returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading scan response")
	}
	if !json.Valid(data) {
		return nil, errors.Wrap(ErrExternalService, "scan response is not valid JSON")
	}
	return data, nil
}

// DownloadPDF fetches the rendered report into dest. Callers treat a failure
// here as best-effort: logged, never fatal.
func (c *Client) DownloadPDF(ctx context.Context, hash, dest string) error {
	resp, err := c.postJSON(ctx, "/api/v1/download_pdf", map[string]string{"hash": hash})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrExternalService, "download_pdf returned HTTP %d", resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o775); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(dest))
	}
	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "creating %s", dest)
	}
	_, err = io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "writing %s", dest)
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s request", path)
	}
	return resp, nil
}
