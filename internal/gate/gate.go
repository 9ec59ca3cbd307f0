// Package gate blocks a pipeline on an external analysis service verdict.
// The service is polled until it reports a decision or the gate's own
// sub-timeout elapses; both negative outcomes are pipeline-fatal.
package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrRejected marks a negative quality-gate verdict.
	ErrRejected = errors.New("quality gate rejected")
	// ErrTimeout marks a gate that produced no verdict within its window.
	ErrTimeout = errors.New("quality gate timed out")
)

const (
	defaultTimeout  = 5 * time.Minute
	defaultInterval = 2 * time.Second
	maxInterval     = 30 * time.Second
)

// verdict is the service's poll response. Anything but a terminal status
// means the analysis is still running.
type verdict struct {
	Status string `json:"status"`
}

// Client polls one quality-gate endpoint.
type Client struct {
	URL      string
	Token    string
	Timeout  time.Duration
	Interval time.Duration
	HTTP     *http.Client
	Logger   *slog.Logger
}

// Wait blocks until the gate passes, fails, or the sub-timeout elapses.
// A nil return means the gate passed. Transient transport errors are
// retried until the window closes.
func (c *Client) Wait(ctx context.Context) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	interval := c.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		status, err := c.poll(ctx, client)
		if err == nil {
			switch status {
			case "OK", "PASSED", "SUCCESS":
				return nil
			case "ERROR", "FAILED", "REJECTED":
				return errors.Wrapf(ErrRejected, "gate %s returned %s", c.URL, status)
			}
			// still pending
		} else if c.Logger != nil {
			c.Logger.Debug("gate poll failed, retrying", "url", c.URL, "error", err)
		}

		select {
		case <-ctx.Done():
			// An external cancellation is not a gate timeout; report it as
			// the caller's own error.
			if err := parent.Err(); err != nil {
				return err
			}
			return errors.Wrapf(ErrTimeout, "gate %s after %s", c.URL, timeout)
		case <-time.After(interval):
		}
		// Back off between polls, capped.
		if interval < maxInterval {
			interval *= 2
		}
	}
}

func (c *Client) poll(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("gate returned HTTP %d", resp.StatusCode)
	}
	var v verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", errors.Wrap(err, "decoding gate verdict")
	}
	return v.Status, nil
}
