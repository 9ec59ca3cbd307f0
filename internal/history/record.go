// Package history keeps a tamper-evident, append-only journal of stage
// outcomes. Records are hash-chained: each record's hash covers its fields
// plus the previous record's hash, so edits anywhere break verification.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Record is one journal entry for a finished stage.
type Record struct {
	Index        int      `json:"index"`
	Timestamp    string   `json:"timestamp"`
	RunID        string   `json:"runId"`
	Pipeline     string   `json:"pipeline"`
	Stage        string   `json:"stage"`
	Status       string   `json:"status"`
	LogPath      string   `json:"logPath,omitempty"`
	LogHash      string   `json:"logHash,omitempty"`
	Fingerprints []string `json:"fingerprints,omitempty"`
	PrevHash     string   `json:"prevHash"`
	Hash         string   `json:"hash"`
}

// canonicalData returns the JSON bytes used to compute the record hash.
// It intentionally excludes Hash.
func (r *Record) canonicalData() ([]byte, error) {
	view := struct {
		Index        int      `json:"index"`
		Timestamp    string   `json:"timestamp"`
		RunID        string   `json:"runId"`
		Pipeline     string   `json:"pipeline"`
		Stage        string   `json:"stage"`
		Status       string   `json:"status"`
		LogPath      string   `json:"logPath"`
		LogHash      string   `json:"logHash"`
		Fingerprints []string `json:"fingerprints"`
		PrevHash     string   `json:"prevHash"`
	}{
		Index:        r.Index,
		Timestamp:    r.Timestamp,
		RunID:        r.RunID,
		Pipeline:     r.Pipeline,
		Stage:        r.Stage,
		Status:       r.Status,
		LogPath:      r.LogPath,
		LogHash:      r.LogHash,
		Fingerprints: r.Fingerprints,
		PrevHash:     r.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA-256 over canonicalData.
func (r *Record) ComputeHash() (string, error) {
	data, err := r.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewRecord builds an unchained record with the current timestamp. Index,
// PrevHash and Hash are assigned by Journal.Append.
func NewRecord(runID, pipeline, stage, status, logPath, logHash string, fingerprints []string) *Record {
	return &Record{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		RunID:        runID,
		Pipeline:     pipeline,
		Stage:        stage,
		Status:       status,
		LogPath:      logPath,
		LogHash:      logHash,
		Fingerprints: fingerprints,
	}
}

func (r *Record) String() string {
	return fmt.Sprintf("index=%d run=%s stage=%q status=%s hash=%.16s",
		r.Index, r.RunID, r.Stage, r.Status, r.Hash)
}
