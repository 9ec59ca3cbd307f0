package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Journal is an append-only JSONL file of hash-chained records.
type Journal struct {
	mu      sync.Mutex
	records []*Record
	path    string
}

// Open loads an existing journal file or starts an empty one.
// File format: JSON lines, one record per line.
func Open(path string) (*Journal, error) {
	j := &Journal{
		records: make([]*Record, 0),
		path:    path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return j, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return j, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decoding journal entry: %w", err)
		}
		j.records = append(j.records, &rec)
	}
	return j, nil
}

// Append chains the record onto the journal, persists it and keeps it in
// memory. Index, PrevHash and Hash are assigned here.
func (j *Journal) Append(rec *Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec.Index = len(j.records)
	rec.PrevHash = ""
	if len(j.records) > 0 {
		rec.PrevHash = j.records[len(j.records)-1].Hash
	}

	h, err := rec.ComputeHash()
	if err != nil {
		return fmt.Errorf("computing record hash: %w", err)
	}
	rec.Hash = h

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("writing journal file: %w", err)
	}

	j.records = append(j.records, rec)
	return nil
}

// Verify recomputes each record hash and chain link to detect tampering.
func (j *Journal) Verify() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i, rec := range j.records {
		h, err := rec.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", rec.Index, err)
		}
		if h != rec.Hash {
			return fmt.Errorf("hash mismatch at index %d", rec.Index)
		}
		if i > 0 && rec.PrevHash != j.records[i-1].Hash {
			return fmt.Errorf("prev hash mismatch at index %d", rec.Index)
		}
		if rec.Index != i {
			return fmt.Errorf("index mismatch: expected %d got %d", i, rec.Index)
		}
	}
	return nil
}

// Records returns the in-memory record list.
func (j *Journal) Records() []*Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records
}

// LastHash returns the newest record hash, or empty when the journal is new.
func (j *Journal) LastHash() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.records) == 0 {
		return ""
	}
	return j.records[len(j.records)-1].Hash
}
