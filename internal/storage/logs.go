// Package storage lays out the per-run directory tree: captured stage logs
// under logs/, collected reports under reports/, pruned by retention count.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// LogStore manages run directories under a base dir. Every run is
// namespaced by its run identifier, so concurrent runs never collide.
type LogStore struct {
	BaseDir string
}

// NewLogStore creates a store rooted at baseDir.
func NewLogStore(baseDir string) *LogStore {
	return &LogStore{BaseDir: baseDir}
}

// RunDir returns the directory for one run.
func (ls *LogStore) RunDir(runID string) string {
	return filepath.Join(ls.BaseDir, runID)
}

// ReportsDir returns the report root for one run. Per-tool subdirectories
// hang off it (dependency-check/, gitleaks/, tests/, ...).
func (ls *LogStore) ReportsDir(runID string) string {
	return filepath.Join(ls.RunDir(runID), "reports")
}

// SaveStageLog writes the captured output of one stage.
func (ls *LogStore) SaveStageLog(runID, stage string, output []byte) (string, error) {
	dir := filepath.Join(ls.RunDir(runID), "logs")
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return "", err
	}

	// Filename with timestamp for uniqueness across retries
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.log", sanitize(stage), timestamp)
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, output, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Prune deletes the oldest run directories beyond keep. A keep of zero or
// less disables pruning.
func (ls *LogStore) Prune(keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(ls.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type runDir struct {
		name string
		mod  time.Time
	}
	dirs := make([]runDir, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, runDir{name: e.Name(), mod: info.ModTime()})
	}
	if len(dirs) <= keep {
		return nil
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mod.Before(dirs[j].mod) })
	for _, d := range dirs[:len(dirs)-keep] {
		if err := os.RemoveAll(filepath.Join(ls.BaseDir, d.name)); err != nil {
			return err
		}
	}
	return nil
}

// sanitize removes special characters from stage names for filenames.
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9', r == '-', r == '_':
			clean = append(clean, r)
		case r == ' ':
			clean = append(clean, '-')
		}
	}
	if len(clean) == 0 {
		return "stage"
	}
	return string(clean)
}
