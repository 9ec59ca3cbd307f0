// Package artifact copies matched stage outputs into a report directory,
// optionally fingerprinting them for traceability.
package artifact

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"pipeweld/pkg/utils"
)

// ErrNoArtifactsFound marks a collection whose glob matched nothing while
// allowEmpty was off.
var ErrNoArtifactsFound = errors.New("no artifacts matched")

// Artifact references one collected file.
type Artifact struct {
	Source      string `json:"source"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Options tune a single collection.
type Options struct {
	// Fingerprint records a SHA-256 digest per collected file.
	Fingerprint bool
	// AllowEmpty turns a zero-match glob into an empty result instead of
	// ErrNoArtifactsFound.
	AllowEmpty bool
}

// Collect copies every file matching pattern into destDir. The destination
// directory is created as needed; callers never pre-validate it. Directories
// matched by the glob are skipped. Namespacing collections per run is the
// caller's job: Collect only ever writes inside destDir.
func Collect(pattern, destDir string, opts Options) ([]Artifact, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "bad artifact pattern %q", pattern)
	}

	files := matches[:0]
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, m)
	}

	if len(files) == 0 {
		if opts.AllowEmpty {
			return []Artifact{}, nil
		}
		return nil, errors.Wrapf(ErrNoArtifactsFound, "pattern %q", pattern)
	}

	if err := os.MkdirAll(destDir, 0o775); err != nil {
		return nil, errors.Wrapf(err, "creating %s", destDir)
	}

	collected := make([]Artifact, 0, len(files))
	for _, src := range files {
		dst := filepath.Join(destDir, filepath.Base(src))
		size, err := copyFile(src, dst)
		if err != nil {
			return collected, errors.Wrapf(err, "copying %s", src)
		}
		a := Artifact{Source: src, Path: dst, Size: size}
		if opts.Fingerprint {
			sum, err := utils.HashFile(dst)
			if err != nil {
				return collected, errors.Wrapf(err, "fingerprinting %s", dst)
			}
			a.Fingerprint = sum
		}
		collected = append(collected, a)
	}
	return collected, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
