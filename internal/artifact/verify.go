package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image/png"
	"os"
)

// FileReport describes one verified screenshot
type FileReport struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	SHA256 string `json:"sha256"`
}

// Report is the outcome of Verify
type Report struct {
	Files    []FileReport `json:"files"`
	Problems []string     `json:"problems,omitempty"`
}

// OK reports whether every check passed
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

// Err folds the problems into a single error
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Problems))
	for _, p := range r.Problems {
		errs = append(errs, errors.New(p))
	}
	return fmt.Errorf("artifact verification failed: %w", errors.Join(errs...))
}

// Verify checks that every path is a non-empty PNG and that no two
// screenshots have identical content.
func Verify(paths []string) *Report {
	report := &Report{}
	seen := make(map[string]string)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			report.Problems = append(report.Problems, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		if len(data) == 0 {
			report.Problems = append(report.Problems, fmt.Sprintf("%s: empty file", path))
			continue
		}

		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			report.Problems = append(report.Problems, fmt.Sprintf("%s: not a valid png: %v", path, err))
			continue
		}

		sum := sha256.Sum256(data)
		digest := hex.EncodeToString(sum[:])
		if prev, ok := seen[digest]; ok {
			report.Problems = append(report.Problems, fmt.Sprintf("%s: identical to %s", path, prev))
		} else {
			seen[digest] = path
		}

		report.Files = append(report.Files, FileReport{
			Path:   path,
			Size:   int64(len(data)),
			Width:  cfg.Width,
			Height: cfg.Height,
			SHA256: digest,
		})
	}

	return report
}
