package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

// ArtifactPrefix is the file name prefix workers use for job result files.
const ArtifactPrefix = "job-"

// ArtifactName returns the result file name for a job.
func ArtifactName(jobID uuid.UUID, label, ext string) string {
	if label == "" {
		return fmt.Sprintf("%s%s%s", ArtifactPrefix, jobID, ext)
	}
	return fmt.Sprintf("%s%s-%s%s", ArtifactPrefix, jobID, label, ext)
}

// FindRegularFiles expands doublestar patterns and keeps regular files only.
// Directories and symlinks are skipped.
func FindRegularFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, err
		}
		for _, name := range matches {
			info, err := os.Lstat(name)
			if err != nil {
				continue
			}
			if info.Mode().IsRegular() {
				files = append(files, name)
			}
		}
	}
	return files, nil
}

// FindJobArtifact searches resultsDir recursively for the newest result file
// of jobID.
func FindJobArtifact(resultsDir string, jobID uuid.UUID) (string, error) {
	if resultsDir == "" {
		return "", ErrResultNotFound
	}
	pattern := filepath.Join(escapeGlobMeta(resultsDir), "**", ArtifactPrefix+jobID.String()+"*")
	files, err := FindRegularFiles([]string{pattern})
	if err != nil {
		return "", fmt.Errorf("search results: %w", err)
	}
	if len(files) == 0 {
		return "", ErrResultNotFound
	}
	sort.Slice(files, func(i, j int) bool {
		return modTime(files[i]) > modTime(files[j])
	})
	return files[0], nil
}

// escapeGlobMeta backslash-escapes glob metacharacters so dir matches
// literally as a pattern prefix.
func escapeGlobMeta(dir string) string {
	var b strings.Builder
	for _, r := range dir {
		if strings.ContainsRune(`*?[]{}\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func modTime(name string) int64 {
	info, err := os.Stat(name)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}
