package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBaseDir is where backup artifacts land, relative to the working
// directory the operator ran kdebug from.
const DefaultBaseDir = "./backups"

// timestampLayout gives second-granularity, filename-safe timestamps.
const timestampLayout = "2006-01-02_15-04-05"

// createArtifact opens the local artifact file at
// {baseDir}/{namespace}/{timestamp}_{pod}{ext}, created exclusively so two
// invocations against the same pod in the same second can never overwrite
// one another. On collision a numeric suffix is inserted before the
// extension and the open retried.
func createArtifact(baseDir, namespace, pod string, now time.Time, ext string) (*os.File, string, error) {
	name := fmt.Sprintf("%s_%s%s", now.Format(timestampLayout), pod, ext)
	candidate := filepath.Join(baseDir, namespace, name)
	stem := strings.TrimSuffix(candidate, ext)

	for n := 1; ; n++ {
		file, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return file, candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("failed to create local artifact: %w", err)
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
}
