package bundle

import (
	"fmt"
	"os"
	"path/filepath"

	"govagent/review"
)

// validateBundle re-checks the size/file-count/symlink invariants from disk
// after extraction, independent of the limits already enforced while the
// tar stream was being written — defense in depth against any path that
// bypasses extractTar. Fetch also runs it on a cache hit, so a cached bundle
// written by an older build or another tool with looser limits is fetched
// again rather than used.
func validateBundle(root string, maxBytes int64, maxFiles int) []review.Finding {
	var findings []review.Finding
	var totalBytes int64
	var fileCount int

	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.Mode()&os.ModeSymlink != 0 {
			findings = append(findings, review.Finding{
				Severity: review.SeverityBlocking,
				Code:     "symlink_present",
				Message:  "bundle contains a symbolic link",
				Path:     relOrAbs(root, path),
			})
			return nil
		}
		if info.IsDir() {
			return nil
		}
		fileCount++
		totalBytes += info.Size()
		return nil
	})
	if err != nil {
		findings = append(findings, review.Finding{
			Severity: review.SeverityBlocking,
			Code:     "bundle_unreadable",
			Message:  fmt.Sprintf("walking materialized bundle failed: %v", err),
		})
		return findings
	}

	if maxBytes > 0 && totalBytes > maxBytes {
		findings = append(findings, review.Finding{
			Severity: review.SeverityBlocking,
			Code:     "bundle_too_large",
			Message:  fmt.Sprintf("bundle is %d bytes, limit is %d", totalBytes, maxBytes),
		})
	}
	if maxFiles > 0 && fileCount > maxFiles {
		findings = append(findings, review.Finding{
			Severity: review.SeverityBlocking,
			Code:     "bundle_too_many_files",
			Message:  fmt.Sprintf("bundle has %d files, limit is %d", fileCount, maxFiles),
		})
	}
	return findings
}

func relOrAbs(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}
