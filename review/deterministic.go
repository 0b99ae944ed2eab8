package review

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DeterministicConfig configures Stage A, spec section 4.5.
type DeterministicConfig struct {
	ForbiddenPatterns []string
	MaxFileBytes      int64
}

// RunDeterministic scans the materialized bundle at root for forbidden
// patterns, oversize files, and a shallow dependency-manifest shape check,
// emitting one Finding per violation.
func RunDeterministic(root string, cfg DeterministicConfig) []Finding {
	var findings []Finding
	patterns := compilePatterns(cfg.ForbiddenPatterns)
	maxFileBytes := cfg.MaxFileBytes
	if maxFileBytes <= 0 {
		maxFileBytes = 4 << 20
	}

	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		if info.Size() > maxFileBytes {
			findings = append(findings, Finding{
				Severity: SeverityMedium,
				Code:     "oversize_file",
				Message:  fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), maxFileBytes),
				Path:     rel,
			})
		}
		if info.Mode().Perm()&0o111 != 0 && !strings.HasSuffix(rel, ".sh") {
			findings = append(findings, Finding{
				Severity: SeverityLow,
				Code:     "unexpected_executable_permission",
				Message:  "file carries an executable permission bit but is not a shell script",
				Path:     rel,
			})
		}
		if len(patterns) > 0 {
			data, readErr := os.ReadFile(path)
			if readErr == nil {
				findings = append(findings, scanForbiddenPatterns(string(data), rel, patterns)...)
			}
		}
		if strings.EqualFold(filepath.Base(rel), "package.json") {
			findings = append(findings, checkDependencyManifest(path, rel)...)
		}
		return nil
	})
	return findings
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

func scanForbiddenPatterns(content, path string, patterns []*regexp.Regexp) []Finding {
	var findings []Finding
	for _, re := range patterns {
		if re.MatchString(content) {
			findings = append(findings, Finding{
				Severity: SeverityHigh,
				Code:     "forbidden_pattern",
				Message:  fmt.Sprintf("matched forbidden pattern %q", re.String()),
				Path:     path,
			})
		}
	}
	return findings
}

// checkDependencyManifest does a shallow shape check on a package.json: its
// trimmed content must start with `{` and end with `}`; the content is not
// parsed as JSON. A malformed manifest is a medium-severity
// finding since it blocks nothing by itself but signals a broken or
// suspicious bundle.
func checkDependencyManifest(path, rel string) []Finding {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return []Finding{{
			Severity: SeverityMedium,
			Code:     "dependency_manifest_malformed",
			Message:  "package.json does not look like a JSON object",
			Path:     rel,
		}}
	}
	return nil
}
