package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"govagent/review"
)

// Manifest is the required manifest.json shape from spec section 4.4.
type Manifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Entry   string `json:"entry"`
}

// Bundle is a materialized dapp bundle on local disk.
type Bundle struct {
	RootCID  string
	Path     string
	Manifest Manifest
	Files    []string
}

// loadManifest reads and validates manifest.json at the bundle root.
// Validation failures return a Finding rather than an error, per spec
// section 4.4 ("any failure is a blocking finding, not a crash").
func loadManifest(root string) (Manifest, *review.Finding) {
	data, err := os.ReadFile(filepath.Join(root, "manifest.json"))
	if err != nil {
		return Manifest{}, &review.Finding{
			Severity: review.SeverityBlocking,
			Code:     "manifest_missing",
			Message:  fmt.Sprintf("manifest.json not found at bundle root: %v", err),
		}
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, &review.Finding{
			Severity: review.SeverityBlocking,
			Code:     "manifest_invalid",
			Message:  fmt.Sprintf("manifest.json did not parse as an object: %v", err),
		}
	}
	if manifest.Name == "" || manifest.Version == "" || manifest.Entry == "" {
		return Manifest{}, &review.Finding{
			Severity: review.SeverityBlocking,
			Code:     "manifest_incomplete",
			Message:  "manifest.json missing one of the required fields: name, version, entry",
		}
	}
	return manifest, nil
}
