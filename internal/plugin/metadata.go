package plugin

import (
	"encoding/json"
	"fmt"
	"os"

	"datadesk/internal/fault"
)

// MetadataFile is the file that marks a directory as a data source
// package. Directories without one are skipped by discovery.
const MetadataFile = "metadata.json"

// Metadata declares a package's display name and how its scripts are run.
type Metadata struct {
	// DisplayName is the human-readable source name shown in the console.
	DisplayName string `json:"displayName"`

	// Interpreter is the argv prefix used to run both scripts, e.g.
	// ["python3"] or ["node"]. Empty means the store's default.
	Interpreter []string `json:"interpreter,omitempty"`
}

func readMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fault.Wrap(fault.Load, err, "read package metadata")
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fault.Wrap(fault.Load, err, "parse package metadata")
	}
	return m, nil
}

func writeMetadata(path string, m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal package metadata: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o640)
}
