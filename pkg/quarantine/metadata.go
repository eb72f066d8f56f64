package quarantine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// maxMetadataDepth bounds the nesting of the free-form metadata map so
// adversarial deeply-nested payloads cannot degrade parsers downstream.
const maxMetadataDepth = 10

// Metadata is the lifecycle record persisted as a JSON sidecar next to each
// quarantined artifact.
type Metadata struct {
	State           State          `json:"state"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CorrelationID   string         `json:"correlation_id,omitempty"`
	Profile         string         `json:"profile,omitempty"`
	PendingTTLHours int            `json:"pending_ttl_hours,omitempty"`
	FailedTTLHours  int            `json:"failed_ttl_hours,omitempty"`
	Extra           map[string]any `json:"metadata,omitempty"`
}

// merge folds extra into the record's free-form map, last write wins.
func (m *Metadata) merge(extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	if m.Extra == nil {
		m.Extra = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		m.Extra[k] = v
	}
}

// validateDepth rejects metadata maps nested deeper than maxMetadataDepth.
func validateDepth(m map[string]any) error {
	return checkDepth(m, 1)
}

func checkDepth(v any, depth int) error {
	if depth > maxMetadataDepth {
		return fmt.Errorf("%w: %d levels", ErrMetadataDepthExceeded, depth)
	}
	switch val := v.(type) {
	case map[string]any:
		for _, nested := range val {
			if err := checkDepth(nested, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, nested := range val {
			if err := checkDepth(nested, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// readMetadata loads and decodes the metadata sidecar for an artifact path.
func readMetadata(artifactPath string) (*Metadata, error) {
	data, err := os.ReadFile(artifactPath + metadataSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrFailedToReadSidecar, err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToReadSidecar, err)
	}
	if !meta.State.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, meta.State)
	}

	return &meta, nil
}

// writeMetadata persists the record atomically: write to a temporary file in
// the same directory, then rename over the sidecar path. A crash leaves
// either the previous record or the new one, never a torn write.
func writeMetadata(artifactPath string, meta *Metadata) error {
	if err := validateDepth(meta.Extra); err != nil {
		return err
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToWriteSidecar, err)
	}

	target := artifactPath + metadataSuffix
	tmp, err := os.CreateTemp(filepath.Dir(target), ".meta-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToWriteSidecar, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrFailedToWriteSidecar, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrFailedToWriteSidecar, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrFailedToWriteSidecar, err)
	}

	return nil
}
