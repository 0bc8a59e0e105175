package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantlayer/finsight/pkg/cache"
)

const historyLimit = 100

// SaveSession writes the context to <dir>/<session>.json. Callers treat
// failures as warnings; persistence is best-effort.
func SaveSession(dir string, c *SharedContext) error {
	if c.SessionID == "" {
		return fmt.Errorf("context has no session id")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	path := filepath.Join(dir, c.SessionID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// LoadSession reads a previously saved context.
func LoadSession(dir, sessionID string) (*SharedContext, error) {
	path := filepath.Join(dir, sessionID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var c SharedContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	ensureMaps(&c)
	return &c, nil
}

// SaveQueryHistory writes a session's query history ring to
// <dir>/<session>_history.json, keeping the newest hundred entries.
// Records without embeddings are dropped.
func SaveQueryHistory(dir, sessionID string, records []cache.QueryRecord) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}

	var kept []cache.QueryRecord
	for _, record := range records {
		if len(record.Embedding) > 0 {
			kept = append(kept, record)
		}
	}
	if len(kept) > historyLimit {
		kept = kept[len(kept)-historyLimit:]
	}

	data, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	path := filepath.Join(dir, sessionID+"_history.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// LoadQueryHistory reads a session's query history. A missing file
// yields an empty history.
func LoadQueryHistory(dir, sessionID string) ([]cache.QueryRecord, error) {
	path := filepath.Join(dir, sessionID+"_history.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	var records []cache.QueryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return records, nil
}
