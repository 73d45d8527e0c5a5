package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// persistedSession is what survives a sidecar restart. Game sessions
// themselves do not; a reconnect always starts a new game.
type persistedSession struct {
	LastSessionID   string `json:"last_session_id,omitempty"`
	LastConnectedAt string `json:"last_connected_at,omitempty"`
	GamesCompleted  int    `json:"games_completed,omitempty"`
	BestScore       int    `json:"best_score,omitempty"`
	LastScore       int    `json:"last_score,omitempty"`
}

func loadStateFile(path string) (map[string]persistedSession, error) {
	if path == "" {
		return map[string]persistedSession{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]persistedSession{}, nil
		}
		return nil, err
	}
	var m map[string]persistedSession
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if m == nil {
		m = map[string]persistedSession{}
	}
	return m, nil
}

func writeFileAtomic(path string, b []byte) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
