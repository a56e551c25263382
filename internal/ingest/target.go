// Package ingest holds the pieces of the message-ingestion boundary this
// process owns: the persisted resolved-channel identifier and the
// forwarder that posts extraction payloads to the intake endpoint. The
// messaging transport itself (session, login, channel discovery protocol)
// lives in the external collaborator.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rashidq/alpaca-signals/internal/observ"
)

const targetFileName = "target.chatid"

// TargetStore persists the resolved channel id under the session
// directory so discovery only ever has to run once.
type TargetStore struct {
	dir string
}

func NewTargetStore(sessionDir string) *TargetStore {
	return &TargetStore{dir: sessionDir}
}

func (t *TargetStore) path() string { return filepath.Join(t.dir, targetFileName) }

// Resolve picks the channel id by priority: an explicit numeric target,
// then the saved file. id 0 with nil error means discovery mode: the
// caller should call Persist with the first channel id it observes.
func (t *TargetStore) Resolve(target string) (int64, error) {
	target = strings.TrimSpace(target)
	if target != "" && !strings.EqualFold(target, "auto") {
		id, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("ingest: target %q is not a chat id", target)
		}
		return id, nil
	}

	b, err := os.ReadFile(t.path())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil // discovery mode
		}
		return 0, fmt.Errorf("ingest: read target file: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, nil // unreadable saved id, fall back to discovery
	}
	observ.Log("target_loaded", map[string]any{"chat_id": id, "path": t.path()})
	return id, nil
}

// Persist records a discovered channel id for future runs.
func (t *TargetStore) Persist(id int64) error {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("ingest: create session dir: %w", err)
	}
	if err := os.WriteFile(t.path(), []byte(strconv.FormatInt(id, 10)), 0o644); err != nil {
		return fmt.Errorf("ingest: save target: %w", err)
	}
	observ.Log("target_persisted", map[string]any{"chat_id": id, "path": t.path()})
	return nil
}
