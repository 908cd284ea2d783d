package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

const snapshotVersion = 1

// Snapshot es la foto serializable del conjunto de páginas en memoria.
type Snapshot struct {
	Version  int                      `json:"version"`
	SavedAt  time.Time                `json:"saved_at"`
	Sessions map[string][]domain.Page `json:"sessions"`
}

func (c *MessageCache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Version:  snapshotVersion,
		SavedAt:  time.Now().UTC(),
		Sessions: make(map[string][]domain.Page, len(c.sessions)),
	}
	for id, state := range c.sessions {
		if len(state.pages) > 0 {
			snap.Sessions[id] = clonePages(state.pages)
		}
	}
	return snap
}

// Restore reemplaza las conversaciones presentes en snap; las demás quedan
// igual. La primera LoadFirstPage de una conversación restaurada conserva sus
// páginas si el store local no tiene mensajes nuevos para ella.
func (c *MessageCache) Restore(snap Snapshot) error {
	if snap.Version != snapshotVersion {
		return fmt.Errorf("restore snapshot: unsupported version %d", snap.Version)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, pages := range snap.Sessions {
		state := c.state(id)
		state.pages = clonePages(pages)
		state.restored = true
		c.gens[id]++
	}
	return nil
}

// SaveSnapshot escribe a un archivo temporal y lo renombra.
func SaveSnapshot(path string, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot devuelve ok=false si el archivo no existe.
func LoadSnapshot(path string) (Snapshot, bool, error) {
	payload, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}
