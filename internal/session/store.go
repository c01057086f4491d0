package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codelet-dev/codelet/internal/persist"
	"github.com/codelet-dev/codelet/internal/telemetry"
)

// Store keeps session manifests and their blobs on disk.
//
// Layout under the data dir (default ~/.codelet, override CODELET_DATA_DIR):
//   - sessions/{uuid}.json - one manifest record per session
//   - blobs/{hh}/{hash}    - content-addressed blob objects
//
// A manifest on disk is immutable until the next full rewrite; Save commits
// with write-then-rename so a reader never sees a half-written session.
type Store struct {
	dir   string
	blobs *persist.BlobStore
	codec *persist.EnvelopeCodec
}

// DataDir resolves the persistence root from CODELET_DATA_DIR, falling back
// to ~/.codelet.
func DataDir() (string, error) {
	if dir := os.Getenv("CODELET_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".codelet"), nil
}

// Open prepares a store rooted at dataDir, creating the layout if needed.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	blobs, err := persist.NewBlobStore(filepath.Join(dataDir, "blobs"))
	if err != nil {
		return nil, err
	}
	return &Store{
		dir:   dataDir,
		blobs: blobs,
		codec: &persist.EnvelopeCodec{Blobs: blobs},
	}, nil
}

// Blobs exposes the shared blob store.
func (s *Store) Blobs() *persist.BlobStore { return s.blobs }

// Codec exposes the envelope codec bound to this store's blobs.
func (s *Store) Codec() *persist.EnvelopeCodec { return s.codec }

// Save serializes m and commits it atomically. On failure the previously
// saved record (if any) is left intact.
func (s *Store) Save(m *Manifest) error {
	data, err := m.Serialize(s.codec)
	if err != nil {
		return err
	}

	path := s.manifestPath(m.ID)
	tmp, err := os.CreateTemp(filepath.Dir(path), m.ID.String()+".*.tmp")
	if err != nil {
		return fmt.Errorf("create session temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session %s: %w", m.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync session %s: %w", m.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close session %s: %w", m.ID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit session %s: %w", m.ID, err)
	}

	telemetry.Emit("session_saved", map[string]any{
		"session_id": m.ID.String(),
		"messages":   len(m.Envelopes),
		"bytes":      len(data),
	})
	return nil
}

// Load restores the session stored under id.
func (s *Store) Load(id uuid.UUID) (*SessionState, error) {
	data, err := os.ReadFile(s.manifestPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	state, err := Restore(data, s.codec)
	if err != nil {
		return nil, err
	}
	telemetry.Emit("session_restored", map[string]any{
		"session_id": id.String(),
		"messages":   len(state.Manifest.Envelopes),
		"turns":      len(state.Turns),
	})
	return state, nil
}

// Summary is the listing view of a stored session; the envelopes stay on
// disk until a full Load.
type Summary struct {
	ID       uuid.UUID
	Name     string
	Project  string
	Provider string
	Updated  time.Time
	Messages int
}

// List returns summaries of all stored sessions for project (all projects
// when project is empty), newest first.
func (s *Store) List(project string) ([]Summary, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, "sessions", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read session file %s: %w", e.Name(), err)
		}
		p, err := parseManifest(data)
		if err != nil {
			return nil, err
		}
		if project != "" && p.Project != project {
			continue
		}
		out = append(out, Summary{
			ID:       p.ID,
			Name:     p.Name,
			Project:  p.Project,
			Provider: p.Provider,
			Updated:  p.UpdatedAt,
			Messages: len(p.Messages),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	return out, nil
}

// ResumeLast restores the most recently updated session for project.
// ok is false when the project has no stored sessions.
func (s *Store) ResumeLast(project string) (*SessionState, bool, error) {
	summaries, err := s.List(project)
	if err != nil {
		return nil, false, err
	}
	if len(summaries) == 0 {
		return nil, false, nil
	}
	state, err := s.Load(summaries[0].ID)
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// Rename updates a stored session's name in place.
func (s *Store) Rename(id uuid.UUID, name string) error {
	state, err := s.Load(id)
	if err != nil {
		return err
	}
	state.Manifest.Name = name
	return s.Save(state.Manifest)
}

// Delete removes a session manifest. Blobs are shared across sessions and
// are deliberately left alone; reclaiming them is an external concern.
func (s *Store) Delete(id uuid.UUID) error {
	if err := os.Remove(s.manifestPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("session %s not found", id)
		}
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *Store) manifestPath(id uuid.UUID) string {
	return filepath.Join(s.dir, "sessions", id.String()+".json")
}
