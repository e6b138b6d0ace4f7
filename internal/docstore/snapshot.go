package docstore

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/docquery-dev/docquery/internal/chunker"
)

var errSnapshotMissing = errors.New("snapshot not found")

// Snapshots persists ingested documents on disk so a restart can restore
// them without calling the embedding backend again. One gob file per
// document and config fingerprint.
type Snapshots struct {
	dir string
}

// snapshotFile is the on-disk representation of a resident document.
type snapshotFile struct {
	DocumentID  string
	Fingerprint string
	Chunks      []chunker.Chunk
	Vectors     [][]float32
	IngestedAt  time.Time
}

// NewSnapshots creates the snapshot directory if needed.
func NewSnapshots(dir string) (*Snapshots, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Snapshots{dir: dir}, nil
}

func (s *Snapshots) path(documentID, fingerprint string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.gob", documentID, fingerprint))
}

// Save writes a resident and its vectors. The write goes through a temp
// file and rename so readers never see a partial snapshot.
func (s *Snapshots) Save(r *Resident, vectors [][]float32) error {
	snap := snapshotFile{
		DocumentID:  r.DocumentID,
		Fingerprint: r.Fingerprint,
		Chunks:      r.Chunks,
		Vectors:     vectors,
		IngestedAt:  r.IngestedAt,
	}

	target := s.path(r.DocumentID, r.Fingerprint)
	tmp, err := os.CreateTemp(s.dir, "snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot for a document and config fingerprint. Returns
// errSnapshotMissing when none exists.
func (s *Snapshots) Load(documentID, fingerprint string) (*snapshotFile, error) {
	f, err := os.Open(s.path(documentID, fingerprint))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errSnapshotMissing
		}
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshotFile
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.DocumentID != documentID || snap.Fingerprint != fingerprint {
		return nil, fmt.Errorf("snapshot identity mismatch: holds %s-%s", snap.DocumentID, snap.Fingerprint)
	}
	if len(snap.Vectors) != len(snap.Chunks) {
		return nil, fmt.Errorf("snapshot corrupt: %d vectors for %d chunks",
			len(snap.Vectors), len(snap.Chunks))
	}
	return &snap, nil
}

// Prune removes snapshots whose fingerprint differs from the given one,
// freeing disk for config generations that can no longer be restored.
func (s *Snapshots) Prune(fingerprint string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	suffix := fmt.Sprintf("-%s.gob", fingerprint)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".gob" {
			continue
		}
		if len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return err
		}
	}
	return nil
}
