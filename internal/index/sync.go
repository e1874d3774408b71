package index

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/parser"
	"github.com/starford/kodebase/internal/storage"
)

// readMaxElapsed bounds how long a record that fails to parse is re-read.
// Editors that write in place can expose a half-written file for a moment.
const readMaxElapsed = time.Second

// Sync walks the artifacts root and brings the index up to date:
//   - new/changed records are parsed and upserted
//   - records removed from disk are deleted from the index
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}
		if _, err := indexPath(db, store, m.Path); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if _, err := db.DeleteByPath(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// indexPath reads and parses the record at path, retrying briefly while the
// file does not parse, and upserts it. It returns the artifact id.
func indexPath(db *DB, store storage.Provider, path string) (string, error) {
	var data []byte
	var a *artifact.Artifact

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxElapsedTime = readMaxElapsed
	err := backoff.Retry(func() error {
		var err error
		data, err = store.Read(path)
		if errors.Is(err, fs.ErrNotExist) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		a, err = parser.Parse(data)
		return err
	}, bo)
	if err != nil {
		return "", err
	}
	if err := indexArtifact(db, path, data, a); err != nil {
		return "", err
	}
	return a.ID, nil
}

// indexArtifact upserts a parsed record. The id must match the file name.
func indexArtifact(db *DB, path string, data []byte, a *artifact.Artifact) error {
	if id, ok := artifact.IDFromFileName(filepath.Base(path)); !ok || id != a.ID {
		return fmt.Errorf("index: %s does not hold artifact %q", path, a.ID)
	}
	row := ArtifactRow{
		ID:        a.ID,
		Path:      filepath.ToSlash(path),
		Title:     a.Metadata.Title,
		State:     string(a.CurrentState()),
		Priority:  string(a.Metadata.Priority),
		Assignee:  a.Metadata.Assignee,
		Checksum:  storage.Checksum(data),
		UpdatedAt: time.Now().UTC(),
	}
	if t, err := artifact.TypeOf(a.ID); err == nil {
		row.Type = string(t)
	}
	if ev := a.LatestEvent(a.CurrentState()); ev != nil {
		if ts, err := time.Parse(artifact.TimestampLayout, ev.Timestamp); err == nil {
			row.UpdatedAt = ts
		}
	}
	return db.UpsertArtifact(row, parser.SearchText(a), a.Metadata.Relationships.BlockedBy)
}
