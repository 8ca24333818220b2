package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
)

// Store writes canonical artifacts and maintains entity views and the
// registry. Writes take an advisory lock on the target so concurrent
// investigations over the same entity never interleave file contents.
type Store struct {
	ws       *Workspace
	registry *Registry
	logger   *slog.Logger
}

// NewStore creates an artifact store. The registry may be nil, in which
// case artifacts are written but not indexed.
func NewStore(ws *Workspace, registry *Registry) *Store {
	return &Store{
		ws:       ws,
		registry: registry,
		logger:   slog.Default().With("component", "artifact_store"),
	}
}

// Workspace exposes the path resolver.
func (s *Store) Workspace() *Workspace { return s.ws }

// WriteCanonical marshals payload as indented JSON into the canonical
// artifact path and indexes it. The canonical write happens before any
// view exists, so views can never dangle.
func (s *Store) WriteCanonical(ctx context.Context, artifactType string, inv *models.Investigation, payload any) (string, error) {
	path := s.ws.CanonicalPath(artifactType, inv.ID, inv.Window, inv.CreatedAt)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "failed to create artifact dir for %s", inv.ID)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "failed to marshal %s artifact", artifactType)
	}

	if err := lockedWrite(path, buf.Bytes()); err != nil {
		return "", err
	}

	if s.registry != nil {
		if err := s.registry.RecordArtifact(ctx, Record{
			Path:            path,
			Type:            artifactType,
			InvestigationID: inv.ID,
			CreatedAt:       time.Now().UTC(),
		}); err != nil {
			// Registry lag is recoverable by a rescan; the artifact is
			// already durable.
			s.logger.Warn("failed to index artifact", "path", path, "error", err)
		}
	}

	s.logger.Debug("artifact written", "type", artifactType, "path", path)
	return path, nil
}

// WriteComparison marshals a window-comparison report as indented JSON
// under the comparisons tree, indexes it, and renders the HTML
// companion next to it.
func (s *Store) WriteComparison(ctx context.Context, id string, windowA, windowB models.Window, report any) (string, error) {
	path := s.ws.ComparisonPath(id, windowA, windowB, time.Now().UTC())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "failed to create comparison dir for %s", id)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "failed to marshal comparison %s", id)
	}

	if err := lockedWrite(path, buf.Bytes()); err != nil {
		return "", err
	}

	if s.registry != nil {
		if err := s.registry.RecordArtifact(ctx, Record{
			Path:            path,
			Type:            "comparison",
			InvestigationID: id,
			CreatedAt:       time.Now().UTC(),
		}); err != nil {
			s.logger.Warn("failed to index comparison", "path", path, "error", err)
		}
	}

	if _, err := s.writeComparisonHTML(filepath.Dir(path), id, report); err != nil {
		// The JSON artifact is the record; a failed render only costs
		// the human-readable view.
		s.logger.Warn("failed to render comparison html", "id", id, "error", err)
	}

	s.logger.Debug("comparison written", "id", id, "path", path)
	return path, nil
}

// LinkEntityViews creates one symlink per investigated entity pointing
// at the canonical artifact. The canonical file must already exist.
func (s *Store) LinkEntityViews(ctx context.Context, inv *models.Investigation, canonicalPath string) error {
	if _, err := os.Stat(canonicalPath); err != nil {
		return errors.Wrapf(err, errors.KindInternal,
			"canonical artifact missing; refusing to link views for %s", inv.ID)
	}

	for _, entity := range inv.Entities {
		viewPath := s.ws.EntityViewPath(entity, inv.ID, inv.CreatedAt)
		if err := os.MkdirAll(filepath.Dir(viewPath), 0o755); err != nil {
			return errors.Wrapf(err, errors.KindInternal,
				"failed to create entity view dir for %s", entity.NormalizedValue)
		}

		target, err := filepath.Rel(filepath.Dir(viewPath), canonicalPath)
		if err != nil {
			target = canonicalPath
		}

		// Replace-on-rerun: a rerun of the same investigation repoints
		// the view rather than erroring.
		_ = os.Remove(viewPath)
		if err := os.Symlink(target, viewPath); err != nil {
			return errors.Wrapf(err, errors.KindInternal,
				"failed to link entity view for %s", entity.NormalizedValue)
		}

		if s.registry != nil {
			if err := s.registry.RecordView(ctx, ViewRecord{
				Path:            viewPath,
				EntityType:      string(entity.Type),
				EntityID:        entity.NormalizedValue,
				InvestigationID: inv.ID,
				CreatedAt:       time.Now().UTC(),
			}); err != nil {
				s.logger.Warn("failed to index entity view", "path", viewPath, "error", err)
			}
		}
	}
	return nil
}

// ReadCanonical loads and unmarshals an artifact file.
func (s *Store) ReadCanonical(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to read artifact %s", path)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, errors.KindInvalidFormat, "artifact %s is not valid JSON", path)
	}
	return nil
}

// lockedWrite writes the file under an advisory flock. Readers that
// honor the lock see either the old content or the new, never a torn
// write.
func lockedWrite(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to open artifact %s", path)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to lock artifact %s", path)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := f.Truncate(0); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to truncate artifact %s", path)
	}
	if _, err := f.Write(data); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to write artifact %s", path)
	}
	return f.Sync()
}
