// Package artifacts owns the on-disk workspace: canonical artifact
// files under the investigation folder, per-entity symlink views, and
// the sqlite registry that indexes both. The canonical file is the
// single source of truth; entity views are never regular files.
package artifacts

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fraudlens/fraudlens/internal/models"
)

// Workspace resolves every path under the workspace root. All layout
// decisions live here so the rest of the system never concatenates
// paths by hand.
type Workspace struct {
	root string
}

// NewWorkspace creates a resolver rooted at root.
func NewWorkspace(root string) *Workspace {
	return &Workspace{root: root}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// InvestigationDir is the canonical per-investigation folder, sharded
// by the investigation's creation year and month.
func (w *Workspace) InvestigationDir(id string, createdAt time.Time) string {
	return filepath.Join(w.root, "investigations",
		createdAt.Format("2006"), createdAt.Format("01"), id)
}

// ArtifactsDir is the artifact subfolder of the investigation folder.
func (w *Workspace) ArtifactsDir(id string, createdAt time.Time) string {
	return filepath.Join(w.InvestigationDir(id, createdAt), "artifacts")
}

// CanonicalPath names one artifact file inside the investigation
// folder. artifactType is a short token like "report" or "comparison".
func (w *Workspace) CanonicalPath(artifactType, id string, window models.Window, createdAt time.Time) string {
	name := fmt.Sprintf("investigation_%s_%s_%s.json",
		artifactType, id, windowToken(window))
	return filepath.Join(w.ArtifactsDir(id, createdAt), name)
}

// EntityViewPath names the per-entity symlink pointing at a canonical
// artifact. Views are sharded by the investigation creation date, not
// the link creation date, so a view and its target always share shards.
func (w *Workspace) EntityViewPath(entity models.Entity, invID string, createdAt time.Time) string {
	return filepath.Join(w.root, "artifacts",
		string(entity.Type), sanitize(entity.NormalizedValue),
		createdAt.Format("2006"), createdAt.Format("01"),
		fmt.Sprintf("inv_%s__artifact.json", invID))
}

// ComparisonDir is the per-comparison folder, sharded by creation year
// and month like the investigations tree.
func (w *Workspace) ComparisonDir(id string, createdAt time.Time) string {
	return filepath.Join(w.root, "comparisons",
		createdAt.Format("2006"), createdAt.Format("01"), id)
}

// ComparisonPath names one comparison artifact file. Both windows go
// into the name so two runs over different baselines never collide.
func (w *Workspace) ComparisonPath(id string, windowA, windowB models.Window, createdAt time.Time) string {
	name := fmt.Sprintf("comparison_%s_%s_vs_%s.json",
		id, windowToken(windowA), windowToken(windowB))
	return filepath.Join(w.ComparisonDir(id, createdAt), name)
}

// RegistryPath is the sqlite index location.
func (w *Workspace) RegistryPath() string {
	return filepath.Join(w.root, "registry.db")
}

// ReplayCachePath is the external-response recording store location.
func (w *Workspace) ReplayCachePath() string {
	return filepath.Join(w.root, "replay.db")
}

func windowToken(w models.Window) string {
	return w.Start.UTC().Format("20060102") + "-" + w.End.UTC().Format("20060102")
}

// sanitize keeps entity values filesystem-safe. Emails and card
// fingerprints carry characters that mean something to a path.
func sanitize(v string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "|", "_", ":", "_", "@", "_at_", " ", "_")
	return r.Replace(v)
}
