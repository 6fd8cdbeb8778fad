package automation

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/autoapply/autoapply/internal/db"
)

// RunIDMinLength is the minimum length of a run id accepted anywhere a run
// id touches the filesystem or a route parameter.
const RunIDMinLength = 8

const (
	maxArtifactNameLength = 64
	retentionQueryLimit   = 500
	defaultScreenshotExt  = ".png"
)

var (
	runIDSafePattern    = regexp.MustCompile(`^[0-9a-fA-F-]+$`)
	fileNameSafePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

var allowedScreenshotExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".webp": {}, ".gif": {}, ".bmp": {},
}

// ValidRunID reports whether id is safe to use as a directory name and
// route parameter: hex/dash characters only, minimum length.
func ValidRunID(id string) bool {
	return len(id) >= RunIDMinLength && runIDSafePattern.MatchString(id)
}

// SafeScreenshotName reports whether a stored screenshot file name is safe
// to resolve on disk: no traversal characters and a whitelisted extension.
func SafeScreenshotName(name string) bool {
	if !fileNameSafePattern.MatchString(name) {
		return false
	}
	_, ok := allowedScreenshotExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// retentionSource is the slice of the run store the sweep needs.
type retentionSource interface {
	GetAutomationSettings(ctx context.Context) (db.AutomationSettings, error)
	ListExpiredRunIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// ArtifactStore manages the per-run screenshot directories under a single
// root. Worker-produced files are copied in with collision-safe, bounded
// names; directories for terminated runs are reclaimed by Sweep.
type ArtifactStore struct {
	root  string
	store retentionSource
}

// NewArtifactStore creates an artifact store rooted at root.
func NewArtifactStore(root string, store retentionSource) *ArtifactStore {
	return &ArtifactStore{root: root, store: store}
}

// RunDir returns the managed directory for a run, rejecting ids that could
// escape the root.
func (a *ArtifactStore) RunDir(runID string) (string, error) {
	if !ValidRunID(runID) {
		return "", &ValidationError{Field: "runId", Message: "invalid run id"}
	}
	return filepath.Join(a.root, runID), nil
}

// ScreenshotPath resolves a stored screenshot name inside a run's directory,
// failing closed on any unsafe component.
func (a *ArtifactStore) ScreenshotPath(runID, fileName string) (string, error) {
	dir, err := a.RunDir(runID)
	if err != nil {
		return "", err
	}
	if !SafeScreenshotName(fileName) {
		return "", &ValidationError{Field: "screenshot", Message: "invalid screenshot file name"}
	}
	return filepath.Join(dir, fileName), nil
}

// Collect copies the worker's screenshot files into the run's managed
// directory and returns the managed names in source order. Sources that no
// longer exist are skipped without failing the run; the directory is created
// lazily only when there is something to copy.
func (a *ArtifactStore) Collect(runID string, sources []string) ([]string, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	dir, err := a.RunDir(runID)
	if err != nil {
		return nil, err
	}

	managed := make([]string, 0, len(sources))
	for i, source := range sources {
		if _, err := os.Stat(source); err != nil {
			log.Printf("[artifacts] run %s: skipping missing screenshot %s", runID, source)
			continue
		}
		if len(managed) == 0 {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create run directory: %w", err)
			}
		}

		name := destinationName(i, source)
		if err := copyFile(source, filepath.Join(dir, name)); err != nil {
			log.Printf("[artifacts] run %s: failed to copy %s: %v", runID, source, err)
			continue
		}
		managed = append(managed, name)
	}
	return managed, nil
}

// destinationName builds a stable managed name: step index plus a
// whitelisted extension inferred from the source. Names that would exceed
// the bound fall back to a deterministic short hash of the source path, so
// they stay bounded and collision-resistant without randomness.
func destinationName(index int, source string) string {
	ext := strings.ToLower(filepath.Ext(source))
	if _, ok := allowedScreenshotExts[ext]; !ok {
		ext = defaultScreenshotExt
	}

	name := fmt.Sprintf("step-%02d%s", index, ext)
	if len(name) > maxArtifactNameLength {
		sum := sha256.Sum256([]byte(source))
		name = fmt.Sprintf("shot-%x%s", sum[:4], ext)
	}
	return name
}

func copyFile(source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// Sweep deletes artifact directories for terminal runs older than the
// retention window. Individual deletion failures are swallowed so one bad
// directory cannot block the rest; running the sweep twice with no new
// terminal runs deletes nothing the second time beyond what already failed.
func (a *ArtifactStore) Sweep(ctx context.Context) (int, error) {
	settings, err := a.store.GetAutomationSettings(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -settings.EffectiveRetentionDays())
	ids, err := a.store.ListExpiredRunIDs(ctx, cutoff, retentionQueryLimit)
	if err != nil {
		return 0, fmt.Errorf("retention sweep query failed: %w", err)
	}

	removed := 0
	for _, id := range ids {
		dir := filepath.Join(a.root, id.String())
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("[sweep] failed to remove %s: %v", dir, err)
			continue
		}
		removed++
	}
	return removed, nil
}
