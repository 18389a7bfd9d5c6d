// Package paths maps logical table names to files under the data root.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/maruel/kitchenstore/internal/models"
)

// Well known locations relative to the data root.
const (
	CatalogsDir   = "catalogs"
	InventoryDir  = "inventory_counts"
	OrdersDir     = "orders"
	RecipesDir    = "recipes"
	ExceptionsDir = "exceptions"
	ExportsDir    = "exports"

	// TeamStateFile is the shared workspace document.
	TeamStateFile = "team_state.json"

	// IngredientMaster is the logical name of the ingredient master table.
	IngredientMaster = "ingredient_master"

	// TableExt is the extension of every table file.
	TableExt = ".csv"

	// DefaultSlug is returned by Slugify when nothing usable remains.
	DefaultSlug = "vendor"
)

// LayoutDirs lists the directories created by EnsureLayout.
var LayoutDirs = []string{CatalogsDir, InventoryDir, OrdersDir, RecipesDir, ExceptionsDir, ExportsDir}

// Resolver resolves logical names against a root directory.
//
// It is safe for concurrent use; the only side effect is directory creation.
type Resolver struct {
	root string
}

// NewResolver creates the root directory if needed and returns a Resolver for it.
func NewResolver(root string) (*Resolver, error) {
	if strings.TrimSpace(root) == "" {
		return nil, models.Validation("data root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil { //nolint:gosec // G301: data directories are shared between users on purpose
		return nil, fmt.Errorf("failed to create data root: %w", err)
	}
	return &Resolver{root: abs}, nil
}

// Root returns the absolute data root.
func (r *Resolver) Root() string {
	return r.root
}

// EnsureLayout creates the well known feature directories.
func (r *Resolver) EnsureLayout() error {
	for _, d := range LayoutDirs {
		if err := os.MkdirAll(filepath.Join(r.root, d), 0o755); err != nil { //nolint:gosec // G301: see NewResolver
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return nil
}

// Table resolves a logical table name to an absolute .csv path.
//
// The name may contain subdirectory segments and may already end in ".csv".
// Absolute names are accepted only if they are inside the root. The parent
// directory of the returned path exists on success.
func (r *Resolver) Table(name string) (string, error) {
	p, err := r.within(name)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(filepath.Ext(p), TableExt) {
		p += TableExt
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil { //nolint:gosec // G301: see NewResolver
		return "", fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	return p, nil
}

// Dir resolves a logical directory name and creates it.
func (r *Resolver) Dir(name string) (string, error) {
	p, err := r.within(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p, 0o755); err != nil { //nolint:gosec // G301: see NewResolver
		return "", fmt.Errorf("failed to create directory %s: %w", name, err)
	}
	return p, nil
}

// File resolves a logical file name without adding an extension.
func (r *Resolver) File(name string) (string, error) {
	p, err := r.within(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil { //nolint:gosec // G301: see NewResolver
		return "", fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	return p, nil
}

// Rel returns p relative to the root, using forward slashes.
func (r *Resolver) Rel(p string) (string, error) {
	rel, err := filepath.Rel(r.root, p)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (r *Resolver) within(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." {
		return "", models.Validation("name is required")
	}
	var p string
	if filepath.IsAbs(name) {
		p = filepath.Clean(name)
	} else {
		p = filepath.Join(r.root, filepath.FromSlash(name))
	}
	rel, err := filepath.Rel(r.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", models.Validation(fmt.Sprintf("%q resolves outside of the data root", name)).WithDetail("name", name)
	}
	return p, nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify returns a lowercase, hyphen separated, filesystem safe token.
//
// Runs of characters outside [a-z0-9] collapse to a single hyphen and
// leading or trailing hyphens are trimmed. It returns DefaultSlug when nothing
// is left.
func Slugify(value string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return DefaultSlug
	}
	return s
}

// VendorFilename returns the canonical file name of a vendor asset.
func VendorFilename(vendor, suffix string) string {
	suffix = strings.TrimPrefix(suffix, ".")
	if suffix == "" {
		suffix = strings.TrimPrefix(TableExt, ".")
	}
	return Slugify(vendor) + "." + suffix
}
