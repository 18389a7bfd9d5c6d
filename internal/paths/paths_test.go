package paths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/maruel/kitchenstore/internal/models"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  PFG Foods! ", "pfg-foods"},
		{"Sysco", "sysco"},
		{"A & B -- Produce", "a-b-produce"},
		{"../../etc/passwd", "etc-passwd"},
		{"", DefaultSlug},
		{"!!!", DefaultSlug},
		{"Café 12", "caf-12"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestVendorFilename(t *testing.T) {
	if got := VendorFilename("PFG Foods", "csv"); got != "pfg-foods.csv" {
		t.Errorf("got %q", got)
	}
	if got := VendorFilename("", ".json"); got != "vendor.json" {
		t.Errorf("got %q", got)
	}
	if got := VendorFilename("Sysco", ""); got != "sysco.csv" {
		t.Errorf("got %q", got)
	}
}

func TestResolver(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("Table", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			tests := []struct {
				name string
				want string
			}{
				{"ingredient_master", filepath.Join(root, "ingredient_master.csv")},
				{"catalogs/pfg.csv", filepath.Join(root, "catalogs", "pfg.csv")},
				{"exceptions/exceptions", filepath.Join(root, "exceptions", "exceptions.csv")},
				{"  orders/a/b  ", filepath.Join(root, "orders", "a", "b.csv")},
				{filepath.Join(root, "abs"), filepath.Join(root, "abs.csv")},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := r.Table(tt.name)
					if err != nil {
						t.Fatalf("Table(%q) failed: %v", tt.name, err)
					}
					if got != tt.want {
						t.Errorf("Table(%q) = %q, want %q", tt.name, got, tt.want)
					}
					if fi, err := os.Stat(filepath.Dir(got)); err != nil || !fi.IsDir() {
						t.Errorf("parent of %q was not created", got)
					}
				})
			}
		})

		t.Run("invalid", func(t *testing.T) {
			for _, name := range []string{"", "   ", ".", "../outside", "catalogs/../../x", "/etc/passwd"} {
				t.Run(name, func(t *testing.T) {
					_, err := r.Table(name)
					if !errors.Is(err, models.ErrValidation) {
						t.Errorf("Table(%q) error = %v, want validation error", name, err)
					}
				})
			}
		})
	})

	t.Run("Dir", func(t *testing.T) {
		got, err := r.Dir(InventoryDir)
		if err != nil {
			t.Fatal(err)
		}
		if fi, err := os.Stat(got); err != nil || !fi.IsDir() {
			t.Errorf("Dir() did not create %s", got)
		}
	})

	t.Run("EnsureLayout", func(t *testing.T) {
		if err := r.EnsureLayout(); err != nil {
			t.Fatal(err)
		}
		for _, d := range LayoutDirs {
			if _, err := os.Stat(filepath.Join(root, d)); err != nil {
				t.Errorf("%s missing: %v", d, err)
			}
		}
	})

	t.Run("Rel", func(t *testing.T) {
		p, _ := r.Table("catalogs/sysco")
		rel, err := r.Rel(p)
		if err != nil || rel != "catalogs/sysco.csv" {
			t.Errorf("Rel() = %q, %v", rel, err)
		}
	})
}
