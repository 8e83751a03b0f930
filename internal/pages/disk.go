package pages

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/autoguard/backend/internal/core"
)

// Disk lays generated pages out as <root>/<subdomain>/<variant>/index.html
// with assets beside it under assets/. The edge serves this tree verbatim.
type Disk struct {
	root string
}

func NewDisk(root string) *Disk {
	return &Disk{root: root}
}

// WriteIndex persists a variant's entry page and returns its path.
func (d *Disk) WriteIndex(subdomain, variant, htmlContent string) (string, error) {
	dir, err := d.variantDir(subdomain, variant)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, "index.html")
	if err := os.WriteFile(p, []byte(htmlContent), 0o644); err != nil {
		return "", err
	}
	return p, nil
}

// WriteAsset persists one downloaded asset under the variant's assets dir.
func (d *Disk) WriteAsset(subdomain, variant, name string, data []byte) (string, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return "", core.Validationf("invalid asset name %q", name)
	}
	dir, err := d.variantDir(subdomain, variant)
	if err != nil {
		return "", err
	}
	assetDir := filepath.Join(dir, "assets")
	if err := os.MkdirAll(assetDir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(assetDir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", err
	}
	return p, nil
}

// Remove deletes everything generated for a subdomain. Used by the offer
// delete cascade.
func (d *Disk) Remove(subdomain string) error {
	if err := checkSubdomain(subdomain); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(d.root, subdomain))
}

func (d *Disk) variantDir(subdomain, variant string) (string, error) {
	if err := checkSubdomain(subdomain); err != nil {
		return "", err
	}
	if variant != core.VariantMoney && variant != core.VariantSafe {
		return "", core.Validationf("invalid page variant %q", variant)
	}
	return filepath.Join(d.root, subdomain, variant), nil
}

func checkSubdomain(subdomain string) error {
	if subdomain == "" || subdomain == "." || subdomain == ".." ||
		strings.ContainsAny(subdomain, `/\`) {
		return core.Validationf("invalid subdomain %q", subdomain)
	}
	return nil
}
