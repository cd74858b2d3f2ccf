// Package configs embeds the default protocol catalog so the binary can rank
// candidates when no catalog file is deployed next to it.
package configs

import (
	_ "embed"

	"github.com/ashureev/capdeploy/internal/plan"
)

//go:embed catalog.yaml
var catalogYAML []byte

// DefaultCatalog returns a fresh catalog parsed from the embedded
// catalog.yaml.
func DefaultCatalog() (*plan.Catalog, error) {
	cands, err := plan.ParseCatalog(catalogYAML)
	if err != nil {
		return nil, err
	}
	return plan.NewCatalog(cands), nil
}
