package plan

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// catalogDebounce is how long the watcher waits for more writes before
// reloading.
const catalogDebounce = 250 * time.Millisecond

type catalogFile struct {
	Protocols []catalogEntry `yaml:"protocols"`
}

type catalogEntry struct {
	Protocol string  `yaml:"protocol"`
	Chain    string  `yaml:"chain"`
	Asset    string  `yaml:"asset"`
	APY      float64 `yaml:"apy"`
	TVL      float64 `yaml:"tvl"`
	Risk     string  `yaml:"risk"`
}

// ParseCatalog decodes a YAML protocol catalog.
func ParseCatalog(data []byte) ([]Candidate, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("catalog: payload is empty")
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	out := make([]Candidate, 0, len(f.Protocols))
	for i, e := range f.Protocols {
		name := strings.TrimSpace(e.Protocol)
		if name == "" {
			return nil, fmt.Errorf("catalog: entry %d: protocol is required", i)
		}
		risk, ok := domain.ParseRisk(e.Risk)
		if !ok {
			return nil, fmt.Errorf("catalog: %s: invalid risk %q", name, e.Risk)
		}
		if e.APY < 0 || e.TVL < 0 {
			return nil, fmt.Errorf("catalog: %s: apy and tvl must not be negative", name)
		}
		out = append(out, Candidate{
			Protocol: name,
			Chain:    strings.ToLower(strings.TrimSpace(e.Chain)),
			Asset:    strings.ToUpper(strings.TrimSpace(e.Asset)),
			APY:      decimal.NewFromFloat(e.APY),
			TVL:      decimal.NewFromFloat(e.TVL),
			Risk:     risk,
		})
	}
	return out, nil
}

// Catalog is an in-memory Ranker over a fixed candidate list that can be
// swapped at runtime.
type Catalog struct {
	mu         sync.RWMutex
	candidates []Candidate
}

// NewCatalog creates a catalog holding cands.
func NewCatalog(cands []Candidate) *Catalog {
	c := &Catalog{}
	c.Replace(cands)
	return c
}

// LoadCatalogFile reads and parses the catalog at path.
func LoadCatalogFile(path string) (*Catalog, error) {
	cands, err := readCatalog(path)
	if err != nil {
		return nil, err
	}
	return NewCatalog(cands), nil
}

func readCatalog(path string) ([]Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	cands, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cands, nil
}

// Replace swaps the candidate list.
func (c *Catalog) Replace(cands []Candidate) {
	cp := append([]Candidate(nil), cands...)
	c.mu.Lock()
	c.candidates = cp
	c.mu.Unlock()
}

// Len returns the number of candidates.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.candidates)
}

// Rank implements Ranker.
func (c *Catalog) Rank(ctx context.Context, q Query) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	cands := c.candidates
	c.mu.RUnlock()
	return rank(cands, q), nil
}

// Watch reloads the catalog from path whenever the file changes, until ctx
// is done. A file that fails to parse leaves the current candidates in
// place.
func (c *Catalog) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go c.watchLoop(ctx, fsw, filepath.Clean(path), logger)

	logger.Info("Catalog watcher started", "path", path, "debounce", catalogDebounce)
	return nil
}

func (c *Catalog) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, path string, logger *slog.Logger) {
	defer fsw.Close()
	ticker := time.NewTicker(catalogDebounce)
	defer ticker.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				pending = true
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logger.Error("Catalog watcher error", "error", err)

		case <-ticker.C:
			if !pending {
				continue
			}
			pending = false
			cands, err := readCatalog(path)
			if err != nil {
				logger.Warn("Catalog reload failed, keeping previous catalog", "path", path, "error", err)
				continue
			}
			c.Replace(cands)
			logger.Info("Catalog reloaded", "path", path, "protocols", len(cands))
		}
	}
}
