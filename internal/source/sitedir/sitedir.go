package sitedir

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nginx-vhost-sync/internal/metrics"
	"github.com/nginx-vhost-sync/internal/source"
)

// client reads site definitions from a directory of yaml files. The
// directory is owned by the external orchestrator; a malformed file is
// skipped so one bad tenant cannot block everyone else's sync.
type client struct {
	dir     string
	metrics *metrics.Metrics
}

func New(dir string, metrics *metrics.Metrics) source.Source {
	return &client{dir: dir, metrics: metrics}
}

func (c *client) Sites(ctx context.Context) ([]source.Site, error) {
	sites := []source.Site{}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return sites, fmt.Errorf("read sites dir %s: %w", c.dir, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return sites, err
		}
		if entry.IsDir() || !isSiteFile(entry.Name()) {
			continue
		}

		path := filepath.Join(c.dir, entry.Name())
		site, err := c.loadSite(path)
		if err != nil {
			slog.Warn("Skipping invalid site file", "path", path, "error", err)
			c.metrics.IncInvalidSite()
			continue
		}
		sites = append(sites, site)
	}

	// Deterministic order keeps rendering idempotent across runs.
	sort.Slice(sites, func(i, j int) bool { return sites[i].Name < sites[j].Name })
	return sites, nil
}

func (c *client) loadSite(path string) (source.Site, error) {
	var site source.Site

	data, err := os.ReadFile(path)
	if err != nil {
		return site, err
	}
	if err := yaml.Unmarshal(data, &site); err != nil {
		return site, fmt.Errorf("parse site file: %w", err)
	}

	if site.Name == "" {
		site.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := site.Validate(); err != nil {
		return site, err
	}
	return site, nil
}

func isSiteFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
