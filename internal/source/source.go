package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Site is one externally managed routing definition. Each site becomes a
// location-level fragment included by the generated vhost document.
type Site struct {
	Name     string            `yaml:"name"`
	Path     string            `yaml:"path"`
	Upstream string            `yaml:"upstream"`
	Options  map[string]string `yaml:"options"`
}

type Source interface {
	Sites(ctx context.Context) ([]Site, error)
}

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func (s Site) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("site name required")
	}
	if !nameRe.MatchString(s.Name) {
		return fmt.Errorf("site name %q contains characters unsafe for a filename", s.Name)
	}
	if !strings.HasPrefix(s.Path, "/") {
		return fmt.Errorf("site %s: path must start with /", s.Name)
	}
	if strings.TrimSpace(s.Upstream) == "" {
		return fmt.Errorf("site %s: upstream required", s.Name)
	}
	return nil
}
