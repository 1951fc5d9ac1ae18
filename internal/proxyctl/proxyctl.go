package proxyctl

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/nginx-vhost-sync/internal/config"
	"github.com/nginx-vhost-sync/internal/metrics"
)

const commandTimeout = 30 * time.Second

// Reloader drives the external proxy runtime after its configuration files
// changed on disk. Check runs the config test command when one is set;
// Reload asks the proxy to re-read its configuration.
type Reloader interface {
	Check(ctx context.Context) error
	Reload(ctx context.Context) error
}

type execReloader struct {
	checkCmd  []string
	reloadCmd []string
	metrics   *metrics.Metrics
}

func New(cfg config.Proxy, metrics *metrics.Metrics) (Reloader, error) {
	reloadCmd := strings.Fields(cfg.ReloadCommand)
	if len(reloadCmd) == 0 {
		return nil, fmt.Errorf("reload command required")
	}
	return &execReloader{
		checkCmd:  strings.Fields(cfg.CheckCommand),
		reloadCmd: reloadCmd,
		metrics:   metrics,
	}, nil
}

func (r *execReloader) Check(ctx context.Context) error {
	if len(r.checkCmd) == 0 {
		return nil
	}
	return run(ctx, r.checkCmd)
}

func (r *execReloader) Reload(ctx context.Context) error {
	err := run(ctx, r.reloadCmd)
	r.metrics.IncReload(err == nil)
	return err
}

func run(ctx context.Context, argv []string) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	slog.Debug("Running proxy command", "command", strings.Join(argv, " "))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
