package reconcile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nginx-vhost-sync/internal/config"
	"github.com/nginx-vhost-sync/internal/metrics"
	"github.com/nginx-vhost-sync/internal/nginx"
	"github.com/nginx-vhost-sync/internal/proxyctl"
	"github.com/nginx-vhost-sync/internal/source"
	"github.com/nginx-vhost-sync/internal/state"
)

type Engine interface {
	Reconcile(ctx context.Context, sites []source.Site) (Results, error)
}

type engine struct {
	stateManager state.Manager
	reloader     proxyctl.Reloader
	dryRun       bool
	protected    map[string]bool
	metrics      *metrics.Metrics
	cfg          *config.Config
}

func NewEngine(sm state.Manager, rl proxyctl.Reloader, cfg *config.Config, metrics *metrics.Metrics) *engine {
	protected := make(map[string]bool)
	for _, f := range cfg.Reconcile.ProtectedFragments {
		protected[f] = true
	}
	return &engine{
		stateManager: sm,
		reloader:     rl,
		dryRun:       cfg.Reconcile.DryRun,
		protected:    protected,
		metrics:      metrics,
		cfg:          cfg,
	}
}

func (e *engine) Reconcile(ctx context.Context, sites []source.Site) (Results, error) {
	prevState, err := e.stateManager.LoadState(ctx)
	if err != nil {
		return Results{}, fmt.Errorf("load state: %w", err)
	}

	desired, err := e.renderDesired(sites)
	if err != nil {
		return Results{}, fmt.Errorf("render desired files: %w", err)
	}
	e.lintForeignFragments(desired)

	plan, newState, err := e.buildPlan(desired, prevState)
	if err != nil {
		return Results{}, fmt.Errorf("build plan: %w", err)
	}
	slog.Debug("Plan built", "writes", len(plan.Write), "removes", len(plan.Remove))

	if plan.IsEmpty() {
		if !statesEqual(prevState, newState) {
			// No file changed hands but ownership did (files adopted or
			// forgotten); persist so the next run sees the truth. A dry run
			// must not record ownership of files it never wrote.
			if e.dryRun {
				slog.Info("Dry run mode - would update file ownership", "files", len(newState.Files))
			} else if err := e.stateManager.SaveState(ctx, newState); err != nil {
				return Results{}, fmt.Errorf("save state: %w", err)
			}
		}
		slog.Info("No file changes, ending reconciliation")
		return Results{}, nil
	}

	if e.dryRun {
		for _, c := range plan.Write {
			slog.Info("Dry run mode - would write file", "path", c.Path, "reason", c.Reason, "bytes", len(c.Content))
		}
		for _, c := range plan.Remove {
			slog.Info("Dry run mode - would remove file", "path", c.Path, "reason", c.Reason)
		}
		results := Results{}
		for _, c := range plan.Write {
			results.Written = append(results.Written, c.Path)
		}
		for _, c := range plan.Remove {
			results.Removed = append(results.Removed, c.Path)
		}
		// In dry-run mode, return early without saving state
		return results, nil
	}

	results := e.executePlan(plan)

	// Only persist state and reload the proxy if all operations succeeded
	if len(results.Failures) > 0 {
		slog.Warn("Not persisting state due to failed operations", "failures", len(results.Failures))
		return results, nil
	}
	if err := e.stateManager.SaveState(ctx, newState); err != nil {
		return results, fmt.Errorf("save state: %w", err)
	}

	if err := e.reloadProxy(ctx); err != nil {
		slog.Error("Failed to reload proxy", "error", err)
		results.Failures = append(results.Failures, OperationResult{Op: "reload", Error: err.Error()})
		return results, nil
	}
	results.Reloaded = true
	return results, nil
}

// renderDesired produces the full set of files this daemon should own: the
// vhost document plus one fragment per site. Every rendered document must
// pass the structural validator before it is allowed near the proxy.
func (e *engine) renderDesired(sites []source.Site) (map[string][]byte, error) {
	desired := make(map[string][]byte)

	render := e.cfg.Render
	vhost := nginx.VirtualHost{
		ServerName: render.ServerName,
		Upstream: nginx.Upstream{
			Name:    render.UpstreamName,
			Servers: render.UpstreamServers,
		},
		SSL: nginx.SSL{
			Certificate:    render.Certificate,
			CertificateKey: render.CertificateKey,
		},
		SSLProtocols:      render.SSLProtocols,
		ClientMaxBodySize: render.ClientMaxBodySize,
		ProxyReadTimeout:  render.ProxyReadTimeout,
		FragmentsGlob:     filepath.Join(render.FragmentsDir, "*.conf"),
	}

	doc, err := nginx.Render(vhost)
	if err != nil {
		return nil, err
	}
	if err := nginx.Validate(doc); err != nil {
		return nil, fmt.Errorf("vhost document invalid: %w", err)
	}
	desired[render.OutputPath] = doc

	for _, site := range sites {
		path := filepath.Join(render.FragmentsDir, site.Name+".conf")
		if _, exists := desired[path]; exists {
			return nil, fmt.Errorf("duplicate site name %q", site.Name)
		}
		frag, err := nginx.RenderFragment(nginx.Fragment{
			Name:      site.Name,
			Path:      site.Path,
			ProxyPass: site.Upstream,
			Options:   site.Options,
		})
		if err != nil {
			return nil, err
		}
		if err := nginx.Validate(frag); err != nil {
			return nil, fmt.Errorf("fragment %s invalid: %w", site.Name, err)
		}
		desired[path] = frag
	}
	return desired, nil
}

// buildPlan diffs desired content against recorded state and what is on
// disk. Files we wrote before but no longer want are planned for removal;
// files we never owned are left alone.
func (e *engine) buildPlan(desired map[string][]byte, prev state.State) (Plan, state.State, error) {
	plan := Plan{}
	now := time.Now().Unix()
	newState := state.State{Files: make(map[string]state.FileState)}

	paths := make([]string, 0, len(desired))
	for path := range desired {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if e.isProtected(path) {
			slog.Warn("Skipping write of protected fragment", "path", path)
			e.metrics.IncFileOp("skip", true)
			continue
		}
		content := desired[path]
		hash := hashContent(content)

		onDisk, readErr := os.ReadFile(path)
		diskMatches := readErr == nil && bytes.Equal(onDisk, content)

		prevFile, owned := prev.Files[path]

		if diskMatches {
			lastWritten := now
			if owned && prevFile.SHA256 == hash {
				lastWritten = prevFile.LastWritten
			}
			newState.Files[path] = state.FileState{SHA256: hash, LastWritten: lastWritten}
			continue
		}

		reason := "new"
		switch {
		case owned && readErr == nil && prevFile.SHA256 == hash:
			reason = "drift"
			slog.Warn("Managed file drifted on disk, repairing",
				"path", path, "lastWritten", time.Unix(prevFile.LastWritten, 0))
		case owned || readErr == nil:
			reason = "changed"
		}
		plan.Write = append(plan.Write, FileChange{Path: path, Content: content, Reason: reason})
		newState.Files[path] = state.FileState{SHA256: hash, LastWritten: now}
	}

	owned := make([]string, 0, len(prev.Files))
	for path := range prev.Files {
		owned = append(owned, path)
	}
	sort.Strings(owned)

	for _, path := range owned {
		if _, stillDesired := desired[path]; stillDesired {
			continue
		}
		if e.isProtected(path) {
			slog.Warn("Skipping removal of protected fragment", "path", path)
			e.metrics.IncFileOp("skip", true)
			// Keep ownership so a later unprotect still cleans it up.
			newState.Files[path] = prev.Files[path]
			continue
		}
		if _, err := os.Stat(path); err != nil {
			// Already gone, just forget it.
			continue
		}
		plan.Remove = append(plan.Remove, FileChange{Path: path, Reason: "orphaned"})
	}
	return plan, newState, nil
}

func (e *engine) executePlan(plan Plan) Results {
	results := Results{}

	for _, change := range plan.Write {
		slog.Debug("Start execute write from plan", "path", change.Path, "reason", change.Reason)
		op := "update"
		if change.Reason == "new" {
			op = "create"
		}
		if err := writeFileAtomic(change.Path, change.Content); err != nil {
			slog.Error("Failed to write file", "path", change.Path, "error", err)
			e.metrics.IncFileOp(op, false)
			results.Failures = append(results.Failures, OperationResult{
				Path:  change.Path,
				Op:    "write",
				Error: err.Error(),
			})
		} else {
			e.metrics.IncFileOp(op, true)
			results.Written = append(results.Written, change.Path)
		}
	}

	for _, change := range plan.Remove {
		slog.Debug("Start execute remove from plan", "path", change.Path, "reason", change.Reason)
		if err := os.Remove(change.Path); err != nil {
			slog.Error("Failed to remove file", "path", change.Path, "error", err)
			e.metrics.IncFileOp("delete", false)
			results.Failures = append(results.Failures, OperationResult{
				Path:  change.Path,
				Op:    "remove",
				Error: err.Error(),
			})
		} else {
			e.metrics.IncFileOp("delete", true)
			results.Removed = append(results.Removed, change.Path)
		}
	}
	return results
}

func (e *engine) reloadProxy(ctx context.Context) error {
	if err := e.reloader.Check(ctx); err != nil {
		return fmt.Errorf("config check: %w", err)
	}
	if err := e.reloader.Reload(ctx); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	slog.Info("Proxy reloaded")
	return nil
}

// lintForeignFragments checks fragments the include glob matches but we do
// not own. A broken hand-written file would make the proxy reject the whole
// vhost, so surface it loudly even though it is not ours to fix.
func (e *engine) lintForeignFragments(desired map[string][]byte) {
	matches, err := filepath.Glob(filepath.Join(e.cfg.Render.FragmentsDir, "*.conf"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if _, owned := desired[path]; owned {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := nginx.Validate(data); err != nil {
			slog.Warn("Unmanaged fragment fails structural validation", "path", path, "error", err)
		}
	}
}

func (e *engine) isProtected(path string) bool {
	return e.protected[filepath.Base(path)]
}

// writeFileAtomic writes through a temp file in the target directory so the
// proxy can never observe a half-written document.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func statesEqual(a, b state.State) bool {
	if len(a.Files) != len(b.Files) {
		return false
	}
	for path, fa := range a.Files {
		fb, ok := b.Files[path]
		if !ok || fa.SHA256 != fb.SHA256 {
			return false
		}
	}
	return true
}
