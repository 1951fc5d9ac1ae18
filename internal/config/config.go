package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSyncInterval      = time.Minute
	defaultStatePath         = "nginxvhostsync.db"
	defaultOutputPath        = "/etc/nginx/conf.d/vhost.conf"
	defaultFragmentsDir      = "/etc/nginx/vhost.d"
	defaultSitesDir          = "/etc/nginx-vhost-sync/sites"
	defaultServerName        = "_"
	defaultUpstreamName      = "app_server"
	defaultClientMaxBodySize = "100m"
	defaultProxyReadTimeout  = 10 * time.Minute
	defaultReloadCommand     = "nginx -s reload"
)

var defaultSSLProtocols = []string{"TLSv1.2", "TLSv1.3"}

type Config struct {
	SyncInterval time.Duration `yaml:"syncInterval"`
	StatePath    string        `yaml:"statePath"`
	Log          Log           `yaml:"log"`
	Render       Render        `yaml:"render"`
	Proxy        Proxy         `yaml:"proxy"`
	Reconcile    Reconcile     `yaml:"reconcile"`
}

// Render holds every substitution input of the generated vhost document.
type Render struct {
	OutputPath        string        `yaml:"outputPath"`
	FragmentsDir      string        `yaml:"fragmentsDir"`
	SitesDir          string        `yaml:"sitesDir"`
	ServerName        string        `yaml:"serverName"`
	UpstreamName      string        `yaml:"upstreamName"`
	UpstreamServers   []string      `yaml:"upstreamServers"`
	Certificate       string        `yaml:"certificate"`
	CertificateKey    string        `yaml:"certificateKey"`
	SSLProtocols      []string      `yaml:"sslProtocols"`
	ClientMaxBodySize string        `yaml:"clientMaxBodySize"`
	ProxyReadTimeout  time.Duration `yaml:"proxyReadTimeout"`
}

type Log struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

// Proxy configures how the external proxy runtime is driven after a
// successful reconcile. CheckCommand is optional and runs first.
type Proxy struct {
	ReloadCommand string `yaml:"reloadCommand"`
	CheckCommand  string `yaml:"checkCommand"`
}

type Reconcile struct {
	DryRun             bool     `yaml:"dryRun"`
	ProtectedFragments []string `yaml:"protectedFragments"`
}

func Load(path string) (*Config, error) {
	configFile := true
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("fail find config file, proceeding with defaults", "path", path)
		configFile = false
	}

	var cfg Config
	if configFile {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, err
		}
		if err := f.Close(); err != nil {
			slog.Default().Warn("fail close config file", "path", path, "error", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.StatePath == "" {
		cfg.StatePath = defaultStatePath
	}
	if cfg.Render.OutputPath == "" {
		cfg.Render.OutputPath = defaultOutputPath
	}
	if cfg.Render.FragmentsDir == "" {
		cfg.Render.FragmentsDir = defaultFragmentsDir
	}
	if cfg.Render.SitesDir == "" {
		cfg.Render.SitesDir = defaultSitesDir
	}
	if cfg.Render.ServerName == "" {
		cfg.Render.ServerName = defaultServerName
	}
	if cfg.Render.UpstreamName == "" {
		cfg.Render.UpstreamName = defaultUpstreamName
	}
	if len(cfg.Render.SSLProtocols) == 0 {
		cfg.Render.SSLProtocols = defaultSSLProtocols
	}
	if cfg.Render.ClientMaxBodySize == "" {
		cfg.Render.ClientMaxBodySize = defaultClientMaxBodySize
	}
	if cfg.Render.ProxyReadTimeout == 0 {
		cfg.Render.ProxyReadTimeout = defaultProxyReadTimeout
	}
	if cfg.Proxy.ReloadCommand == "" {
		cfg.Proxy.ReloadCommand = defaultReloadCommand
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = "prod"
	}
}

func (cfg *Config) applyEnvOverrides() {
	if syncInterval := os.Getenv("NGINX_VHOST_SYNC_INTERVAL"); syncInterval != "" {
		if interval, err := time.ParseDuration(syncInterval); err == nil {
			cfg.SyncInterval = interval
		} else {
			slog.Default().Warn("fail parse sync interval to duration from string", "interval", syncInterval, "error", err)
		}
	}
	if statePath := os.Getenv("NGINX_VHOST_SYNC_STATE_PATH"); statePath != "" {
		cfg.StatePath = statePath
	}
	if outputPath := os.Getenv("NGINX_VHOST_SYNC_OUTPUT_PATH"); outputPath != "" {
		cfg.Render.OutputPath = outputPath
	}
	if fragmentsDir := os.Getenv("NGINX_VHOST_SYNC_FRAGMENTS_DIR"); fragmentsDir != "" {
		cfg.Render.FragmentsDir = fragmentsDir
	}
	if sitesDir := os.Getenv("NGINX_VHOST_SYNC_SITES_DIR"); sitesDir != "" {
		cfg.Render.SitesDir = sitesDir
	}
	if serverName := os.Getenv("NGINX_VHOST_SYNC_SERVER_NAME"); serverName != "" {
		cfg.Render.ServerName = serverName
	}
	if upstreams := os.Getenv("NGINX_VHOST_SYNC_UPSTREAM_SERVERS"); upstreams != "" {
		cfg.Render.UpstreamServers = strings.Split(upstreams, ",")
	}
	if cert := os.Getenv("NGINX_VHOST_SYNC_CERTIFICATE"); cert != "" {
		cfg.Render.Certificate = cert
	}
	if key := os.Getenv("NGINX_VHOST_SYNC_CERTIFICATE_KEY"); key != "" {
		cfg.Render.CertificateKey = key
	}
	if reloadCommand := os.Getenv("NGINX_VHOST_SYNC_RELOAD_COMMAND"); reloadCommand != "" {
		cfg.Proxy.ReloadCommand = reloadCommand
	}
	if checkCommand := os.Getenv("NGINX_VHOST_SYNC_CHECK_COMMAND"); checkCommand != "" {
		cfg.Proxy.CheckCommand = checkCommand
	}
	if dryRun := os.Getenv("NGINX_VHOST_SYNC_DRYRUN"); dryRun != "" {
		switch strings.ToLower(dryRun) {
		case "true":
			cfg.Reconcile.DryRun = true
		case "false":
			cfg.Reconcile.DryRun = false
		default:
			slog.Default().Warn("fail parse dryrun to bool from string", "dryrun", dryRun)
		}
	}
	if protected := os.Getenv("NGINX_VHOST_SYNC_PROTECTED_FRAGMENTS"); protected != "" {
		cfg.Reconcile.ProtectedFragments = strings.Split(protected, ",")
	}
	if loglevel := os.Getenv("NGINX_VHOST_SYNC_LOG_LEVEL"); loglevel != "" {
		cfg.Log.Level = loglevel
	}
	if logenv := os.Getenv("NGINX_VHOST_SYNC_LOG_ENV"); logenv != "" {
		cfg.Log.Env = logenv
	}
}

// Validate rejects configs the proxy could never load. Certificate files are
// only probed with a warning since they may be provisioned after we start.
func (cfg *Config) Validate() error {
	if len(cfg.Render.UpstreamServers) == 0 {
		return fmt.Errorf("render: at least one upstream server required")
	}
	for _, s := range cfg.Render.UpstreamServers {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("render: empty upstream server entry")
		}
	}
	if cfg.Render.Certificate == "" || cfg.Render.CertificateKey == "" {
		return fmt.Errorf("render: certificate and certificateKey are both required")
	}
	for _, p := range []string{cfg.Render.Certificate, cfg.Render.CertificateKey} {
		if _, err := os.Stat(p); err != nil {
			slog.Default().Warn("fail stat TLS file, proxy will reject config until it exists", "path", p, "error", err)
		}
	}
	return nil
}
