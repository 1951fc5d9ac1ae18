package nginx

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"
)

type vhostView struct {
	ServerName        string
	Upstream          Upstream
	SSL               SSL
	Protocols         string
	ClientMaxBodySize string
	ReadTimeout       string
	FragmentsGlob     string
	RedirectPort      int
	TLSPort           int
}

type fragmentView struct {
	Name      string
	Path      string
	ProxyPass string
	Options   []option
}

type option struct {
	Key   string
	Value string
}

// Render produces the complete vhost document. Identical inputs always
// produce byte-identical output.
func Render(vh VirtualHost) ([]byte, error) {
	if err := vh.validate(); err != nil {
		return nil, err
	}

	view := vhostView{
		ServerName:        vh.ServerName,
		Upstream:          vh.Upstream,
		SSL:               vh.SSL,
		Protocols:         strings.Join(vh.SSLProtocols, " "),
		ClientMaxBodySize: vh.ClientMaxBodySize,
		ReadTimeout:       nginxDuration(vh.ProxyReadTimeout),
		FragmentsGlob:     vh.FragmentsGlob,
		RedirectPort:      RedirectPort,
		TLSPort:           TLSPort,
	}

	var buf bytes.Buffer
	if err := vhostTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("render vhost: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderFragment produces one site's location block. Options render in key
// order so re-rendering is byte-identical.
func RenderFragment(f Fragment) ([]byte, error) {
	if f.Name == "" {
		return nil, fmt.Errorf("fragment name required")
	}
	if !strings.HasPrefix(f.Path, "/") {
		return nil, fmt.Errorf("fragment %s: path must start with /", f.Name)
	}
	if f.ProxyPass == "" {
		return nil, fmt.Errorf("fragment %s: proxy pass target required", f.Name)
	}

	view := fragmentView{
		Name:      f.Name,
		Path:      f.Path,
		ProxyPass: f.ProxyPass,
	}
	keys := make([]string, 0, len(f.Options))
	for k := range f.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		view.Options = append(view.Options, option{Key: k, Value: f.Options[k]})
	}

	var buf bytes.Buffer
	if err := fragmentTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("render fragment %s: %w", f.Name, err)
	}
	return buf.Bytes(), nil
}

// nginxDuration renders a duration in nginx time syntax without losing
// precision: whole seconds as "Ns", anything finer as "Nms" (nginx's
// smallest time unit).
func nginxDuration(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

func (vh VirtualHost) validate() error {
	if len(vh.Upstream.Servers) == 0 {
		return fmt.Errorf("upstream %s: at least one server required", vh.Upstream.Name)
	}
	for _, s := range vh.Upstream.Servers {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("upstream %s: empty server entry", vh.Upstream.Name)
		}
	}
	if vh.Upstream.Name == "" {
		return fmt.Errorf("upstream name required")
	}
	if vh.ServerName == "" {
		return fmt.Errorf("server name required")
	}
	if vh.SSL.Certificate == "" || vh.SSL.CertificateKey == "" {
		return fmt.Errorf("TLS server requires exactly one certificate and one key path")
	}
	if len(vh.SSLProtocols) == 0 {
		return fmt.Errorf("at least one TLS protocol required")
	}
	if vh.ClientMaxBodySize == "" {
		return fmt.Errorf("client max body size required")
	}
	if vh.ProxyReadTimeout < time.Millisecond {
		return fmt.Errorf("proxy read timeout must be at least 1ms")
	}
	if vh.FragmentsGlob == "" {
		return fmt.Errorf("fragments glob required")
	}
	return nil
}
