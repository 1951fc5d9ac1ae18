package nginx

import "time"

// Port assignments are fixed by the document contract: plaintext traffic is
// only ever answered with a redirect, TLS termination happens on 443.
const (
	RedirectPort = 80
	TLSPort      = 443
)

// VirtualHost holds all substitution inputs for the generated proxy
// document: one named upstream group, the plaintext redirect server and the
// TLS-terminating server that forwards to the upstream and includes the
// externally managed site fragments.
type VirtualHost struct {
	ServerName        string
	Upstream          Upstream
	SSL               SSL
	SSLProtocols      []string
	ClientMaxBodySize string
	ProxyReadTimeout  time.Duration
	FragmentsGlob     string
}

// Upstream holds all configuration for an upstream group.
type Upstream struct {
	Name    string
	Servers []string
}

// SSL holds the certificate pair referenced by the TLS server.
type SSL struct {
	Certificate    string
	CertificateKey string
}

// Fragment is a single location block rendered to its own file under the
// fragments directory and merged into the vhost at proxy load time.
type Fragment struct {
	Name      string
	Path      string
	ProxyPass string
	Options   map[string]string
}
