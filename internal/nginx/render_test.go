package nginx

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func testVirtualHost() VirtualHost {
	return VirtualHost{
		ServerName: "apps.example.com",
		Upstream: Upstream{
			Name:    "app_server",
			Servers: []string{"127.0.0.1:8080"},
		},
		SSL: SSL{
			Certificate:    "/etc/ssl/certs/apps.crt",
			CertificateKey: "/etc/ssl/private/apps.key",
		},
		SSLProtocols:      []string{"TLSv1.2", "TLSv1.3"},
		ClientMaxBodySize: "100m",
		ProxyReadTimeout:  10 * time.Minute,
		FragmentsGlob:     "/etc/nginx/vhost.d/*.conf",
	}
}

func TestRenderVirtualHost(t *testing.T) {
	doc, err := Render(testVirtualHost())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	text := string(doc)

	if err := Validate(doc); err != nil {
		t.Errorf("rendered document failed validation: %v", err)
	}

	mustContain := []string{
		"upstream app_server {",
		"server 127.0.0.1:8080;",
		"listen 80;",
		"return 301 https://$host$request_uri;",
		"listen 443 ssl;",
		"ssl_protocols TLSv1.2 TLSv1.3;",
		"client_max_body_size 100m;",
		"proxy_read_timeout 600s;",
		"proxy_pass http://app_server;",
		"include /etc/nginx/vhost.d/*.conf;",
		"DO NOT EDIT",
	}
	for _, want := range mustContain {
		if !strings.Contains(text, want) {
			t.Errorf("rendered document missing %q", want)
		}
	}

	// The TLS block must reference exactly one certificate and one key path
	if got := strings.Count(text, "ssl_certificate "); got != 1 {
		t.Errorf("expected exactly 1 ssl_certificate directive, got %d", got)
	}
	if got := strings.Count(text, "ssl_certificate_key "); got != 1 {
		t.Errorf("expected exactly 1 ssl_certificate_key directive, got %d", got)
	}
}

func TestRenderMultipleUpstreamServers(t *testing.T) {
	vh := testVirtualHost()
	vh.Upstream.Servers = []string{"10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.3:8080"}

	doc, err := Render(vh)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	text := string(doc)

	// Order must be preserved
	first := strings.Index(text, "server 10.0.0.1:8080;")
	second := strings.Index(text, "server 10.0.0.2:8080;")
	third := strings.Index(text, "server 10.0.0.3:8080;")
	if first < 0 || second < 0 || third < 0 {
		t.Fatalf("missing upstream server entries in:\n%s", text)
	}
	if !(first < second && second < third) {
		t.Errorf("upstream servers rendered out of order")
	}
}

func TestRenderReadTimeoutPrecision(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    string
	}{
		{
			name:    "whole seconds",
			timeout: 10 * time.Minute,
			want:    "proxy_read_timeout 600s;",
		},
		{
			name:    "sub-second",
			timeout: 500 * time.Millisecond,
			want:    "proxy_read_timeout 500ms;",
		},
		{
			name:    "mixed seconds and milliseconds",
			timeout: 90*time.Second + 250*time.Millisecond,
			want:    "proxy_read_timeout 90250ms;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vh := testVirtualHost()
			vh.ProxyReadTimeout = tt.timeout
			doc, err := Render(vh)
			if err != nil {
				t.Fatalf("render failed: %v", err)
			}
			if !strings.Contains(string(doc), tt.want) {
				t.Errorf("rendered document missing %q", tt.want)
			}
			// A positive timeout must never render as a zero bound
			if strings.Contains(string(doc), "proxy_read_timeout 0s;") || strings.Contains(string(doc), "proxy_read_timeout 0ms;") {
				t.Errorf("positive timeout rendered as zero")
			}
		})
	}
}

func TestRenderIdempotent(t *testing.T) {
	first, err := Render(testVirtualHost())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	second, err := Render(testVirtualHost())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("re-rendering identical inputs produced different output")
	}
}

func TestRenderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*VirtualHost)
	}{
		{
			name:   "empty upstream servers",
			mutate: func(vh *VirtualHost) { vh.Upstream.Servers = nil },
		},
		{
			name:   "blank upstream server entry",
			mutate: func(vh *VirtualHost) { vh.Upstream.Servers = []string{"  "} },
		},
		{
			name:   "missing upstream name",
			mutate: func(vh *VirtualHost) { vh.Upstream.Name = "" },
		},
		{
			name:   "missing server name",
			mutate: func(vh *VirtualHost) { vh.ServerName = "" },
		},
		{
			name:   "missing certificate",
			mutate: func(vh *VirtualHost) { vh.SSL.Certificate = "" },
		},
		{
			name:   "missing certificate key",
			mutate: func(vh *VirtualHost) { vh.SSL.CertificateKey = "" },
		},
		{
			name:   "empty protocol set",
			mutate: func(vh *VirtualHost) { vh.SSLProtocols = nil },
		},
		{
			name:   "missing body size",
			mutate: func(vh *VirtualHost) { vh.ClientMaxBodySize = "" },
		},
		{
			name:   "zero read timeout",
			mutate: func(vh *VirtualHost) { vh.ProxyReadTimeout = 0 },
		},
		{
			name:   "sub-millisecond read timeout",
			mutate: func(vh *VirtualHost) { vh.ProxyReadTimeout = 500 * time.Microsecond },
		},
		{
			name:   "missing fragments glob",
			mutate: func(vh *VirtualHost) { vh.FragmentsGlob = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vh := testVirtualHost()
			tt.mutate(&vh)
			if _, err := Render(vh); err == nil {
				t.Errorf("expected render error, got none")
			}
		})
	}
}

func TestRenderFragment(t *testing.T) {
	frag := Fragment{
		Name:      "tenant-a",
		Path:      "/tenant-a/",
		ProxyPass: "10.0.1.5:8080",
		Options: map[string]string{
			"proxy_set_header":     "Host $host",
			"client_max_body_size": "50m",
		},
	}

	doc, err := RenderFragment(frag)
	if err != nil {
		t.Fatalf("render fragment failed: %v", err)
	}
	text := string(doc)

	if err := Validate(doc); err != nil {
		t.Errorf("rendered fragment failed validation: %v", err)
	}
	if !strings.Contains(text, "location /tenant-a/ {") {
		t.Errorf("fragment missing location block:\n%s", text)
	}
	if !strings.Contains(text, "proxy_pass http://10.0.1.5:8080;") {
		t.Errorf("fragment missing proxy_pass:\n%s", text)
	}

	// Options render sorted by key so output is stable
	bodySize := strings.Index(text, "client_max_body_size 50m;")
	setHeader := strings.Index(text, "proxy_set_header Host $host;")
	if bodySize < 0 || setHeader < 0 {
		t.Fatalf("fragment missing options:\n%s", text)
	}
	if bodySize > setHeader {
		t.Errorf("fragment options not rendered in key order")
	}

	again, err := RenderFragment(frag)
	if err != nil {
		t.Fatalf("render fragment failed: %v", err)
	}
	if !bytes.Equal(doc, again) {
		t.Errorf("re-rendering identical fragment produced different output")
	}
}

func TestRenderFragmentValidation(t *testing.T) {
	tests := []struct {
		name string
		frag Fragment
	}{
		{
			name: "missing name",
			frag: Fragment{Path: "/x/", ProxyPass: "10.0.0.1:80"},
		},
		{
			name: "relative path",
			frag: Fragment{Name: "x", Path: "x/", ProxyPass: "10.0.0.1:80"},
		},
		{
			name: "missing proxy pass",
			frag: Fragment{Name: "x", Path: "/x/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RenderFragment(tt.frag); err == nil {
				t.Errorf("expected render error, got none")
			}
		})
	}
}
