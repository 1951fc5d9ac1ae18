package nginx

import "text/template"

const vhostTemplateText = `# Generated by nginx-vhost-sync. DO NOT EDIT.
# This file is regenerated on every sync; manual changes are overwritten.

upstream {{ .Upstream.Name }} {
{{- range .Upstream.Servers }}
    server {{ . }};
{{- end }}
}

server {
    listen {{ .RedirectPort }};
    server_name {{ .ServerName }};
    return 301 https://$host$request_uri;
}

server {
    listen {{ .TLSPort }} ssl;
    server_name {{ .ServerName }};

    ssl_certificate {{ .SSL.Certificate }};
    ssl_certificate_key {{ .SSL.CertificateKey }};
    ssl_protocols {{ .Protocols }};

    client_max_body_size {{ .ClientMaxBodySize }};
    proxy_read_timeout {{ .ReadTimeout }};

    location / {
        proxy_pass http://{{ .Upstream.Name }};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }

    include {{ .FragmentsGlob }};
}
`

const fragmentTemplateText = `# Generated by nginx-vhost-sync. DO NOT EDIT.
# Site: {{ .Name }}

location {{ .Path }} {
    proxy_pass http://{{ .ProxyPass }};
{{- range .Options }}
    {{ .Key }} {{ .Value }};
{{- end }}
}
`

var (
	vhostTemplate    = template.Must(template.New("vhost").Parse(vhostTemplateText))
	fragmentTemplate = template.Must(template.New("fragment").Parse(fragmentTemplateText))
)
