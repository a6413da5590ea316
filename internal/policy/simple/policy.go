// Package simple contains a host allow-list deciding which sites may be
// promoted to the rendered transport.
package simple

import (
	"net/url"
	"strings"
)

// Policy allows headless rendering for the listed hosts. An empty policy
// allows every host.
type Policy struct {
	hosts map[string]struct{}
}

// New creates a Policy from host names or URLs.
func New(hosts ...string) *Policy {
	p := &Policy{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		if name := hostName(h); name != "" {
			p.hosts[name] = struct{}{}
		}
	}
	return p
}

// AllowHeadless reports whether rawURL may be rendered.
func (p *Policy) AllowHeadless(rawURL string) bool {
	if p == nil || len(p.hosts) == 0 {
		return true
	}
	_, ok := p.hosts[hostName(rawURL)]
	return ok
}

func hostName(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
