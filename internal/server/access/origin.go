package access

import (
	"net/url"
	"strings"

	"github.com/dmitrijs2005/flyfile/internal/common"
)

// OriginChecker guards browser-originated mutating requests against CSRF.
type OriginChecker struct {
	allowed    map[string]struct{}
	production bool
}

func NewOriginChecker(allowed []string, production bool) *OriginChecker {
	m := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = normalizeOrigin(o); o != "" {
			m[o] = struct{}{}
		}
	}
	return &OriginChecker{allowed: m, production: production}
}

// Check validates the Origin header, falling back to Referer. When both are
// missing the request passes outside production and fails in production.
func (c *OriginChecker) Check(origin, referer string) error {
	candidate := normalizeOrigin(origin)
	if candidate == "" {
		candidate = normalizeOrigin(referer)
	}
	if candidate == "" {
		if c.production {
			return common.ErrForbidden
		}
		return nil
	}
	if _, ok := c.allowed[candidate]; ok {
		return nil
	}
	return common.ErrForbidden
}

// normalizeOrigin reduces a URL to scheme://host[:port].
func normalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
