package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies resolves the client address of a request. X-Forwarded-For
// is honoured only when the direct peer is a trusted proxy.
type TrustedProxies struct {
	networks []*net.IPNet
}

// NewTrustedProxies parses cidrs. A bare IP is treated as a single-host
// network.
func NewTrustedProxies(cidrs []string) (*TrustedProxies, error) {
	tp := &TrustedProxies{}
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", raw)
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			raw = fmt.Sprintf("%s/%d", ip, bits)
		}
		_, network, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		tp.networks = append(tp.networks, network)
	}
	return tp, nil
}

func (tp *TrustedProxies) trusted(ip net.IP) bool {
	if tp == nil || ip == nil {
		return false
	}
	for _, n := range tp.networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientAddress returns the caller address. When RemoteAddr belongs to a
// trusted proxy the X-Forwarded-For chain is walked from the right and the
// first hop that is not itself a trusted proxy wins; client-supplied entries
// to the left of it are ignored.
func (tp *TrustedProxies) ClientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if !tp.trusted(peer) {
		return host
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			// A malformed hop was written by someone we do not trust.
			break
		}
		if !tp.trusted(ip) {
			return ip.String()
		}
	}
	return host
}
