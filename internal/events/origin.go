package events

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// LocalOrigin reports whether r comes from a page the daemon may trust: no
// Origin at all (curl, the kina clients), a loopback origin, or the host
// the request was sent to.
func LocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}

	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
