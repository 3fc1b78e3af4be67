package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// PermitIPs returns middleware that restricts an endpoint group to an
// allowlist. The allowlist is re-read per request so settings changes
// apply without restart; entries are single addresses or CIDR ranges,
// comma-separated. An empty allowlist permits any address.
func PermitIPs(allowlist func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			permitted := allowlist()
			if strings.TrimSpace(permitted) == "" {
				next.ServeHTTP(w, r)
				return
			}

			ip := net.ParseIP(extractIP(r))
			if ip == nil || !ipPermitted(ip, permitted) {
				slog.Warn("request from non-permitted address",
					"ip", extractIP(r), "path", r.URL.Path)
				writeMWError(w, http.StatusForbidden, "address not permitted")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func ipPermitted(ip net.IP, allowlist string) bool {
	for _, entry := range strings.Split(allowlist, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err != nil {
				slog.Warn("invalid allowlist entry", "entry", entry, "error", err)
				continue
			}
			if cidr.Contains(ip) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(ip) {
			return true
		}
	}
	return false
}
