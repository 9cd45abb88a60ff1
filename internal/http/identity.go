package http

import (
	"net/http"
	"strings"
)

// ClientIdentity derives the rate-limit identity: the first X-Forwarded-For
// hop, else X-Real-IP, else "" (the shared default bucket). RemoteAddr is not
// used; behind the load balancer it is always the balancer.
func ClientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}
