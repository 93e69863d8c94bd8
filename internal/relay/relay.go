// Package relay implements the CORS proxy: the full target URL rides in
// the request path and the relay forwards the call, scrubbing
// origin-identifying request headers and replacing the upstream's CORS
// response headers with permissive ones.
package relay

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const preflightMaxAge = "86400"

// Hop-by-hop headers never forwarded in either direction, plus the
// origin-identifying ones vendors use to reject browser calls.
var strippedRequestHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Host":                {},
	"Origin":              {},
	"Referer":             {},
}

var strippedResponseHeaders = map[string]struct{}{
	"Connection":                       {},
	"Keep-Alive":                       {},
	"Transfer-Encoding":                {},
	"Access-Control-Allow-Origin":      {},
	"Access-Control-Allow-Methods":     {},
	"Access-Control-Allow-Headers":     {},
	"Access-Control-Allow-Credentials": {},
	"Access-Control-Expose-Headers":    {},
	"Access-Control-Max-Age":           {},
}

// Handler is the relay's HTTP handler.
type Handler struct {
	client *http.Client
	log    *slog.Logger

	// allowedOrigins is the parsed allow-list; empty means any origin.
	allowedOrigins []string
}

// NewHandler builds a relay handler. allowedOrigins is the raw
// comma-separated allow-list ("" allows any origin). client may be nil.
func NewHandler(client *http.Client, allowedOrigins string, logger *slog.Logger) *Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	var origins []string
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return &Handler{client: client, log: logger, allowedOrigins: origins}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	allowOrigin, ok := h.resolveOrigin(origin)
	if !ok {
		h.writeCORS(w, allowOrigin)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		h.log.Warn("relay.origin_rejected", "origin", origin)
		return
	}

	if r.Method == http.MethodOptions {
		h.writeCORS(w, allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key, anthropic-version, x-goog-api-key")
		w.Header().Set("Access-Control-Max-Age", preflightMaxAge)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	target := strings.TrimPrefix(r.URL.Path, "/")
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		h.writeCORS(w, allowOrigin)
		http.Error(w, "path must contain a full http(s) target URL", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		h.writeCORS(w, allowOrigin)
		http.Error(w, "bad target URL: "+err.Error(), http.StatusBadRequest)
		return
	}
	for name, values := range r.Header {
		if _, strip := strippedRequestHeaders[http.CanonicalHeaderKey(name)]; strip {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	started := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.writeCORS(w, allowOrigin)
		http.Error(w, "upstream request failed: "+err.Error(), http.StatusBadGateway)
		h.log.Warn("relay.upstream_failed", "target", target, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for name, values := range resp.Header {
		if _, strip := strippedResponseHeaders[http.CanonicalHeaderKey(name)]; strip {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	h.writeCORS(w, allowOrigin)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.log.Warn("relay.stream_interrupted", "target", target, "error", err)
	}
	h.log.Debug("relay.forwarded",
		"method", r.Method,
		"target", target,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(started).Milliseconds())
}

// resolveOrigin checks the request origin against the allow-list. With no
// list configured everything is allowed with a wildcard. On mismatch the
// first allowed origin is returned so the 403 still carries a concrete
// CORS header.
func (h *Handler) resolveOrigin(origin string) (string, bool) {
	if len(h.allowedOrigins) == 0 {
		return "*", true
	}
	for _, o := range h.allowedOrigins {
		if o == origin {
			return origin, true
		}
	}
	return h.allowedOrigins[0], false
}

func (h *Handler) writeCORS(w http.ResponseWriter, allowOrigin string) {
	w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
}
