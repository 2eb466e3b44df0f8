package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/domainkey"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/sinkerr"
)

// writeJSON marshals payload with an {ok: true, ...} envelope merged in and
// writes it as the response body, per spec §6 ("success responses carry
// {ok: true, ...}").
func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["ok"] = true
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError writes spec §6's error envelope: {ok: false, error}.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}

// writeAPIError maps err to spec §7's error taxonomy and writes the
// corresponding status code.
func writeAPIError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor implements spec §7's error-to-status mapping via errors.Is
// against the sinkerr sentinels, never string matching.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sinkerr.Validation):
		return http.StatusBadRequest
	case errors.Is(err, sinkerr.NotFound):
		return http.StatusNotFound
	case errors.Is(err, sinkerr.ConflictUnresolvable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// resolveDomain implements spec §6's "Domain key resolution precedence per
// request": explicit domain hint wins; else a crawl-root-like URL's host;
// else a generic URL field's host; else Default.
func resolveDomain(explicit string, rootLikeURLs, urlFields []string) string {
	return domainkey.Resolve(explicit, rootLikeURLs, urlFields)
}

// decodeJSON decodes r's body into v, tolerating an absent or empty body
// (routes with no required fields, e.g. /meta/electorates/reset).
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
