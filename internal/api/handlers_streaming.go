package api

import (
	"net/http"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
)

type startURLsRequest struct {
	Domain string `json:"domain"`
	Level  int    `json:"level"`
	RunID  string `json:"run_id"`
}

// startURLs implements spec §6's POST /runs/start/urls: truncate a
// streaming bucket and clear any stale .done marker for it.
func (s *Server) startURLs(w http.ResponseWriter, r *http.Request) {
	var req startURLsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	domain := resolveDomain(req.Domain, nil, nil)

	err := s.withLock(func() error {
		return s.streaming.Start(domain, req.Level, req.RunID)
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type appendURLsRequest struct {
	Domain  string                `json:"domain"`
	Level   int                   `json:"level"`
	RunID   string                `json:"run_id"`
	Visited []string              `json:"visited"`
	Pages   []string              `json:"pages"`
	Files   []model.FileCandidate `json:"files"`
}

// appendURLs implements spec §6's POST /runs/append/urls: append one
// batch record to the running bucket.
func (s *Server) appendURLs(w http.ResponseWriter, r *http.Request) {
	var req appendURLsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	domain := resolveDomain(req.Domain, nil, nil)

	err := s.withLock(func() error {
		return s.streaming.Append(domain, req.Level, req.RunID, model.StreamingRecord{
			Visited: req.Visited,
			Pages:   req.Pages,
			Files:   req.Files,
		})
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type finalizeURLsRequest struct {
	Domain string `json:"domain"`
	Level  int    `json:"level"`
	RunID  string `json:"run_id"`
}

// finalizeURLs implements spec §6's POST /runs/finalize/urls: reduce the
// bucket into the level's frontier state. When domain is omitted, spec
// §4.7's cross-domain fallback lookup searches every domain's runs
// directory for the largest same-named bucket.
func (s *Server) finalizeURLs(w http.ResponseWriter, r *http.Request) {
	var req finalizeURLsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	var result struct {
		Visited   int
		Pages     int
		Files     int
		Remaining int
		NoOp      bool
	}

	err := s.withLock(func() error {
		if req.Domain == "" {
			fs, err := s.streaming.FinalizeCrossDomain(req.Level, req.RunID)
			if err != nil {
				return err
			}
			result.Visited, result.Pages, result.Files, result.Remaining, result.NoOp = fs.Visited, fs.Pages, fs.Files, fs.Remaining, fs.NoOp
			return nil
		}
		domain := resolveDomain(req.Domain, nil, nil)
		fs, err := s.streaming.Finalize(domain, req.Level, req.RunID)
		if err != nil {
			return err
		}
		result.Visited, result.Pages, result.Files, result.Remaining, result.NoOp = fs.Visited, fs.Pages, fs.Files, fs.Remaining, fs.NoOp
		return nil
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"visited":   result.Visited,
		"pages":     result.Pages,
		"files":     result.Files,
		"remaining": result.Remaining,
		"no_op":     result.NoOp,
	})
}
