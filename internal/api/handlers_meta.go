package api

import (
	"net/http"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/routing"
)

// health implements spec §6's GET /health: current domain resolution and
// roots, plus the configured upload size cap in human-readable form.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	domain := resolveDomain(r.URL.Query().Get("domain"), nil, nil)

	st, err := s.stores.Get(domain)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	projectRoot, err := filepath.Abs(s.cfg.Server.ProjectRoot)
	if err != nil {
		projectRoot = s.cfg.Server.ProjectRoot
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"domain_key":     st.Tree().Domain,
		"project_root":   projectRoot,
		"downloads_root": st.Tree().DownloadsDir,
		"max_upload_size": humanize.Bytes(uint64(s.cfg.Upload.MaxBodyBytes)),
	})
}

type electoratesRequest struct {
	Domain        string            `json:"domain"`
	TermKey       string            `json:"termKey"`
	OfficialOrder map[string]string `json:"official_order"`
}

// upsertElectorates implements spec §6's POST /meta/electorates: upsert one
// term's official ordinal->name mapping, rebuilding the alphabetical
// name->rank order from the names it contains.
func (s *Server) upsertElectorates(w http.ResponseWriter, r *http.Request) {
	var req electoratesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TermKey == "" {
		writeError(w, http.StatusBadRequest, "termKey is required")
		return
	}

	domain := resolveDomain(req.Domain, nil, nil)
	order := model.TermOrder{
		OfficialOrder:     req.OfficialOrder,
		AlphabeticalOrder: routing.RebuildAlphabeticalOrder(req.OfficialOrder),
	}

	err := s.withLock(func() error {
		st, err := s.stores.Get(domain)
		if err != nil {
			return err
		}
		return st.PutTerm(req.TermKey, order)
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"termKey":            req.TermKey,
		"official_order":     order.OfficialOrder,
		"alphabetical_order": order.AlphabeticalOrder,
	})
}

// getElectorates implements spec §6's GET /meta/electorates: the full term
// map for a domain. Read-only, skips the mutation lock (spec §5).
func (s *Server) getElectorates(w http.ResponseWriter, r *http.Request) {
	domain := resolveDomain(r.URL.Query().Get("domain"), nil, nil)
	st, err := s.stores.Get(domain)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"terms": st.Terms()})
}

type resetElectoratesRequest struct {
	Domain string `json:"domain"`
}

// resetElectorates implements spec §6's POST /meta/electorates/reset.
func (s *Server) resetElectorates(w http.ResponseWriter, r *http.Request) {
	var req resetElectoratesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	domain := resolveDomain(req.Domain, nil, nil)

	err := s.withLock(func() error {
		st, err := s.stores.Get(domain)
		if err != nil {
			return err
		}
		return st.ResetTerms()
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
