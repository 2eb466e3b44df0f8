package api

import (
	"net/http"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/probe"
)

type probeMetaRequest struct {
	Domain   string          `json:"domain"`
	URL      string          `json:"url"`
	Level    *int            `json:"level"`
	Head     model.Signature `json:"head"`
	GetRange model.Signature `json:"get_range"`
}

// probeMeta implements spec §6's POST /probe/meta: ingest a caller-supplied
// HEAD/ranged-GET signature and record whether the URL changed since last
// seen (spec §4.8). The sink never issues the probe itself.
func (s *Server) probeMeta(w http.ResponseWriter, r *http.Request) {
	var req probeMetaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	domain := resolveDomain(req.Domain, nil, []string{req.URL})

	var result probe.Result
	err := s.withLock(func() error {
		st, err := s.stores.Get(domain)
		if err != nil {
			return err
		}
		svc := probe.Service{
			Store:        st,
			Clock:        s.clock,
			MetaFirstRow: s.cfg.Artifacts.Encoding == "meta_first_row",
		}
		result, err = svc.Ingest(probe.Request{
			URL:      req.URL,
			Level:    req.Level,
			Head:     req.Head,
			GetRange: req.GetRange,
		})
		return err
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"signature": result.Signature,
		"changed":   result.Changed,
	})
}
