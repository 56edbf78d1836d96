package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"example.com/fieldtrack/internal/checkin"
	"example.com/fieldtrack/internal/page"
	"example.com/fieldtrack/internal/prospect"
	"example.com/fieldtrack/internal/trajectory"
)

// listResponse is the stable shape of every paged endpoint, including when
// the backend fails.
type listResponse[T any] struct {
	Success bool `json:"success"`
	page.Envelope[T]
	Filters any    `json:"filters"`
	Error   string `json:"error,omitempty"`
}

type mapResponse struct {
	Success             bool                         `json:"success"`
	Checkins            []checkin.Record             `json:"checkins"`
	TrajectoriesByAgent map[string][]trajectory.Stop `json:"trajectoriesByAgent"`
	Statistics          trajectory.Stats             `json:"statistics"`
	Centroid            trajectory.Point             `json:"centroid"`
	Total               int                          `json:"total"`
	Truncated           bool                         `json:"truncated"`
	Filters             checkin.Criteria             `json:"filters"`
	Error               string                       `json:"error,omitempty"`
}

func checkinCriteria(r *http.Request) checkin.Criteria {
	q := r.URL.Query()
	// unplaced visits are hidden unless asked for with placed=false
	return checkin.Criteria{
		AgentID:    strings.TrimSpace(q.Get("agent")),
		DateFrom:   strings.TrimSpace(q.Get("dateInicio")),
		DateTo:     strings.TrimSpace(q.Get("dateFim")),
		Client:     strings.TrimSpace(q.Get("client")),
		City:       strings.TrimSpace(q.Get("city")),
		Page:       parseIntDefault(q.Get("page"), 1),
		Limit:      parseIntDefault(q.Get("limit"), 0),
		PlacedOnly: parseBoolDefault(q.Get("placed"), true),
	}
}

func (s *Server) handleListCheckins(w http.ResponseWriter, r *http.Request) {
	c := checkinCriteria(r)
	env, err := s.checkins.List(storeContext(r), c)
	if err != nil {
		s.log.Error().Stack().Err(err).Msg("list checkins failed")
		writeJSON(w, statusFor(err), listResponse[checkin.Record]{
			Envelope: emptyEnvelope[checkin.Record](c.Page, c.Limit),
			Filters:  c,
			Error:    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, listResponse[checkin.Record]{Success: true, Envelope: env, Filters: c})
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	c := checkinCriteria(r)
	c.Page, c.Limit = 0, 0
	c.PlacedOnly = true

	res, err := s.checkins.Map(storeContext(r), c)
	if err != nil {
		s.log.Error().Stack().Err(err).Msg("map checkins failed")
		writeJSON(w, statusFor(err), mapResponse{
			Checkins:            []checkin.Record{},
			TrajectoriesByAgent: map[string][]trajectory.Stop{},
			Centroid:            s.home,
			Filters:             c,
			Error:               err.Error(),
		})
		return
	}

	view := trajectory.Aggregate(res.Checkins, s.home)
	writeJSON(w, http.StatusOK, mapResponse{
		Success:             true,
		Checkins:            res.Checkins,
		TrajectoriesByAgent: view.ByAgent(),
		Statistics:          view.Stats,
		Centroid:            view.Centroid,
		Total:               res.Total,
		Truncated:           res.Truncated,
		Filters:             c,
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	rec, err := s.checkins.Latest(storeContext(r), agent)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.log.Error().Stack().Err(err).Str("agent", agent).Msg("latest checkin failed")
		}
		writeError(w, status, "%s", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "checkin": rec})
}

func (s *Server) handleListProspects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := prospect.Criteria{
		Search:  strings.TrimSpace(q.Get("search")),
		AgentID: strings.TrimSpace(q.Get("agent")),
		Scope: prospect.Scope{
			Company:  strings.TrimSpace(q.Get("company")),
			Group:    strings.TrimSpace(q.Get("group")),
			Subgroup: strings.TrimSpace(q.Get("subgroup")),
		},
		Page:  parseIntDefault(q.Get("page"), 1),
		Limit: parseIntDefault(q.Get("limit"), 0),
	}
	env, err := s.prospects.List(storeContext(r), c)
	if err != nil {
		s.log.Error().Stack().Err(err).Msg("list prospects failed")
		writeJSON(w, statusFor(err), listResponse[prospect.Prospect]{
			Envelope: emptyEnvelope[prospect.Prospect](c.Page, c.Limit),
			Filters:  c,
			Error:    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, listResponse[prospect.Prospect]{Success: true, Envelope: env, Filters: c})
}

func emptyEnvelope[T any](pageNum, limit int) page.Envelope[T] {
	return page.Envelope[T]{Rows: []T{}, Page: max(pageNum, 1), Limit: max(limit, 0)}
}
