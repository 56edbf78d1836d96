package checkin

import (
	"math"
	"strconv"
	"strings"

	"example.com/fieldtrack/internal/filter"
	"example.com/fieldtrack/internal/store"
)

// Record is one field visit as stored upstream. Dates are YYYYMMDD and
// times HHMMSS; coordinates are decimal strings where "" and "0" mean unset.
type Record struct {
	Key        int64  `json:"key"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	ClientID   string `json:"clientId"`
	ClientName string `json:"clientName"`
	City       string `json:"city"`
	Latitude   string `json:"latitude"`
	Longitude  string `json:"longitude"`
	AgentID    string `json:"agentId"`
}

// Coordinates parses the stored position. A comma decimal separator is
// accepted. ok is false when either value is unset or unparseable.
func (r Record) Coordinates() (lat, lng float64, ok bool) {
	lat, okLat := parseCoord(r.Latitude)
	lng, okLng := parseCoord(r.Longitude)
	return lat, lng, okLat && okLng
}

func parseCoord(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Criteria selects check-ins. Blank fields do not constrain the result.
type Criteria struct {
	AgentID  string `json:"agent,omitempty"`
	DateFrom string `json:"dateInicio,omitempty"`
	DateTo   string `json:"dateFim,omitempty"`
	Client   string `json:"client,omitempty"`
	City     string `json:"city,omitempty"`
	Page     int    `json:"-"`
	Limit    int    `json:"-"`

	// PlacedOnly drops rows without usable coordinates.
	PlacedOnly bool `json:"placed"`
}

// Predicate is shared by the count and the row queries.
func (c Criteria) Predicate() filter.Predicate {
	b := filter.New().
		Eq("agent_id", c.AgentID).
		DateFrom("visit_date", c.DateFrom).
		DateTo("visit_date", c.DateTo).
		Contains(c.Client, "client_name").
		Eq("city", c.City)
	if c.PlacedOnly {
		b.Placed("latitude", "longitude")
	}
	return b.Predicate()
}

// MapResult is the unpaged, placed-only view of a criteria.
type MapResult struct {
	Checkins  []Record `json:"checkins"`
	Total     int      `json:"total"`
	Truncated bool     `json:"truncated"`
}

func fromRow(row store.Row) Record {
	return Record{
		Key:        row.Int64("id"),
		Date:       row.String("visit_date"),
		Time:       row.String("visit_time"),
		ClientID:   row.String("client_id"),
		ClientName: row.String("client_name"),
		City:       row.String("city"),
		Latitude:   row.String("latitude"),
		Longitude:  row.String("longitude"),
		AgentID:    row.String("agent_id"),
	}
}
