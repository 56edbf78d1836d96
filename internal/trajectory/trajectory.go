// Package trajectory derives per-agent visit paths and summary statistics
// from a chronologically ordered list of check-ins. Nothing here is
// persisted; every view is rebuilt from its input.
package trajectory

import (
	"example.com/fieldtrack/internal/checkin"
)

// Point is a latitude/longitude pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Stop is a check-in with its visiting order for the day. Seq starts at 1
// for each (agent, date).
type Stop struct {
	checkin.Record
	Seq int `json:"seq"`
}

// Trajectory is one agent's stops in arrival order.
type Trajectory struct {
	AgentID string `json:"agentId"`
	Stops   []Stop `json:"stops"`
}

// Stats summarises the aggregated input.
type Stats struct {
	TotalCheckins int    `json:"totalCheckins"`
	TotalAgents   int    `json:"totalAgents"`
	PeriodStart   string `json:"periodStart,omitempty"`
	PeriodEnd     string `json:"periodEnd,omitempty"`
	// UnplacedCheckins had coordinates that could not be parsed and were
	// left out of the centroid.
	UnplacedCheckins int `json:"unplacedCheckins"`
}

// View is the aggregated result. Trajectories are ordered by the first
// appearance of each agent in the input.
type View struct {
	Trajectories []Trajectory `json:"trajectories"`
	Stats        Stats        `json:"statistics"`
	Centroid     Point        `json:"centroid"`
}

// ByAgent indexes the trajectories by agent id.
func (v View) ByAgent() map[string][]Stop {
	out := make(map[string][]Stop, len(v.Trajectories))
	for _, t := range v.Trajectories {
		out[t.AgentID] = t.Stops
	}
	return out
}

// Aggregate partitions records by agent, numbers each agent's stops per
// day and computes the statistics. records must already be ordered by
// (date, time, key); ties keep their input order. home is the centroid
// reported when no record has usable coordinates.
func Aggregate(records []checkin.Record, home Point) View {
	view := View{
		Trajectories: []Trajectory{},
		Centroid:     home,
	}
	if len(records) == 0 {
		return view
	}

	index := map[string]int{}
	lastDate := map[string]string{}
	seq := map[string]int{}
	var sumLat, sumLng float64
	placed := 0

	for _, rec := range records {
		i, ok := index[rec.AgentID]
		if !ok {
			i = len(view.Trajectories)
			index[rec.AgentID] = i
			view.Trajectories = append(view.Trajectories, Trajectory{AgentID: rec.AgentID})
		}
		if lastDate[rec.AgentID] != rec.Date {
			lastDate[rec.AgentID] = rec.Date
			seq[rec.AgentID] = 0
		}
		seq[rec.AgentID]++
		view.Trajectories[i].Stops = append(view.Trajectories[i].Stops, Stop{Record: rec, Seq: seq[rec.AgentID]})

		if lat, lng, ok := rec.Coordinates(); ok {
			sumLat += lat
			sumLng += lng
			placed++
		} else {
			view.Stats.UnplacedCheckins++
		}
	}

	view.Stats.TotalCheckins = len(records)
	view.Stats.TotalAgents = len(view.Trajectories)
	view.Stats.PeriodStart = records[0].Date
	view.Stats.PeriodEnd = records[len(records)-1].Date
	if placed > 0 {
		view.Centroid = Point{Lat: sumLat / float64(placed), Lng: sumLng / float64(placed)}
	}
	return view
}

// NewSince returns the records of next whose keys do not appear in prev,
// keeping next's order.
func NewSince(prev, next []checkin.Record) []checkin.Record {
	seen := make(map[int64]struct{}, len(prev))
	for _, r := range prev {
		seen[r.Key] = struct{}{}
	}
	var out []checkin.Record
	for _, r := range next {
		if _, ok := seen[r.Key]; !ok {
			out = append(out, r)
		}
	}
	return out
}
