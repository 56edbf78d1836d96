// Package watch keeps a client-side copy of each agent's map view fresh by
// polling the latest check-in and refetching the whole view when it moves.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/fieldtrack/internal/checkin"
	"example.com/fieldtrack/internal/metrics"
	"example.com/fieldtrack/internal/trajectory"
)

const DefaultInterval = 30 * time.Second

// Source is the read side the watcher polls. *Client satisfies it.
type Source interface {
	Latest(ctx context.Context, agentID string) (*checkin.Record, error)
	Map(ctx context.Context, crit checkin.Criteria) (MapView, error)
}

// RefreshFunc is called after each full refetch with the records that were
// not in the previous view.
type RefreshFunc func(agentID string, view MapView, added []checkin.Record)

type Options struct {
	Agents   []string
	Interval time.Duration
	// Filter narrows every refetch. Its AgentID is overwritten per agent.
	Filter    checkin.Criteria
	OnRefresh RefreshFunc
}

type agentState struct {
	seeded  bool
	lastKey int64
	view    MapView
}

// Watcher polls a fixed set of agents.
type Watcher struct {
	src       Source
	agents    []string
	interval  time.Duration
	filter    checkin.Criteria
	onRefresh RefreshFunc
	log       zerolog.Logger

	mu    sync.Mutex
	state map[string]*agentState
}

func New(src Source, opts Options, log zerolog.Logger) *Watcher {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	state := make(map[string]*agentState, len(opts.Agents))
	for _, a := range opts.Agents {
		state[a] = &agentState{}
	}
	return &Watcher{
		src:       src,
		agents:    append([]string(nil), opts.Agents...),
		interval:  interval,
		filter:    opts.Filter,
		onRefresh: opts.OnRefresh,
		log:       log,
		state:     state,
	}
}

// Run seeds every agent, then polls once per interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Strs("agents", w.agents).Msg("watch loop started")
	w.Poll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().AnErr("reason", ctx.Err()).Msg("watch loop stopped")
			return nil
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll runs one round over every agent. An agent that has never been
// fetched successfully gets a full fetch regardless of its latest key.
func (w *Watcher) Poll(ctx context.Context) {
	for _, agent := range w.agents {
		if ctx.Err() != nil {
			return
		}
		w.pollAgent(ctx, agent)
	}
}

// LastKey reports the last check-in key seen for agent.
func (w *Watcher) LastKey(agent string) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.state[agent]
	if !ok || !st.seeded {
		return 0, false
	}
	return st.lastKey, true
}

// View returns the last full view fetched for agent.
func (w *Watcher) View(agent string) (MapView, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.state[agent]
	if !ok || !st.seeded {
		return MapView{}, false
	}
	return st.view, true
}

func (w *Watcher) pollAgent(ctx context.Context, agent string) {
	log := w.log.With().Str("agent", agent).Logger()

	latest, err := w.src.Latest(ctx, agent)
	if err != nil {
		log.Warn().Err(err).Msg("latest poll failed; retrying next tick")
		return
	}
	var key int64
	if latest != nil {
		key = latest.Key
	}

	w.mu.Lock()
	st := w.state[agent]
	unchanged := st.seeded && st.lastKey == key
	prev := st.view.Checkins
	w.mu.Unlock()
	if unchanged {
		log.Debug().Int64("key", key).Msg("no new check-ins")
		return
	}

	crit := w.filter
	crit.AgentID = agent
	view, err := w.src.Map(ctx, crit)
	if err != nil {
		log.Warn().Err(err).Msg("refetch failed; retrying next tick")
		return
	}
	added := trajectory.NewSince(prev, view.Checkins)

	w.mu.Lock()
	first := !st.seeded
	st.seeded = true
	st.lastKey = key
	st.view = view
	w.mu.Unlock()

	if first {
		log.Info().Int64("key", key).Int("checkins", len(view.Checkins)).Msg("agent seeded")
	} else {
		metrics.WatchRefresh(agent)
		log.Info().
			Int64("key", key).
			Int("checkins", len(view.Checkins)).
			Int("new", len(added)).
			Bool("truncated", view.Truncated).
			Msg("view refreshed")
	}
	if w.onRefresh != nil {
		w.onRefresh(agent, view, added)
	}
}
