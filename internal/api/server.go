package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"example.com/fieldtrack/internal/catalog"
	"example.com/fieldtrack/internal/checkin"
	"example.com/fieldtrack/internal/page"
	"example.com/fieldtrack/internal/prospect"
	"example.com/fieldtrack/internal/trajectory"
)

// CheckinReader is the read side used by the check-in routes.
type CheckinReader interface {
	List(ctx context.Context, c checkin.Criteria) (page.Envelope[checkin.Record], error)
	Map(ctx context.Context, c checkin.Criteria) (checkin.MapResult, error)
	Latest(ctx context.Context, agentID string) (*checkin.Record, error)
}

type ProspectLister interface {
	List(ctx context.Context, c prospect.Criteria) (page.Envelope[prospect.Prospect], error)
}

// CatalogWriter is the mutation side used by the image and commission routes.
type CatalogWriter interface {
	UpsertImage(ctx context.Context, productCode, imageURL string) error
	Image(ctx context.Context, productCode string) (catalog.Image, error)
	DeleteImage(ctx context.Context, productCode string) error
	UpdateCommission(ctx context.Context, agentCode string, percent float64) error
	Commission(ctx context.Context, agentCode string) (catalog.Commission, error)
}

// Pinger is anything /healthz can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Checkins  CheckinReader
	Prospects ProspectLister
	Catalog   CatalogWriter
	// Probes are checked by /healthz, keyed by store name.
	Probes map[string]Pinger
	// Home is the map centre used when a query has no placed check-ins.
	Home   trajectory.Point
	Logger zerolog.Logger
}

// Server exposes the field tracking HTTP API.
type Server struct {
	checkins  CheckinReader
	prospects ProspectLister
	catalog   CatalogWriter
	probes    map[string]Pinger
	home      trajectory.Point
	log       zerolog.Logger
}

func NewServer(d Deps) *Server {
	return &Server{
		checkins:  d.Checkins,
		prospects: d.Prospects,
		catalog:   d.Catalog,
		probes:    d.Probes,
		home:      d.Home,
		log:       d.Logger,
	}
}

// Router wires every route under a single chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/checkins", func(r chi.Router) {
			r.Get("/", s.handleListCheckins)
			r.Get("/map", s.handleMap)
			r.Get("/latest/{agent}", s.handleLatest)
		})
		r.Get("/prospects", s.handleListProspects)
		r.Route("/images/{productCode}", func(r chi.Router) {
			r.Get("/", s.handleGetImage)
			r.Put("/", s.handleUpsertImage)
			r.Delete("/", s.handleDeleteImage)
		})
		r.Route("/commissions/{agentCode}", func(r chi.Router) {
			r.Get("/", s.handleGetCommission)
			r.Put("/", s.handleUpdateCommission)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	stores := make(map[string]string, len(s.probes))
	for name, p := range s.probes {
		if err := p.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Str("store", name).Msg("health probe failed")
			stores[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		stores[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"ok": status == http.StatusOK, "stores": stores})
}

// storeContext detaches store calls from client disconnects. A client
// that gives up abandons the response, not the backend operation.
func storeContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
