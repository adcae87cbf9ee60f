package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ChannelPipeline/internal/query"
)

// Queries is the read side served by the API.
type Queries interface {
	ListChannels(ctx context.Context, offset, limit int) ([]query.Channel, error)
	ListMessages(ctx context.Context, filter query.MessageFilter) ([]query.Message, error)
	GetMessage(ctx context.Context, id int64) (query.Message, error)
	ChannelActivity(ctx context.Context, channel string, period query.Period, limit int) ([]query.ActivityPoint, error)
	Search(ctx context.Context, q string, limit int) (query.SearchResponse, error)
	Statistics(ctx context.Context) (query.Statistics, error)
	TopProducts(ctx context.Context, limit int) ([]query.ProductMention, error)
}

var _ Queries = (*query.Service)(nil)

// HealthFunc reports per-subsystem health.
type HealthFunc func(ctx context.Context) map[string]bool

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string          `json:"status"`
	Subsystems map[string]bool `json:"subsystems"`
	Timestamp  time.Time       `json:"timestamp"`
}

// IndexResponse is the body of GET /.
type IndexResponse struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// Handlers serves the query routes.
type Handlers struct {
	queries Queries
	health  HealthFunc
	metrics http.Handler
	version string
	logger  *slog.Logger
}

// HandlersDeps bundles what the routes need.
type HandlersDeps struct {
	Queries Queries
	Health  HealthFunc
	Metrics http.Handler
	Version string
	Logger  *slog.Logger
}

// NewHandlers creates the route handlers.
func NewHandlers(deps HandlersDeps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		queries: deps.Queries,
		health:  deps.Health,
		metrics: deps.Metrics,
		version: deps.Version,
		logger:  logger.With("component", "api"),
	}
}

var endpoints = []string{
	"/health",
	"/metrics",
	"/api/channels",
	"/api/channels/{name}/activity",
	"/api/messages",
	"/api/messages/{id}",
	"/api/search/messages",
	"/api/statistics",
	"/api/reports/top-products",
}

// Routes registers every route on router.
func (h *Handlers) Routes(router chi.Router) {
	router.Get("/", h.index)
	router.Get("/health", h.healthCheck)
	if h.metrics != nil {
		router.Method(http.MethodGet, "/metrics", h.metrics)
	}

	router.Route("/api", func(r chi.Router) {
		r.Get("/channels", h.listChannels)
		r.Get("/channels/{name}/activity", h.channelActivity)
		r.Get("/messages", h.listMessages)
		r.Get("/messages/{id}", h.getMessage)
		r.Get("/search/messages", h.search)
		r.Get("/statistics", h.statistics)
		r.Get("/reports/top-products", h.topProducts)
	})
}

func (h *Handlers) index(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, IndexResponse{
		Name:      "channel-pipeline",
		Version:   h.version,
		Endpoints: endpoints,
	})
}

func (h *Handlers) healthCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := map[string]bool{}
	if h.health != nil {
		subsystems = h.health(r.Context())
	}

	resp := HealthResponse{Status: "healthy", Subsystems: subsystems, Timestamp: time.Now().UTC()}
	status := http.StatusOK
	for _, ok := range subsystems {
		if !ok {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			break
		}
	}
	WriteJSON(w, status, resp)
}

func (h *Handlers) listChannels(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := paging(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	channels, err := h.queries.ListChannels(r.Context(), offset, limit)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, channels)
}

func (h *Handlers) channelActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	period := query.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = query.Daily
	}

	points, err := h.queries.ChannelActivity(r.Context(), chi.URLParam(r, "name"), period, limit)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, points)
}

func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := paging(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	filter := query.MessageFilter{
		Channel: r.URL.Query().Get("channel"),
		Offset:  offset,
		Limit:   limit,
	}
	if raw := r.URL.Query().Get("has_image"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			WriteError(w, r, fmt.Errorf("%w: has_image must be a boolean", query.ErrInvalidArgument), h.logger)
			return
		}
		filter.HasImage = &v
	}

	messages, err := h.queries.ListMessages(r.Context(), filter)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, messages)
}

func (h *Handlers) getMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		WriteError(w, r, fmt.Errorf("%w: message id must be an integer", query.ErrInvalidArgument), h.logger)
		return
	}

	message, err := h.queries.GetMessage(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, message)
}

func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	q := r.URL.Query().Get("query")
	if q == "" {
		q = r.URL.Query().Get("q")
	}

	resp, err := h.queries.Search(r.Context(), strings.TrimSpace(q), limit)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *Handlers) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queries.Statistics(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func (h *Handlers) topProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	products, err := h.queries.TopProducts(r.Context(), limit)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, products)
}

// paging reads offset and limit; skip is accepted as an alias for offset.
func paging(r *http.Request) (int, int, error) {
	name := "offset"
	if r.URL.Query().Get(name) == "" && r.URL.Query().Get("skip") != "" {
		name = "skip"
	}
	offset, err := intParam(r, name, 0)
	if err != nil {
		return 0, 0, err
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		return 0, 0, err
	}
	return offset, limit, nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", query.ErrInvalidArgument, name)
	}
	return v, nil
}
