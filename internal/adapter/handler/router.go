package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stockstream/internal/infrastructure/metrics"
)

// Handlers is everything the router mounts. Kafka and Archive may carry a nil
// backend; RateLimit may be nil.
type Handlers struct {
	Price     *PriceHandler
	Kafka     *KafkaHandler
	Archive   *ArchiveHandler
	Stream    *StreamHandler
	Health    *HealthHandler
	Mode      *ModeHandler
	RateLimit *RateLimiter
	Metrics   *metrics.Metrics
	Origins   []string
}

func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Instrument)
	r.Use(CORS(h.Origins))

	r.Get("/health", h.Health.Check)
	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())

	r.Route("/mode", func(r chi.Router) {
		r.Get("/", h.Mode.Current)
		r.Post("/test", h.Mode.SwitchToTest)
		r.Post("/live", h.Mode.SwitchToLive)
	})

	r.Route("/api/stock", func(r chi.Router) {
		r.Use(h.RateLimit.Handler)

		r.Get("/health", h.Price.Health)
		r.Get("/symbols", h.Price.Symbols)
		r.Get("/current", h.Price.AllCurrent)
		r.Get("/current/{symbol}", h.Price.Current)
		r.Get("/stats", h.Price.Stats)
		r.Delete("/clear", h.Price.Clear)

		r.Get("/history/kafka/all", h.Kafka.All)
		r.Get("/history/kafka/{symbol}", h.Kafka.Symbol)
		r.Get("/history/kafka/{symbol}/range", h.Kafka.SymbolRange)
		r.Get("/stats/kafka", h.Kafka.Stats)

		r.Get("/aggregates/{symbol}", h.Archive.Aggregates)

		r.Get("/history/{symbol}", h.Price.History)
		r.Get("/history/{symbol}/range", h.Price.HistoryRange)
	})

	r.Route("/api/stream", func(r chi.Router) {
		r.Get("/stats", h.Stream.Stats)
		r.Get("/stocks", h.Stream.SSEAll)
		r.Get("/stocks/{symbol}", h.Stream.SSESymbol)
	})

	r.Get("/ws/stocks", h.Stream.WSAll)
	r.Get("/ws/stocks/{symbol}", h.Stream.WSSymbol)

	return r
}
