package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/speechd/asr-gateway/internal/api/handlers"
	"github.com/speechd/asr-gateway/internal/api/middleware"
	"github.com/speechd/asr-gateway/internal/asr"
	"github.com/speechd/asr-gateway/internal/audit"
	"github.com/speechd/asr-gateway/internal/auth"
	"github.com/speechd/asr-gateway/internal/cache"
	"github.com/speechd/asr-gateway/internal/config"
	"github.com/speechd/asr-gateway/internal/fetch"
	"github.com/speechd/asr-gateway/internal/queue"
	"github.com/speechd/asr-gateway/internal/transcribe"
	"github.com/speechd/asr-gateway/internal/upload"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
	rec   asr.Recognizer
	authM *auth.Middleware
}

// NewRouter wires the request path around an already-constructed recognizer
// handle. The recognizer is built once at process start and shared.
func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, rec asr.Recognizer) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
		rec:   rec,
		authM: auth.NewMiddleware(cfg.Auth.APIKey, cfg.Auth.JWTSecret),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(50, 100)
	r.Use(rl.Limit)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Initialize services
	store := upload.NewStore(rt.cfg.Upload.StagingRoot)
	assembler := upload.NewAssembler(store)
	fetcher := fetch.NewFetcher(os.TempDir())

	var resultCache *cache.Cache
	var queueClient *queue.Client
	if rt.redis != nil {
		resultCache = cache.NewCache(rt.redis)
		queueClient = queue.NewClient(rt.cfg.Redis)
	}

	gwOpts := transcribe.Options{
		Cache:    resultCache,
		Timeout:  rt.cfg.ASR.Timeout,
		CacheTTL: rt.cfg.ASR.CacheTTL,
	}

	var auditSvc *audit.Service
	if rt.db != nil {
		auditSvc = audit.NewService(rt.db)
		gwOpts.Audit = auditSvc
	}

	gw := transcribe.NewGateway(rt.rec, gwOpts)

	audioH := handlers.NewAudioHandler(gw, assembler, fetcher, queueClient, rt.cfg.Upload.SessionTTL)
	adminH := handlers.NewAdminHandler(auditSvc)

	r.Route("/v1", func(r chi.Router) {
		r.Use(rt.authM.Authenticate)

		r.Route("/audio", func(r chi.Router) {
			r.Post("/transcriptions", audioH.Transcribe)
			r.Post("/chunk", audioH.UploadChunk)
			r.Post("/merge", audioH.Merge)
			r.Post("/from_url", audioH.FromURL)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/usage", adminH.Usage)
		})
	})

	return r
}
