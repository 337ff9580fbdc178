package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/obs"
)

const serviceName = "gatekeep-api"

// Pinger reports backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks readiness by pinging the store.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// Options wires the API to the core services.
type Options struct {
	Service    *auth.Service
	Workflows  *auth.Workflows
	Authorizer *auth.Authorizer
	Ready      ReadyProbe
	Metrics    *obs.Metrics
	Audit      *audit.Logger
	Logger     *slog.Logger

	Version string
	Commit  string

	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	Production     bool
}

// API is the HTTP layer.
type API struct {
	opts       Options
	service    *auth.Service
	workflows  *auth.Workflows
	authorizer *auth.Authorizer
	audit      *audit.Logger
	logger     *slog.Logger
	validate   *validator.Validate
	ops        map[string]operation
	router     chi.Router
}

// New builds the router and operation registry.
func New(opts Options) (*API, error) {
	if opts.Service == nil || opts.Workflows == nil || opts.Authorizer == nil {
		return nil, errors.New("httpapi: service, workflows and authorizer are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Audit == nil {
		opts.Audit = audit.New(opts.Logger)
	}
	a := &API{
		opts:       opts,
		service:    opts.Service,
		workflows:  opts.Workflows,
		authorizer: opts.Authorizer,
		audit:      opts.Audit,
		logger:     opts.Logger,
		validate:   newValidator(),
		ops:        make(map[string]operation),
	}
	for _, op := range operations() {
		a.ops[op.name] = op
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestContext)
	r.Use(Logging(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(a.opts.Metrics.Instrument)
	r.Use(SecurityHeaders(a.opts.Production))
	r.Use(CORS(a.opts.AllowedOrigins))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	if a.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.opts.Metrics.Handler())
	}

	r.Route("/v1/operations", func(r chi.Router) {
		r.Use(RateLimit(a.opts.RateLimitRPS, a.opts.RateLimitBurst))
		r.Use(MaxBodyBytes(a.opts.MaxBodyBytes))
		if a.opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(a.opts.RequestTimeout))
		}
		r.Use(a.withPrincipal)
		r.Get("/", a.Catalogue)
		r.Post("/", a.Execute)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorEnvelope(badRequestStatus("NOT_FOUND", http.StatusNotFound)))
	})
	return r
}

// Handler returns the http.Handler for the server.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Ready.Check(r.Context()); err != nil {
		a.logger.WarnContext(r.Context(), "readiness check failed", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
		"commit":  a.opts.Commit,
	})
}

func badRequestStatus(code string, status int) responseError {
	re := badRequest(code, code)
	re.Extensions.Status = status
	return re
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// bcrypt limits passwords by bytes while max counts runes.
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
	return v
}
