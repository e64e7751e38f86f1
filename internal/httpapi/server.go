package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llamacore/internal/scheduler"
	"llamacore/internal/sink"
	"llamacore/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Ready() bool
	// WithEngine runs fn against the engine serving modelID, loading it on
	// demand. An empty id selects the default model.
	WithEngine(ctx context.Context, modelID string, fn func(*scheduler.Scheduler) error) error
}

// endpoint is a scheduler handler as a method expression.
type endpoint func(*scheduler.Scheduler, context.Context, []byte, sink.Sink) error

type server struct {
	svc Service
}

func NewMux(svc Service) http.Handler {
	s := &server{svc: svc}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// Compression for JSON endpoints; event streams are left alone
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/completion", s.engine((*scheduler.Scheduler).Completions))
	r.Post("/completions", s.engine((*scheduler.Scheduler).Completions))
	r.Post("/v1/completions", s.engine((*scheduler.Scheduler).CompletionsOAI))
	r.Post("/infill", s.engine((*scheduler.Scheduler).Infill))
	r.Post("/chat/completions", s.engine((*scheduler.Scheduler).ChatCompletions))
	r.Post("/v1/chat/completions", s.engine((*scheduler.Scheduler).ChatCompletions))
	r.Post("/embedding", s.engine((*scheduler.Scheduler).Embeddings))
	r.Post("/embeddings", s.engine((*scheduler.Scheduler).Embeddings))
	r.Post("/v1/embeddings", s.engine((*scheduler.Scheduler).EmbeddingsOAI))
	r.Get("/v1/chat/ws", s.chatWS)

	r.Get("/props", s.props)
	r.Get("/slots", s.slots)

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.ModelsResponse{Models: svc.ListModels()})
	})
	r.Get("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		models := svc.ListModels()
		list := types.OAIModelList{Object: "list", Data: make([]types.OAIModel, 0, len(models))}
		created := time.Now().Unix()
		for _, m := range models {
			list.Data = append(list.Data, types.OAIModel{ID: m.ID, Object: "model", Created: created, OwnedBy: "llamacore"})
		}
		writeJSON(w, list)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to encode response")
	}
}

// requestContext joins the server base context with the request context and
// applies the configured request timeout.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if requestTimeout <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, time.Duration(requestTimeout)*time.Second)
	return tctx, func() { tcancel(); cancel() }
}

// modelOf extracts the optional "model" field. Malformed bodies select the
// default model; the engine reports the parse error.
func modelOf(body []byte) string {
	var v struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &v)
	return strings.TrimSpace(v.Model)
}

func jsonContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == "application/json"
}

func (s *server) engine(ep endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !jsonContentType(r) {
			writeJSONError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "Content-Type must be application/json")
			return
		}
		// Limit body size (configurable, default 1MiB)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
			return
		}
		model := modelOf(body)

		lvl := requestLogLevel(r)
		if lvl >= LevelDebug {
			w = &teeResponseWriter{ResponseWriter: w, lw: &loggingLineWriter{path: r.URL.Path}}
		}
		logStart(r, lvl, model)
		start := time.Now()

		ctx, cancel := requestContext(r)
		defer cancel()
		snk := sink.NewHTTP(w, r)
		err = s.svc.WithEngine(ctx, model, func(eng *scheduler.Scheduler) error {
			return ep(eng, ctx, body, snk)
		})
		status := http.StatusOK
		switch {
		case snk.Started():
			// the engine wrote the outcome, including its own errors
			if e, ok := scheduler.AsError(err); ok {
				status = e.StatusCode()
			}
		case err != nil:
			status = writeServiceError(w, err)
		case r.Context().Err() != nil:
			// client disconnect
			return
		case ctx.Err() != nil:
			// cancelled by timeout or shutdown before any output
			status = writeServiceError(w, ctx.Err())
		}
		logEnd(r, lvl, status, start, err)
	}
}

func (s *server) props(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	var props types.Props
	err := s.svc.WithEngine(ctx, r.URL.Query().Get("model"), func(eng *scheduler.Scheduler) error {
		p, err := eng.Props()
		props = p
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, props)
}

func (s *server) slots(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	q := r.URL.Query()
	failOnNoSlot := q.Get("fail_on_no_slot") == "1" || q.Get("fail_on_no_slot") == "true"
	var slots []types.SlotStatus
	err := s.svc.WithEngine(ctx, q.Get("model"), func(eng *scheduler.Scheduler) error {
		st, err := eng.Slots(ctx, failOnNoSlot)
		slots = st
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, slots)
}
