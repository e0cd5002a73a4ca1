package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"libris/internal/assistant"
	"libris/internal/config"
	"libris/internal/domain"
	"libris/internal/metrics"
	"libris/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// Deps are the services exposed over HTTP.
type Deps struct {
	Bookings  *service.BookingService
	Purchases *service.PurchaseService
	Catalog   *service.CatalogService
	Assistant *assistant.Assistant
	// Health is optional; when set, /healthz reports its error as unavailable.
	Health func(ctx context.Context) error
}

// HTTPServer exposes the ledger and the assistant over a JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	server *http.Server
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{cfg: cfg, logger: logger}
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           NewRouter(cfg, deps, logger),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// NewRouter builds the chi router with the full middleware chain.
func NewRouter(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) http.Handler {
	h := &handlers{deps: deps, logger: logger}
	auth := NewHTTPAuth(cfg)

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverer(logger))

	r.Get("/healthz", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Wrap)

		r.Get("/books", h.listBooks)
		r.Get("/books/{id}", h.getBook)
		r.Post("/books/{id}/purchase", h.purchaseBook)

		r.Get("/resources", h.listResources)
		r.Get("/resources/{id}", h.getResource)
		r.Get("/resources/{id}/availability", h.checkAvailability)
		r.Get("/resources/{id}/slots", h.listSlots)

		r.Post("/bookings", h.createBooking)
		r.Get("/bookings", h.listBookings)
		r.Get("/bookings/{id}", h.getBooking)
		r.Delete("/bookings/{id}", h.cancelBooking)

		r.Get("/account", h.getAccount)
		r.Get("/account/transactions", h.listTransactions)

		r.Route("/assistant", func(r chi.Router) {
			r.Post("/chat", h.chat)
			r.Get("/tools", h.listTools)
			r.Post("/tools/{name}", h.invokeTool)
			r.Post("/confirm", h.confirm)
			r.Get("/history", h.history)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, domain.New(domain.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorEnvelope{Error: errorBody{Code: domain.CodeInvalidRequest, Message: "method not allowed"}})
	})

	return r
}

type requestIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			endpoint := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				endpoint = rctx.RoutePattern()
			}
			metrics.IncHTTP(r.Method + " " + endpoint)

			event := logger.Info()
			if recorder.status >= http.StatusInternalServerError {
				event = logger.Error()
			}
			event.
				Str("request_id", requestIDFrom(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", recorder.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func recoverer(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					err := fmt.Errorf("panic: %v", rec)
					logger.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("panic recovered")
					writeError(w, r, domain.Wrap(domain.CodeInternal, err, ""))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorBody struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps err onto the status and public message of its code.
// Untyped errors never leak their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	if code == "" {
		code = domain.CodeInternal
	}
	md := domain.MetadataFor(code)

	message := md.PublicMessage
	if typed, ok := domain.As(err); ok && code != domain.CodeInternal {
		message = typed.Message()
	}
	if code == domain.CodeRateLimited {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, md.HTTPStatus, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// decodeJSON reads a single JSON object into dest and validates it.
func decodeJSON(r *http.Request, dest any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return domain.Wrap(domain.CodeInvalidRequest, err, "invalid JSON body")
	}
	if err := validate.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return domain.Wrap(domain.CodeInvalidRequest, err, "validation failed")
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return domain.Newf(domain.CodeInvalidRequest, "%s is required", fe.Field())
	case "min", "gte":
		return domain.Newf(domain.CodeInvalidRequest, "%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return domain.Newf(domain.CodeInvalidRequest, "%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return domain.Newf(domain.CodeInvalidRequest, "%s must be one of: %s", fe.Field(), fe.Param())
	}
	return domain.Newf(domain.CodeInvalidRequest, "%s is invalid", fe.Field())
}
