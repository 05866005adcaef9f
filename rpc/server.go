// Package rpc exposes the exchange entry points over an HTTP JSON API. The
// surface mirrors the on-ledger ABI: user paths are open (identity is the
// declared caller address; agency checks happen in the core), operator and
// owner paths additionally require the shared operator token.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"zkex/core"
	zkexerrors "zkex/core/errors"
)

// Server serves the exchange API.
type Server struct {
	exchange      *core.Exchange
	logger        *slog.Logger
	operatorToken string
	limiter       *rate.Limiter
	registry      *prometheus.Registry
	httpServer    *http.Server
}

// Options configures the server.
type Options struct {
	ListenAddress string
	OperatorToken string
	// SubmitRate bounds block submissions per second; zero disables the
	// limiter.
	SubmitRate float64
	Logger     *slog.Logger
	Registry   *prometheus.Registry
}

// NewServer wires the router.
func NewServer(exchange *core.Exchange, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if opts.SubmitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.SubmitRate), 1)
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	s := &Server{
		exchange:      exchange,
		logger:        logger,
		operatorToken: opts.OperatorToken,
		limiter:       limiter,
		registry:      registry,
	}
	s.httpServer = &http.Server{
		Addr:              opts.ListenAddress,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/deposits", s.handleDeposit)
		v1.Post("/deposits/reclaim", s.handleReclaimStaleDeposit)
		v1.Post("/forced-withdrawals", s.handleForceWithdraw)
		v1.Post("/forced-withdrawals/cancel", s.handleCancelForced)
		v1.Post("/forced-withdrawals/notify-too-old", s.handleNotifyForcedTooOld)
		v1.Post("/shutdown/notify-too-old", s.handleNotifyShutdownTooOld)
		v1.Post("/claims", s.handleClaim)
		v1.Post("/withdrawals/from-deposit", s.handleWithdrawFromDeposit)
		v1.Post("/withdrawals/from-approved", s.handleWithdrawFromApproved)
		v1.Post("/withdrawals/from-merkle-tree", s.handleMerkleExit)

		v1.Get("/root", s.handleGetRoot)
		v1.Get("/height", s.handleGetHeight)
		v1.Get("/blocks/{index}", s.handleGetBlock)
		v1.Get("/mode", s.handleGetMode)
		v1.Get("/balances/{owner}/{tokenId}", s.handleGetBalance)
		v1.Get("/tokens/{id}", s.handleGetToken)
		v1.Get("/stake", s.handleGetStake)

		v1.Group(func(op chi.Router) {
			op.Use(s.requireOperatorToken)
			op.Post("/blocks", s.handleSubmitBlock)
			op.Post("/shutdown", s.handleShutdown)
			op.Post("/tokens", s.handleRegisterToken)
			op.Post("/stake/withdraw", s.handleWithdrawStake)
		})
	})
	return r
}

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe() error {
	s.logger.Info("rpc listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type ctxKeyRequestID struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID{}, id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		id, _ := r.Context().Value(ctxKeyRequestID{}).(string)
		s.logger.Info("http request",
			"method", r.Method, "path", r.URL.Path,
			"requestId", id, "durationMs", time.Since(start).Milliseconds())
	})
}

func (s *Server) requireOperatorToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.operatorToken == "" || r.Header.Get("X-Operator-Token") != s.operatorToken {
			writeError(w, zkexerrors.Authorization("BAD_OPERATOR_TOKEN", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch zkexerrors.KindOf(err) {
	case zkexerrors.KindAuthorization:
		return http.StatusForbidden
	case zkexerrors.KindState:
		return http.StatusConflict
	case zkexerrors.KindInvariant:
		return http.StatusUnprocessableEntity
	case zkexerrors.KindCapacity:
		return http.StatusTooManyRequests
	case zkexerrors.KindTiming:
		return http.StatusPreconditionFailed
	case zkexerrors.KindDuplicate:
		return http.StatusConflict
	case zkexerrors.KindNoBalance:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
