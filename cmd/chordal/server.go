package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/chordal/internal/cache"
	"github.com/23skdu/chordal/linear"
)

var (
	solveRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chordal_server_requests_total",
		Help: "The total number of solve requests served",
	}, []string{"endpoint"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chordal_server_request_duration_seconds",
		Help:    "Time spent processing solve requests",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chordal_server_cache_hits_total",
		Help: "Solve requests answered from the result cache",
	})
)

// Server exposes solves over a fixed, immutable Bayes net. The net is
// shared across requests without locking; every solve owns its own
// accumulator.
type Server struct {
	net   linear.GaussianBayesNet
	cache cache.ResultCache
	sem   *semaphore.Weighted
}

// maxCachedSolves bounds the memoized solve results; refusal beyond the
// bound keeps memory flat under adversarial rhs churn.
const maxCachedSolves = 1024

func NewServer(net linear.GaussianBayesNet, maxConcurrent int) *Server {
	return &Server{
		net:   net,
		cache: cache.NewMapCache(maxCachedSolves),
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func startServer(addr string, net linear.GaussianBayesNet, maxConcurrent int) {
	srv := NewServer(net, maxConcurrent)

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chordal_net_conditionals",
			Help: "Number of conditionals in the served net",
		},
		func() float64 { return float64(len(net)) },
	))

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/solve", srv.handleSolve)
	http.HandleFunc("/optimize", srv.handleOptimize)
	http.HandleFunc("/logdet", srv.handleLogDet)
	http.HandleFunc("/health", srv.handleHealth)

	log.Info().Str("addr", addr).Int("conditionals", len(net)).Msg("Starting Chordal Server")

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("chordal-server")

// handleSolve back-substitutes against a caller-supplied right-hand side:
// POST a CBOR-encoded assignment, receive the CBOR-encoded solution.
// Results are memoized by request digest.
func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleSolve")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()
	solveRequests.WithLabelValues("solve").Inc()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Bad Request: %v", err), http.StatusBadRequest)
		return
	}

	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])
	if enc, ok := s.cache.Get(digest); ok {
		cacheHits.Inc()
		span.SetAttributes(attribute.Bool("cache_hit", true))
		writeCBOR(w, enc)
		return
	}

	var rhs linear.VectorValues
	if err := cbor.Unmarshal(body, &rhs); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("rhs_variables", len(rhs)))

	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(1)

	result, err := s.net.BackSubstitute(rhs)
	if err != nil {
		span.RecordError(err)
		writeSolveError(w, err)
		return
	}

	enc, err := cbor.Marshal(result)
	if err != nil {
		http.Error(w, fmt.Sprintf("Encode failed: %v", err), http.StatusInternalServerError)
		return
	}
	s.cache.Put(digest, enc)
	writeCBOR(w, enc)
}

// handleOptimize runs the full back-substitution against the stored
// constants. An empty body solves the net as-is; a CBOR assignment in the
// body seeds values for variables outside the net.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleOptimize")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()
	solveRequests.WithLabelValues("optimize").Inc()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Bad Request: %v", err), http.StatusBadRequest)
		return
	}

	missing := linear.NewVectorValues()
	if len(body) > 0 {
		if err := cbor.Unmarshal(body, &missing); err != nil {
			span.RecordError(err)
			http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
			return
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(1)

	soln, err := s.net.OptimizeWithPartial(missing)
	if err != nil {
		span.RecordError(err)
		writeSolveError(w, err)
		return
	}

	enc, err := cbor.Marshal(soln)
	if err != nil {
		http.Error(w, fmt.Sprintf("Encode failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeCBOR(w, enc)
}

type logDetResponse struct {
	LogDeterminant float64 `cbor:"log_determinant"`
	Determinant    float64 `cbor:"determinant"`
}

func (s *Server) handleLogDet(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "handleLogDet")
	defer span.End()
	solveRequests.WithLabelValues("logdet").Inc()

	logDet := s.net.LogDeterminant()
	enc, err := cbor.Marshal(logDetResponse{
		LogDeterminant: logDet,
		Determinant:    s.net.Determinant(),
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("Encode failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeCBOR(w, enc)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeCBOR(w http.ResponseWriter, enc []byte) {
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(enc)
}

// writeSolveError maps a missing-variable precondition violation to a
// client error; anything else is a server fault.
func writeSolveError(w http.ResponseWriter, err error) {
	if errors.Is(err, linear.ErrMissingVariable) {
		http.Error(w, fmt.Sprintf("Unsolvable request: %v", err), http.StatusBadRequest)
		return
	}
	http.Error(w, fmt.Sprintf("Solve failed: %v", err), http.StatusInternalServerError)
}
