package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"runtime/pprof"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/chordal/linear"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

var (
	numVars       = flag.Int("n", 100, "Number of variable blocks in the generated net")
	blockDim      = flag.Int("dim", 3, "Dimension of each variable block")
	seed          = flag.Int64("seed", 42, "RNG seed for net generation")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP solve server (e.g. :8080)")
	arrowOut      = flag.Bool("arrow", false, "Write the dense [A|b] system to stdout as an Arrow IPC stream")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	maxConcurrent = flag.Int("max-concurrent", 64, "Maximum number of concurrent solve requests")
)

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	net := buildRandomNet(*numVars, *blockDim, *seed)
	log.Info().
		Int("conditionals", len(net)).
		Int("block_dim", *blockDim).
		Int64("seed", *seed).
		Msg("Generated chordal Bayes net")

	if *listenAddr != "" {
		startServer(*listenAddr, net, *maxConcurrent)
		return
	}

	start := time.Now()
	soln, err := net.Optimize()
	if err != nil {
		log.Fatal().Err(err).Msg("Back-substitution failed")
	}
	log.Info().
		Int("variables", len(soln)).
		Int("total_dim", soln.Dim()).
		Dur("elapsed", time.Since(start)).
		Msg("Solved triangular system")

	start = time.Now()
	logDet := net.LogDeterminant()
	log.Info().
		Float64("log_determinant", logDet).
		Dur("elapsed", time.Since(start)).
		Msg("Computed log determinant")

	start = time.Now()
	descent, err := net.OptimizeGradientSearch()
	if err != nil {
		log.Fatal().Err(err).Msg("Gradient search failed")
	}
	errAtDescent, err := net.Error(descent)
	if err != nil {
		log.Fatal().Err(err).Msg("Error evaluation failed")
	}
	log.Info().
		Float64("error_at_descent_point", errAtDescent).
		Dur("elapsed", time.Since(start)).
		Msg("Computed steepest-descent point")

	if *arrowOut {
		a, b := net.Matrix()
		if err := writeArrowSystem(os.Stdout, a, b); err != nil {
			log.Warn().Err(err).Msg("Failed to write arrow stream")
		}
	}
}

// buildRandomNet generates a well-posed net: conditional i has frontal
// X(i) and parents X(i+1), X(i+2) where those exist, with strictly
// positive triangular diagonals. Every third conditional carries a
// diagonal noise model.
func buildRandomNet(n, dim int, seed int64) linear.GaussianBayesNet {
	rng := rand.New(rand.NewSource(seed))
	net := make(linear.GaussianBayesNet, 0, n)
	for i := 0; i < n; i++ {
		rData := make([]float64, dim*dim)
		for r := 0; r < dim; r++ {
			rData[r*dim+r] = 1 + 1.5*rng.Float64()
			for c := r + 1; c < dim; c++ {
				rData[r*dim+c] = rng.NormFloat64() * 0.3
			}
		}
		d := make([]float64, dim)
		for j := range d {
			d[j] = rng.NormFloat64()
		}
		var parents []linear.Term
		for p := i + 1; p <= i+2 && p < n; p++ {
			sData := make([]float64, dim*dim)
			for j := range sData {
				sData[j] = rng.NormFloat64() * 0.2
			}
			parents = append(parents, linear.Term{
				Key: linear.X(uint64(p)),
				A:   mat.NewDense(dim, dim, sData),
			})
		}
		var model *linear.Diagonal
		if i%3 == 0 {
			sigmas := make([]float64, dim)
			for j := range sigmas {
				sigmas[j] = 0.5 + rng.Float64()
			}
			model = linear.NewDiagonalSigmas(sigmas)
		}
		net = append(net, linear.NewConditional(
			linear.X(uint64(i)),
			mat.NewTriDense(dim, mat.Upper, rData),
			mat.NewVecDense(dim, d),
			parents, model))
	}
	return net
}

// writeArrowSystem streams the dense jacobian as one record batch:
// a fixed-size-list row column plus the rhs scalar column.
func writeArrowSystem(w *os.File, a *mat.Dense, b *mat.VecDense) error {
	rows, cols := a.Dims()
	pool := memory.NewGoAllocator()

	schema := arrow.NewSchema(
		[]arrow.Field{
			{Name: "row", Type: arrow.FixedSizeListOf(int32(cols), arrow.PrimitiveTypes.Float64)},
			{Name: "rhs", Type: arrow.PrimitiveTypes.Float64},
		},
		nil,
	)

	rowBuilder := array.NewFixedSizeListBuilder(pool, int32(cols), arrow.PrimitiveTypes.Float64)
	defer rowBuilder.Release()
	valueBuilder := rowBuilder.ValueBuilder().(*array.Float64Builder)

	rhsBuilder := array.NewFloat64Builder(pool)
	defer rhsBuilder.Release()

	for r := 0; r < rows; r++ {
		rowBuilder.Append(true)
		valueBuilder.AppendValues(a.RawRowView(r), nil)
		rhsBuilder.Append(b.AtVec(r))
	}

	rowArr := rowBuilder.NewArray()
	defer rowArr.Release()
	rhsArr := rhsBuilder.NewArray()
	defer rhsArr.Release()

	rec := array.NewRecordBatch(schema, []arrow.Array{rowArr, rhsArr}, int64(rows))
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("chordal"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
