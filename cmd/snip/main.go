package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Roxbili/snip/internal/arrowio"
	"github.com/Roxbili/snip/internal/config"
	"github.com/Roxbili/snip/internal/logger"
	"github.com/Roxbili/snip/internal/pruner"
	"github.com/Roxbili/snip/internal/report"
)

var (
	planPath    = flag.String("plan", "", "Path to pruning plan JSON")
	modelPath   = flag.String("model", "", "Path to GGUF checkpoint")
	outPath     = flag.String("out", "masks.arrow", "Path to write the Arrow mask set")
	metricsOut  = flag.String("metrics-out", "", "Optional path to write the round's importance metrics as Arrow")
	flightAddr  = flag.String("flight", "", "Optional Arrow Flight mask store address (host:port)")
	metricsAddr = flag.String("metrics", "", "Optional address to serve Prometheus metrics")
	logLevel    = flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	logFormat   = flag.String("log-format", "console", "Log format (console or json)")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	if *planPath == "" || *modelPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --plan and --model flags are required")
		flag.Usage()
		os.Exit(1)
	}

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			logger.Log.Info("metrics serving", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				logger.Log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	if err := run(); err != nil {
		logger.Log.Error("pruning failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	plan, err := config.Load(*planPath)
	if err != nil {
		return err
	}
	logger.Log.Info("plan loaded",
		"mode", plan.Mode,
		"metric", plan.Metric,
		"total_sparsity", plan.TotalSparsity,
		"layers", len(plan.Layers))

	model, err := pruner.LoadModel(*modelPath)
	if err != nil {
		return err
	}
	logger.Log.Info("checkpoint loaded", "path", *modelPath, "layers", len(model.LayerNames()))

	p, err := pruner.New(model, plan)
	if err != nil {
		return err
	}

	masks, err := p.Compress()
	if err != nil {
		return err
	}
	importance := p.Metrics()
	report.Log(report.Summarize(importance, masks))

	f, err := os.Create(*outPath)
	if err != nil {
		return fmt.Errorf("create mask file: %w", err)
	}
	if err := arrowio.WriteMasks(f, masks); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Log.Info("masks written", "path", *outPath, "layers", len(masks))

	if *metricsOut != "" {
		mf, err := os.Create(*metricsOut)
		if err != nil {
			return fmt.Errorf("create metrics file: %w", err)
		}
		if err := arrowio.WriteMetrics(mf, importance); err != nil {
			mf.Close()
			return err
		}
		if err := mf.Close(); err != nil {
			return err
		}
		logger.Log.Info("importance metrics written", "path", *metricsOut, "layers", len(importance))
	}

	if *flightAddr != "" {
		ctx := context.Background()
		pub := arrowio.NewFlightPublisher(*flightAddr)
		if err := pub.Connect(ctx); err != nil {
			return err
		}
		defer pub.Close()
		runID := time.Now().UTC().Format("20060102T150405Z")
		if err := pub.Publish(ctx, runID, masks); err != nil {
			return err
		}
		logger.Log.Info("masks published", "store", *flightAddr, "run", runID)
	}
	return nil
}
