package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/config"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/deadletter"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/emitter"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/failure"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/loader"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/logging"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/monitoring"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/storage"
)

var (
	failedFile      string
	streamDirectory string
)

var deliverCmd = &cobra.Command{
	Use:   "deliver [flags] file...",
	Short: "Upload serialized batch files and route failed records",
	Long: `Deliver uploads each file as one object. The key is built from the configured
output directory, the stream directory template, the date format and the
filename prefix. Records listed in --failed (JSON lines of {"line", "errors"})
are written to the dead-letter sink first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && failedFile == "" {
			return fmt.Errorf("nothing to deliver: pass files or --failed")
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logging.Setup(cfg.Logging)
		slog.Info("starting s3-loader", "version", Version, "git_sha", GitSHA)

		batch, err := readBatch(args, failedFile, streamDirectory)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		deliveries, err := run(ctx, cfg, batch)
		for _, d := range deliveries {
			fmt.Fprintln(cmd.OutOrStdout(), d.URI)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(deliverCmd)

	deliverCmd.Flags().StringVar(&failedFile, "failed", "", "JSON-lines file of failed records to route to the dead-letter sink")
	deliverCmd.Flags().StringVar(&streamDirectory, "directory", "", "directory template for the uploaded files, e.g. enriched/{yyyy}")
}

func readBatch(files []string, failedPath, directory string) (loader.Batch, error) {
	var batch loader.Batch

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return batch, fmt.Errorf("read %s: %w", f, err)
		}
		batch.Streams = append(batch.Streams, emitter.NamedStream{
			Name:      filepath.Base(f),
			Directory: directory,
			Data:      data,
		})
	}

	if failedPath != "" {
		fh, err := os.Open(failedPath)
		if err != nil {
			return batch, fmt.Errorf("open %s: %w", failedPath, err)
		}
		defer fh.Close()

		inputs, err := failure.ReadFailures(fh)
		if err != nil {
			return batch, fmt.Errorf("parse %s: %w", failedPath, err)
		}
		batch.Inputs = inputs
	}

	return batch, nil
}

func run(ctx context.Context, cfg config.Config, batch loader.Batch) ([]emitter.Delivery, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mon, err := monitoring.New(cfg.Monitoring, reg)
	if err != nil {
		return nil, fmt.Errorf("create monitoring: %w", err)
	}
	defer mon.Close()

	if addr := cfg.Monitoring.Metrics.Address; addr != "" {
		go func() {
			slog.Info("metrics server listening", "address", addr)
			if err := monitoring.StartServer(addr, reg); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("create storage: %w", err)
	}
	defer store.Close()

	sink, err := deadletter.New(ctx, cfg.DeadLetter)
	if err != nil {
		return nil, fmt.Errorf("create dead-letter sink: %w", err)
	}
	defer sink.Close()

	em, err := emitter.New(emitter.ConfigFrom(cfg), store, mon)
	if err != nil {
		return nil, fmt.Errorf("create emitter: %w", err)
	}
	defer em.Close()

	l := loader.New(em, failure.NewRouter(sink), mon, cfg.Perf.MaxInFlight)
	res, err := l.Load(ctx, batch)
	mon.Flush(cfg.Delivery.ShutdownPause)
	return res.Deliveries, err
}
