package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"

	"github.com/loopcore/uvworker"
	"github.com/loopcore/uvworker/metrics"
	"github.com/loopcore/uvworker/tracelog"
)

var configFile string

func buildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "uvworkerd",
		Short:   "Run a single-threaded event-loop worker",
		Version: "0.1.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.AddCommand(buildRunCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the worker and block until a shutdown signal arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := stumpy.L.New().Logger()
	tracer := tracelog.New(logger)

	collector := metrics.NewCollector()

	if cfg.Metrics.Enabled {
		go func() {
			log.Printf("metrics listening on :%d/metrics\n", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Printf("metrics server stopped: %v\n", err)
			}
		}()
	}

	w := uvworker.New(
		uvworker.WithMaxLoops(cfg.Worker.MaxLoops),
		uvworker.WithHeartbeatInterval(cfg.heartbeatInterval()),
		uvworker.WithShutdownTimeout(cfg.shutdownTimeout()),
		uvworker.WithTrace(tracer),
		uvworker.WithMetricsSink(collector),
	)

	startFuture := w.Start()
	if _, err := startFuture.Wait(context.Background()); err != nil {
		return fmt.Errorf("worker init: %w", err)
	}
	log.Println("worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("received shutdown signal, stopping worker")

	if err := w.Stop(context.Background(), cfg.shutdownTimeout()); err != nil {
		return fmt.Errorf("worker stop: %w", err)
	}
	log.Println("worker stopped")
	return nil
}

func main() {
	if err := buildCLI().Execute(); err != nil {
		log.Fatal(err)
	}
}
