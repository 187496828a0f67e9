package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/minichat/internal/logging"
	"github.com/matheus3301/minichat/internal/mockllm"
	"go.uber.org/zap"
)

func main() {
	def := mockllm.DefaultConfig()
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	hang := flag.Float64("hang-rate", def.HangRate, "share of requests that never answer")
	fail := flag.Float64("fail-rate", def.FailRate, "share of answered requests that return 500")
	minDelay := flag.Duration("min-delay", def.MinDelay, "shortest answer delay")
	maxDelay := flag.Duration("max-delay", def.MaxDelay, "longest answer delay")
	reply := flag.String("reply", def.Reply, "completion text")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	lvl, err := logging.ParseLevel(*level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger, err := zap.NewDevelopment(zap.IncreaseLevel(lvl))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	backend := mockllm.New(mockllm.Config{
		HangRate: *hang,
		FailRate: *fail,
		MinDelay: *minDelay,
		MaxDelay: *maxDelay,
		Reply:    *reply,
	}, logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("mock backend listening",
		zap.String("addr", *addr),
		zap.Float64("hang_rate", *hang),
		zap.Float64("fail_rate", *fail))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve failed", zap.Error(err))
		os.Exit(1)
	}
}
