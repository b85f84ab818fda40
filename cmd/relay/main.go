package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sparkcart/order-relay/internal/api"
	"github.com/sparkcart/order-relay/internal/config"
	"github.com/sparkcart/order-relay/internal/relay"
	"github.com/sparkcart/order-relay/internal/stats"
	"gopkg.in/natefinch/lumberjack.v2"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	addr           string
	signingKey     string
	emitToken      string
	logFile        string
	allowedOrigins stringSliceFlag
)

func main() {
	godotenv.Load()

	flag.StringVar(&addr, "addr", ":"+envOr("SOCKET_PORT", "4000"), "server address")
	flag.StringVar(&signingKey, "signing-key", os.Getenv("RELAY_SIGNING_KEY"),
		"base64 encoded join-token signing key (empty disables join auth)")
	flag.StringVar(&emitToken, "emit-token", os.Getenv("RELAY_EMIT_TOKEN"),
		"bearer token required on /emit (empty leaves the endpoint open)")
	flag.StringVar(&logFile, "log-file", os.Getenv("RELAY_LOG_FILE"), "rotating log file path")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 && os.Getenv("RELAY_ALLOWED_ORIGINS") != "" {
		allowedOrigins.Set(os.Getenv("RELAY_ALLOWED_ORIGINS"))
	}

	cfg, err := config.NewConfig(addr, signingKey, emitToken, logFile, allowedOrigins)
	if err != nil {
		log.Fatal("config:", err)
	}

	logOut := io.Writer(os.Stderr)
	if cfg.LogFile != "" {
		logOut = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}
	logger := log.New(logOut, "[order-relay] ", log.LstdFlags)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	relayServer, err := relay.NewRelayServer(logger, statsUpdater, relay.NewTokenVerifier(cfg.SigningKey))
	if err != nil {
		logger.Fatal("new relay server:", err)
	}

	srv := api.NewRelayApp(mux, logger, relayServer, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go relayServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down relay...")
	if err := relayServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("relay shutdown:", err)
	}

	logger.Println("shutdown complete")
}
