package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/surrealdb/scenesync/contrib/relay"
	"github.com/surrealdb/scenesync/pkg/logger"
)

func main() {
	// Create config with defaults and environment overrides
	config, err := relay.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&config.Addr, "addr", config.Addr, "Address to listen on")
	flag.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "Redis address for multi-instance fan-out (empty disables it)")
	flag.StringVar(&config.RedisPrefix, "redis-prefix", config.RedisPrefix, "Prefix of the redis pub/sub channels")
	flag.Int64Var(&config.ReadLimit, "read-limit", config.ReadLimit, "Maximum frame size in bytes")
	flag.DurationVar(&config.WriteTimeout, "write-timeout", config.WriteTimeout, "Per-frame write timeout")
	logPath := flag.String("log", "", "Log file path (default stdout)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")

	flag.Parse()

	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	l, err := logger.Build().FromPath(*logPath).Level(level).Make()
	if err != nil {
		log.Fatal(err)
	}
	defer l.Close()
	config.Logger = l

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var backplane relay.Backplane
	if config.RedisAddr != "" {
		client, err := relay.DialRedis(ctx, config.RedisAddr)
		if err != nil {
			l.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		backplane = relay.NewRedisBackplane(client, config.RedisPrefix, l)
		defer backplane.Close()
	}

	if err := relay.NewServer(config, backplane).Run(ctx); err != nil {
		l.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}
