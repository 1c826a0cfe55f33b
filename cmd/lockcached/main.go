// Command lockcached is a demo client cache process: it connects to the
// coordinator over NATS, registers its REVOKE/RETRY subjects, and exercises
// a small acquire/release workload against a fixed set of locks so the
// coordinator and cache can be watched working together outside of tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	_ "go.uber.org/automaxprocs"

	"github.com/coherentd/lockd/internal/cache"
	"github.com/coherentd/lockd/internal/config"
	"github.com/coherentd/lockd/internal/logging"
	"github.com/coherentd/lockd/internal/protocol"
	"github.com/coherentd/lockd/internal/transport"
)

func main() {
	lockCount := flag.Int("locks", 4, "number of distinct locks to cycle through")
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	startupLogger := log.New(os.Stdout, "[lockcached] ", log.LstdFlags)

	cfg, err := config.LoadClientConfig(nil)
	if err != nil {
		startupLogger.Fatalf("failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "lockcached"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer conn.Drain()

	clientID := protocol.ClientID(cfg.ClientID)
	serverCaller := &transport.NATSServerCaller{Conn: conn}

	c := cache.New(clientID, serverCaller, nil, logger, nil)

	subs, err := transport.SubscribeClient(conn, clientID, c, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe client RPC handlers")
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	c.Start(ctx)

	go runWorkload(ctx, c, logger, *lockCount)

	logger.Info().Str("client_id", cfg.ClientID).Msg("lockcached ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	cancel()
	c.Wait()
}

// runWorkload repeatedly acquires and releases a rotating set of locks,
// holding each briefly, so the coordinator has something to coordinate
// when run as a standalone demo.
func runWorkload(ctx context.Context, c *cache.Cache, logger zerolog.Logger, n int) {
	if n < 1 {
		n = 1
	}
	locks := make([]protocol.LockID, n)
	for i := range locks {
		locks[i] = protocol.LockID(i + 1)
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lid := locks[i%len(locks)]
			i++

			c.Acquire(lid)
			logger.Debug().Str("lock", fmt.Sprintf("%d", lid)).Msg("acquired")
			time.Sleep(50 * time.Millisecond)
			c.Release(lid)
			logger.Debug().Str("lock", fmt.Sprintf("%d", lid)).Msg("released")
		}
	}
}
