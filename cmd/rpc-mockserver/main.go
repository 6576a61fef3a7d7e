// Command rpc-mockserver runs the scriptable JSON-RPC websocket service,
// acknowledging every call and optionally pushing a periodic event. It exists
// to exercise the client tools without a real service at hand.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpcwire/jsonrpc-ws/internal/testserver"
)

func main() {
	addr := flag.String("addr", ":9998", "address to listen on")
	path := flag.String("path", "/jsonrpc", "websocket request path")
	event := flag.String("event", "", "event method to push periodically, empty disables pushes")
	every := flag.Duration("every", 2*time.Second, "push interval")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
		Level(level).With().Timestamp().Logger()

	srv := testserver.New(*path, nil, logger)
	if err := srv.Start(*addr); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	stopPushing := make(chan struct{})
	if *event != "" {
		go func() {
			ticker := time.NewTicker(*every)
			defer ticker.Stop()
			seq := 0
			for {
				select {
				case <-stopPushing:
					return
				case <-ticker.C:
					seq++
					params := fmt.Sprintf(`{"seq":%d}`, seq)
					if err := srv.PushEvent(*event, params); err != nil {
						logger.Warn().Err(err).Msg("failed to push event")
					}
				}
			}
		}()
		logger.Info().Str("event", *event).Dur("every", *every).Msg("pushing periodic events")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	close(stopPushing)
	srv.Stop()
}
