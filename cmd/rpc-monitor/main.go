// Command rpc-monitor subscribes to a service event and prints every
// notification until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpcwire/jsonrpc-ws/pkg/client"
	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine"
	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine/gobwas"
	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine/gorilla"
	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine/nhooyr"
)

func main() {
	host := flag.String("host", "localhost", "service host")
	port := flag.Int("port", 9998, "service port")
	path := flag.String("path", client.DefaultPath, "websocket request path")
	protocol := flag.String("protocol", client.DefaultProtocol, "websocket subprotocol")
	engine := flag.String("engine", "gorilla", "websocket engine: gorilla, nhooyr or gobwas")
	object := flag.String("object", "", "object publishing the event (required)")
	event := flag.String("event", "", "event name to subscribe to (required)")
	timeout := flag.Duration("timeout", 30*time.Second, "connect timeout")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logger := newLogger(*verbose)

	if *object == "" || *event == "" {
		logger.Fatal().Msg("object and event are required, use -object and -event")
	}

	factory, err := engineFactory(*engine, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid engine")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, err := client.Dial(ctx, client.Config{
		Host:     *host,
		Port:     *port,
		Path:     *path,
		Protocol: *protocol,
		Engine:   factory,
		Handler: client.EventHandlerFunc(func(message string) {
			fmt.Println(message)
		}),
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}
	defer c.Close()

	if !c.RegisterWithEvent(*object, *event) {
		c.Close()
		logger.Fatal().Str("object", *object).Str("event", *event).Msg("registration rejected")
	}
	logger.Info().Str("object", *object).Str("event", *event).Msg("subscribed, waiting for notifications")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	if !c.UnregisterWithEvent(*object, *event) {
		logger.Warn().Str("object", *object).Str("event", *event).Msg("unregistration rejected")
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func engineFactory(name string, log zerolog.Logger) (wsengine.Factory, error) {
	switch name {
	case "gorilla":
		return gorilla.Factory(log), nil
	case "nhooyr":
		return nhooyr.Factory(log), nil
	case "gobwas":
		return gobwas.Factory(log), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", name)
	}
}
