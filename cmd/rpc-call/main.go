// Command rpc-call issues a single JSON-RPC call over a websocket connection
// and prints the raw response to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
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
	method := flag.String("method", "", "JSON-RPC method to call (required)")
	params := flag.String("params", "", "raw JSON params, empty omits the key")
	timeout := flag.Duration("timeout", 10*time.Second, "overall connect and call timeout")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logger := newLogger(*verbose)

	if *method == "" {
		logger.Fatal().Msg("method is required, use -method")
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
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}
	defer c.Close()

	response, err := c.CallContext(ctx, *method, *params)
	if err != nil {
		logger.Fatal().Err(err).Str("method", *method).Msg("call failed")
	}

	fmt.Println(response)
}

// newLogger writes human-readable logs to stderr, keeping stdout for the
// response payload.
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
