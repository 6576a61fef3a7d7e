// Command rpc-console is an interactive console for JSON-RPC websocket
// services: connect once, then issue calls and manage event subscriptions
// from a prompt.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertbit/grumble"
	"github.com/jedib0t/go-pretty/table"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rpcwire/jsonrpc-ws/pkg/client"
	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine"
	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine/gobwas"
	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine/gorilla"
	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine/nhooyr"
)

const banner = `
   _ __ _ __   ___ __      _(_)_ __ ___
  | '__| '_ \ / __|\ \ /\ / / | '__/ _ \
  | |  | |_) | (__  \ V  V /| | | |  __/
  |_|  | .__/ \___|  \_/\_/ |_|_|  \___|
       |_|

    JSON-RPC over WebSocket console (v1.0)
    --------------------------------------

`

const defaultPrompt = "rpcwire » "

// Console state. One mutex covers the counters and subscription book; the
// client itself is safe for concurrent use.
var (
	rpc      *client.Client
	endpoint string

	stateMu       sync.Mutex
	callCount     int
	eventCount    int
	recentEvents  []string
	subscriptions map[string]time.Time
)

const recentEventsKept = 20

func main() {
	configureLogging()

	app := setupCLI()
	AddCommands(app)

	if err := app.Run(); err != nil {
		log.Fatal().Msg(err.Error())
	}
}

// configureLogging sets up zerolog with a console writer for interactive use.
func configureLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// setupCLI initializes the command-line interface.
func setupCLI() *grumble.App {
	var histFile string
	home, err := os.UserHomeDir()
	if err != nil {
		histFile = ".rpcwire"
	} else {
		histFile = filepath.Join(home, ".rpcwire")
	}

	app := grumble.New(&grumble.Config{
		Name:        "rpcwire",
		HistoryFile: histFile,
		Prompt:      defaultPrompt,
	})

	app.SetPrintASCIILogo(func(a *grumble.App) {
		fmt.Print(banner)
	})

	subscriptions = make(map[string]time.Time)

	return app
}

// AddCommands registers all console commands with the application.
func AddCommands(app *grumble.App) {
	app.AddCommand(&grumble.Command{
		Name:    "connect",
		Aliases: []string{"open"},
		Help:    "connect to a JSON-RPC websocket service",
		Flags: func(f *grumble.Flags) {
			f.String("H", "host", "localhost", "service host")
			f.Int("p", "port", 9998, "service port")
			f.String("P", "path", client.DefaultPath, "websocket request path")
			f.String("s", "protocol", client.DefaultProtocol, "websocket subprotocol")
			f.String("e", "engine", "gorilla", "websocket engine: gorilla, nhooyr or gobwas")
			f.Bool("m", "multiplex", false, "correlate responses by id, allowing concurrent calls")
			f.Duration("t", "timeout", 10*time.Second, "connect timeout")
		},
		Run: func(c *grumble.Context) error {
			if rpc != nil {
				log.Warn().Msg("Already connected. Use 'disconnect' first")
				return nil
			}

			host := c.Flags.String("host")
			port := c.Flags.Int("port")

			factory, err := engineFactory(c.Flags.String("engine"), log.Logger)
			if err != nil {
				log.Error().Err(err).Msg("Unknown engine")
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Flags.Duration("timeout"))
			defer cancel()

			conn, err := client.Dial(ctx, client.Config{
				Host:      host,
				Port:      port,
				Path:      c.Flags.String("path"),
				Protocol:  c.Flags.String("protocol"),
				Multiplex: c.Flags.Bool("multiplex"),
				Engine:    factory,
				Handler:   client.EventHandlerFunc(recordEvent),
			})
			if err != nil {
				log.Error().Err(err).Msg("Failed to connect")
				return nil
			}

			rpc = conn
			endpoint = fmt.Sprintf("%s:%d", host, port)
			c.App.SetPrompt(endpoint + " » ")
			log.Info().Str("endpoint", endpoint).Msg("Connected")
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name:    "disconnect",
		Aliases: []string{"close"},
		Help:    "flush pending messages and drop the connection",
		Run: func(c *grumble.Context) error {
			if rpc == nil {
				log.Warn().Msg("Not connected")
				return nil
			}

			rpc.Close()
			rpc = nil
			endpoint = ""
			c.App.SetPrompt(defaultPrompt)
			log.Info().Msg("Disconnected")
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name: "call",
		Help: "issue a JSON-RPC call and print the raw response",
		Args: func(a *grumble.Args) {
			a.String("method", "JSON-RPC method to call")
			a.String("params", "raw JSON parameters", grumble.Default(""))
		},
		Flags: func(f *grumble.Flags) {
			f.Duration("t", "timeout", 30*time.Second, "response timeout")
		},
		Run: func(c *grumble.Context) error {
			if rpc == nil {
				log.Warn().Msg("Not connected. Use 'connect' first")
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Flags.Duration("timeout"))
			defer cancel()

			response, err := rpc.CallContext(ctx, c.Args.String("method"), c.Args.String("params"))
			if err != nil {
				log.Error().Err(err).Msg("Call failed")
				return nil
			}

			stateMu.Lock()
			callCount++
			stateMu.Unlock()

			c.App.Println(response)
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name: "register",
		Help: "subscribe to an event published by an object",
		Args: func(a *grumble.Args) {
			a.String("object", "object publishing the event")
			a.String("event", "event name")
		},
		Run: func(c *grumble.Context) error {
			if rpc == nil {
				log.Warn().Msg("Not connected. Use 'connect' first")
				return nil
			}

			object := c.Args.String("object")
			event := c.Args.String("event")
			if !rpc.RegisterWithEvent(object, event) {
				log.Error().Str("object", object).Str("event", event).Msg("Registration rejected")
				return nil
			}

			stateMu.Lock()
			callCount++
			subscriptions[object+"."+event] = time.Now()
			stateMu.Unlock()

			log.Info().Str("object", object).Str("event", event).Msg("Subscribed")
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name: "unregister",
		Help: "remove an event subscription",
		Args: func(a *grumble.Args) {
			a.String("object", "object publishing the event")
			a.String("event", "event name")
		},
		Run: func(c *grumble.Context) error {
			if rpc == nil {
				log.Warn().Msg("Not connected. Use 'connect' first")
				return nil
			}

			object := c.Args.String("object")
			event := c.Args.String("event")
			if !rpc.UnregisterWithEvent(object, event) {
				log.Error().Str("object", object).Str("event", event).Msg("Unregistration rejected")
				return nil
			}

			stateMu.Lock()
			callCount++
			delete(subscriptions, object+"."+event)
			stateMu.Unlock()

			log.Info().Str("object", object).Str("event", event).Msg("Unsubscribed")
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name: "status",
		Help: "show connection state and subscriptions",
		Run: func(c *grumble.Context) error {
			stateMu.Lock()
			calls := callCount
			events := eventCount
			subs := make(map[string]time.Time, len(subscriptions))
			for k, v := range subscriptions {
				subs[k] = v
			}
			stateMu.Unlock()

			state := "not connected"
			shownEndpoint := "-"
			if rpc != nil {
				state = rpc.State().String()
				shownEndpoint = endpoint
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Endpoint", "State", "Calls", "Subscriptions", "Events seen"})
			t.AppendRow(table.Row{shownEndpoint, state, calls, len(subs), events})
			c.App.Println(t.Render())

			if len(subs) > 0 {
				st := table.NewWriter()
				st.SetStyle(table.StyleRounded)
				st.AppendHeader(table.Row{"Subscription", "Since"})
				for name, since := range subs {
					st.AppendRow(table.Row{name, since.Format("15:04:05")})
				}
				c.App.Println(st.Render())
			}
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name: "events",
		Help: "show recently received event notifications",
		Run: func(c *grumble.Context) error {
			stateMu.Lock()
			events := append([]string(nil), recentEvents...)
			stateMu.Unlock()

			if len(events) == 0 {
				log.Info().Msg("No events received yet")
				return nil
			}
			for _, e := range events {
				c.App.Println(e)
			}
			return nil
		},
	})
}

func engineFactory(name string, logger zerolog.Logger) (wsengine.Factory, error) {
	switch name {
	case "gorilla":
		return gorilla.Factory(logger), nil
	case "nhooyr":
		return nhooyr.Factory(logger), nil
	case "gobwas":
		return gobwas.Factory(logger), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", name)
	}
}

// recordEvent keeps a short history of notifications and logs each arrival.
// It runs on the client's delivery goroutine, so it only copies and returns.
func recordEvent(message string) {
	method := "unknown"
	var envelope struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal([]byte(message), &envelope); err == nil && envelope.Method != "" {
		method = envelope.Method
	}

	stateMu.Lock()
	eventCount++
	recentEvents = append(recentEvents, message)
	if len(recentEvents) > recentEventsKept {
		recentEvents = recentEvents[len(recentEvents)-recentEventsKept:]
	}
	stateMu.Unlock()

	log.Info().Str("method", method).Msg("Event received")
}
