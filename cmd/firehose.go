package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cenk/backoff"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"

	"github.com/LipPkg/LipIndex/pkg/config"
)

// FirehoseCommand creates a CLI command that tails the live package stream
// of a running lipindex server and writes NDJSON events to stdout.
//
// Typical usage:
//
//	lipindex firehose --url ws://localhost:8080/api/firehose/ws
//	lipindex firehose                   (derives the URL from listen_addr in config)
//	lipindex firehose | jq -r 'select(.type=="package") | .package.identifier'
//
// By default it filters to package events and reprints them as-is (single
// line JSON). Use --all to include init and heartbeat frames, --pretty for
// multi-line output.
//
// The command auto-reconnects with exponential backoff if the server is not
// yet available or the connection drops. It never exits unless the context
// is cancelled or --no-retry is set.
func FirehoseCommand() *cli.Command {
	return &cli.Command{
		Name:  "firehose",
		Usage: "Stream live package events (NDJSON) from a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "WebSocket URL (overrides the address derived from config listen_addr)",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Print all event types (package, init, heartbeat) instead of only packages",
				Value: false,
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print JSON instead of raw single-line",
				Value: false,
			},
			&cli.BoolFlag{
				Name:  "no-retry",
				Usage: "Do not retry on failures; exit on first connection error",
				Value: false,
			},
			&cli.DurationFlag{
				Name:  "initial-backoff",
				Usage: "Initial reconnect backoff",
				Value: 1 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "max-backoff",
				Usage: "Maximum reconnect backoff",
				Value: 30 * time.Second,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			wsURL := c.String("url")
			if wsURL == "" {
				cfg, err := config.LoadConfig(c.String("config"))
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				wsURL = firehoseURLFromListenAddr(cfg.ListenAddr)
			}

			opts := firehoseTailOptions{
				url:            wsURL,
				includeAll:     c.Bool("all"),
				pretty:         c.Bool("pretty"),
				noRetry:        c.Bool("no-retry"),
				initialBackoff: c.Duration("initial-backoff"),
				maxBackoff:     c.Duration("max-backoff"),
				stdout:         os.Stdout,
				stderr:         os.Stderr,
			}
			return tailFirehose(ctx, opts)
		},
	}
}

type firehoseTailOptions struct {
	url            string
	includeAll     bool
	pretty         bool
	noRetry        bool
	initialBackoff time.Duration
	maxBackoff     time.Duration
	stdout         *os.File
	stderr         *os.File
}

// firehoseURLFromListenAddr turns a server listen address into the
// WebSocket endpoint URL. Wildcard hosts dial localhost.
func firehoseURLFromListenAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "ws://localhost:8080/api/firehose/ws"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("ws://%s/api/firehose/ws", net.JoinHostPort(host, port))
}

func tailFirehose(ctx context.Context, opts firehoseTailOptions) error {
	if opts.initialBackoff <= 0 {
		opts.initialBackoff = time.Second
	}
	if opts.maxBackoff < opts.initialBackoff {
		opts.maxBackoff = 30 * time.Second
	}

	// Retries until the context is cancelled
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.initialBackoff
	bo.MaxInterval = opts.maxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	_, _ = fmt.Fprintf(opts.stderr, "Firehose: connecting to %s\n", opts.url)

	for {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, opts.url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if opts.noRetry {
				return fmt.Errorf("dial: %w", err)
			}
			wait := bo.NextBackOff()
			_, _ = fmt.Fprintf(opts.stderr, "Firehose: dial failed (%v), retrying in %s\n", err, wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		_, _ = fmt.Fprintf(opts.stderr, "Firehose: connected (backoff reset)\n")
		bo.Reset()

		if err := streamEvents(ctx, conn, opts); err != nil {
			_ = conn.Close()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// Log and attempt reconnect unless no-retry
			if opts.noRetry {
				return err
			}
			_, _ = fmt.Fprintf(opts.stderr, "Firehose: stream error (%v), reconnecting...\n", err)
			// Brief pause before immediate reconnect
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}

		// Normal end (server closed). Respect no-retry or keep trying.
		if opts.noRetry {
			return nil
		}
		_, _ = fmt.Fprintf(opts.stderr, "Firehose: disconnected, attempting reconnect...\n")
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, opts firehoseTailOptions) error {
	defer func() { _ = conn.Close() }()

	for {
		// Heartbeats arrive regularly, so the read below never blocks for
		// long and the cancellation check stays responsive.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			// Malformed frames only surface with --all
			if opts.includeAll {
				_, _ = fmt.Fprintln(opts.stdout, strings.TrimSpace(string(data)))
			}
			continue
		}

		if !opts.includeAll && envelope.Type != "package" && envelope.Type != "package_batch" {
			continue
		}

		if opts.pretty {
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, data, "", "  "); err == nil {
				_, _ = fmt.Fprintln(opts.stdout, pretty.String())
				continue
			}
		}
		_, _ = fmt.Fprintln(opts.stdout, strings.TrimSpace(string(data)))
	}
}
