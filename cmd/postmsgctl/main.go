// Command postmsgctl drives a postmsg.Client over a websocket relay, for
// manual testing and demonstration: serve accepts relay connections and
// echoes every received object back, send posts a single JSON object and
// exits, watch attaches a terminal dashboard of session/metric state, and
// simulate periodically posts synthetic objects on a cron schedule.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/robfig/cron/v3"

	"github.com/atsika/postmsg"
	"github.com/atsika/postmsg/wsrelay"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s serve -addr <host:port>           Accept relay connections and echo objects back
  %s send -url <ws://...> -json <obj>  Post one JSON object and exit
  %s watch -url <ws://...>             Attach a live session/metrics dashboard
  %s simulate -url <ws://...> -cron <expr>  Post a synthetic object on a cron schedule

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch strings.ToLower(args[0]) {
	case "serve":
		code = runServe(ctx, args[1:])
	case "send":
		code = runSend(ctx, args[1:])
	case "watch":
		code = runWatch(ctx, args[1:])
	case "simulate":
		code = runSimulate(ctx, args[1:])
	case "help", "-h", "--help":
		printUsage()
		code = 0
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		printUsage()
		code = 1
	}
	os.Exit(code)
}

func runServe(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8088", "listen address")
	fs.Parse(args)

	mux := http.NewServeMux()
	mux.HandleFunc("/relay", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		relay := wsrelay.Accept(conn)
		client, err := postmsg.New(relay)
		if err != nil {
			fmt.Fprintf(os.Stderr, "postmsg.New: %v\n", err)
			return
		}
		client.On(postmsg.EventMessage, func(payload any) {
			fmt.Printf("received: %v\n", payload)
			_ = client.PostMessage(payload)
		})
		client.On(postmsg.EventConnected, func(any) { fmt.Println("session open") })
		client.On(postmsg.EventDisconnected, func(any) { fmt.Println("session closed") })
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("postmsgctl: listening on %s/relay\n", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		return 1
	}
	return 0
}

func runSend(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8088/relay", "relay url")
	raw := fs.String("json", "{}", "JSON object to send")
	fs.Parse(args)

	var obj any
	if err := json.Unmarshal([]byte(*raw), &obj); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -json: %v\n", err)
		return 1
	}

	client, relay, err := dial(ctx, *url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		return 1
	}
	defer relay.Close()

	done := make(chan struct{})
	client.On(postmsg.EventConnected, func(any) {
		if err := client.PostMessage(obj); err != nil {
			fmt.Fprintf(os.Stderr, "PostMessage: %v\n", err)
		}
	})
	client.On(postmsg.EventError, func(payload any) {
		fmt.Fprintf(os.Stderr, "error event: %v\n", payload)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
	}
	return 0
}

func runSimulate(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8088/relay", "relay url")
	expr := fs.String("cron", "@every 5s", "cron schedule for synthetic sends")
	fs.Parse(args)

	client, relay, err := dial(ctx, *url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		return 1
	}
	defer relay.Close()

	c := cron.New()
	n := 0
	_, err = c.AddFunc(*expr, func() {
		n++
		_ = client.PostMessage(map[string]any{"seq": n, "ts": time.Now().UTC().Format(time.RFC3339)})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -cron: %v\n", err)
		return 1
	}
	c.Start()
	defer c.Stop()

	<-ctx.Done()
	return 0
}

func dial(ctx context.Context, url string) (*postmsg.Client, *wsrelay.Relay, error) {
	relay, err := wsrelay.Dial(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	client, err := postmsg.New(relay)
	if err != nil {
		return nil, nil, err
	}
	return client, relay, nil
}
