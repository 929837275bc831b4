// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

// Pulseroom is a thin command-line client over the synchronization
// engine and the authority's HTTP API, for demos and manual testing:
//
//	pulseroom --user alice create "friday jam"
//	pulseroom --user alice join <session>
//	pulseroom --user alice push <session> 'note("c3 e3 g3")'
//	pulseroom --user alice publish <session> <channel>
//	pulseroom --user alice override <session> 'silence'
//	pulseroom --user alice delay <session> [ms]
//	pulseroom stats
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/pulseroom/pulseroom/engine"
	"github.com/pulseroom/pulseroom/transport"
	"github.com/pulseroom/pulseroom/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		server      string
		user        string
		channelName string
		verbose     bool
	)
	flag.StringVar(&server, "server", "http://localhost:7350", "authority base URL")
	flag.StringVar(&user, "user", os.Getenv("USER"), "user identity")
	flag.StringVar(&channelName, "name", "", "channel display name for push")
	flag.BoolVar(&verbose, "verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("a command is required")
	}

	client := &cli{server: server, user: user, logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command := args[0]; command {
	case "create":
		if len(args) < 2 {
			return fmt.Errorf("usage: create <title>")
		}
		return client.create(ctx, args[1])
	case "join":
		if len(args) < 2 {
			return fmt.Errorf("usage: join <session>")
		}
		return client.join(ctx, args[1])
	case "push":
		if len(args) < 3 {
			return fmt.Errorf("usage: push <session> <code>")
		}
		return client.push(ctx, args[1], args[2], channelName)
	case "publish":
		if len(args) < 3 {
			return fmt.Errorf("usage: publish <session> <channel>")
		}
		return client.publish(ctx, args[1], args[2])
	case "override":
		if len(args) < 3 {
			return fmt.Errorf("usage: override <session> <code>")
		}
		return client.override(ctx, args[1], args[2])
	case "delay":
		if len(args) < 2 {
			return fmt.Errorf("usage: delay <session> [ms]")
		}
		if len(args) >= 3 {
			ms, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid delay %q: %w", args[2], err)
			}
			return client.setDelay(ctx, args[1], ms)
		}
		return client.getDelay(ctx, args[1])
	case "stats":
		return client.stats(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

type cli struct {
	server string
	user   string
	logger *slog.Logger
}

// dial connects an engine to the authority and joins the session.
func (c *cli) dial(ctx context.Context, sessionID string) (*engine.Engine, *wire.Session, error) {
	wsURL, err := websocketURL(c.server, c.user)
	if err != nil {
		return nil, nil, err
	}
	tr, err := transport.DialWebSocket(transport.WebSocketConfig{
		URL:    wsURL,
		Logger: c.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(engine.Config{Transport: tr, Logger: c.logger})
	if err != nil {
		tr.Close()
		return nil, nil, err
	}
	snapshot, err := eng.Join(ctx, sessionID)
	if err != nil {
		eng.Close()
		return nil, nil, err
	}
	return eng, snapshot, nil
}

func (c *cli) create(ctx context.Context, title string) error {
	var session wire.Session
	err := c.request(ctx, http.MethodPost, "/v1/sessions", map[string]string{"title": title}, &session)
	if err != nil {
		return err
	}
	fmt.Printf("created session %s (join code %s)\n", session.ID, session.Slug)
	return nil
}

// join streams session events to stdout until interrupted.
func (c *cli) join(ctx context.Context, sessionID string) error {
	eng, snapshot, err := c.dial(ctx, sessionID)
	if err != nil {
		return err
	}
	defer eng.Close()

	fmt.Printf("joined %q (%d participants, %d channels)\n",
		snapshot.Title, len(snapshot.Participants), len(snapshot.Channels))

	cancel := eng.Subscribe(func(event engine.Event) {
		switch ev := event.(type) {
		case engine.EventSnapshot:
			fmt.Printf("snapshot: %d participants, %d channels, master v%d\n",
				len(ev.Session.Participants), len(ev.Session.Channels), ev.Session.Master.Version)
		case engine.EventParticipant:
			fmt.Printf("participant %s: %s\n", ev.Change.Action, ev.Change.UserID)
		case engine.EventMasterUpdated:
			fmt.Printf("master v%d:\n%s\n", ev.Update.Version, ev.Update.MasterCode)
		case engine.EventAuthError:
			fmt.Printf("auth error: %s\n", ev.Message)
		case engine.EventConnected:
			fmt.Println("connected")
		case engine.EventDisconnected:
			fmt.Printf("disconnected: %v\n", ev.Err)
		case engine.EventError:
			fmt.Printf("background error: %v\n", ev.Err)
		}
	})
	defer cancel()

	<-ctx.Done()
	return eng.Leave(context.Background(), "")
}

func (c *cli) push(ctx context.Context, sessionID, code, name string) error {
	eng, _, err := c.dial(ctx, sessionID)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.PushChannelDraft(ctx, engine.ChannelDraft{Name: name, Code: code}); err != nil {
		return err
	}
	fmt.Println("draft pushed")
	return nil
}

func (c *cli) publish(ctx context.Context, sessionID, channelID string) error {
	eng, _, err := c.dial(ctx, sessionID)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.PublishChannel(ctx, channelID, wire.StatusLive); err != nil {
		return err
	}
	fmt.Println("channel published")
	return nil
}

func (c *cli) override(ctx context.Context, sessionID, code string) error {
	eng, _, err := c.dial(ctx, sessionID)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.OverrideMaster(ctx, code); err != nil {
		return err
	}
	fmt.Println("master overridden")
	return nil
}

func (c *cli) getDelay(ctx context.Context, sessionID string) error {
	var response struct {
		ApplyDelayMs int `json:"apply_delay_ms"`
	}
	if err := c.request(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID)+"/delay", nil, &response); err != nil {
		return err
	}
	fmt.Printf("apply delay: %dms\n", response.ApplyDelayMs)
	return nil
}

func (c *cli) setDelay(ctx context.Context, sessionID string, ms int) error {
	body := map[string]int{"apply_delay_ms": ms}
	if err := c.request(ctx, http.MethodPut, "/v1/sessions/"+url.PathEscape(sessionID)+"/delay", body, nil); err != nil {
		return err
	}
	fmt.Printf("apply delay set to %dms\n", ms)
	return nil
}

func (c *cli) stats(ctx context.Context) error {
	var response struct {
		CPUSamples []wire.CPUSample `json:"cpu_samples"`
	}
	if err := c.request(ctx, http.MethodGet, "/v1/stats", nil, &response); err != nil {
		return err
	}
	for _, sample := range response.CPUSamples {
		line := fmt.Sprintf("%s  load %.2f %.2f %.2f",
			sample.At.Format("15:04:05"), sample.Load1, sample.Load5, sample.Load15)
		if sample.Warning != "" {
			line += "  ! " + sample.Warning
		}
		fmt.Println(line)
	}
	return nil
}

// request performs one HTTP API call and decodes the JSON response
// into out (when non-nil).
func (c *cli) request(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.server+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("X-Pulseroom-User", c.user)

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("unexpected %d response: %s", response.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// websocketURL derives the realtime endpoint from the HTTP base URL.
func websocketURL(server, user string) (string, error) {
	parsed, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", server, err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = "/v1/connect"
	query := parsed.Query()
	query.Set("user", user)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
