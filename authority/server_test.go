// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pulseroom/pulseroom/engine"
	"github.com/pulseroom/pulseroom/transport"
	"github.com/pulseroom/pulseroom/wire"
)

func newTestServer(t *testing.T) (*httptest.Server, *Authority) {
	t.Helper()
	authority, err := NewAuthority(context.Background(), AuthorityConfig{
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	server := httptest.NewServer(NewServer(authority, discardLogger()))
	t.Cleanup(server.Close)
	return server, authority
}

func httpJSON(t *testing.T, method, url, user string, body any, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if user != "" {
		request.Header.Set("X-Pulseroom-User", user)
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { response.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s response: %v", url, err)
		}
	}
	return response
}

func createSessionHTTP(t *testing.T, server *httptest.Server, title string) wire.Session {
	t.Helper()
	var session wire.Session
	response := httpJSON(t, http.MethodPost, server.URL+"/v1/sessions", "", map[string]string{"title": title}, &session)
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d", response.StatusCode)
	}
	return session
}

// dialEngine connects a synchronization engine to the test server as
// the given user. Coalescing is disabled so broadcast assertions do
// not wait out quiet windows.
func dialEngine(t *testing.T, server *httptest.Server, user string) *engine.Engine {
	t.Helper()
	tr, err := transport.DialWebSocket(transport.WebSocketConfig{
		URL:    "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/connect?user=" + user,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	eng, err := engine.New(engine.Config{
		Transport:   tr,
		Logger:      discardLogger(),
		QuietWindow: -1,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	// DialWebSocket returns before the socket is up; wait for the
	// connection so the first Join cannot race the dial.
	deadline := time.Now().Add(5 * time.Second)
	for eng.ConnState() != engine.StateConnected {
		if !time.Now().Before(deadline) {
			t.Fatal("engine never connected to the test server")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return eng
}

func TestHTTPSessionLifecycle(t *testing.T) {
	server, _ := newTestServer(t)

	session := createSessionHTTP(t, server, "friday jam")
	if session.Title != "friday jam" || session.Slug == "" {
		t.Fatalf("created session = %+v", session)
	}

	var fetched wire.Session
	response := httpJSON(t, http.MethodGet, server.URL+"/v1/sessions/"+session.ID, "", nil, &fetched)
	if response.StatusCode != http.StatusOK || fetched.ID != session.ID {
		t.Fatalf("snapshot status = %d, session = %+v", response.StatusCode, fetched)
	}

	response = httpJSON(t, http.MethodGet, server.URL+"/v1/sessions/absent", "", nil, nil)
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", response.StatusCode)
	}

	var delay struct {
		ApplyDelayMs int `json:"apply_delay_ms"`
	}
	response = httpJSON(t, http.MethodGet, server.URL+"/v1/sessions/"+session.ID+"/delay", "", nil, &delay)
	if response.StatusCode != http.StatusOK || delay.ApplyDelayMs != 0 {
		t.Fatalf("delay = %+v (status %d)", delay, response.StatusCode)
	}

	response = httpJSON(t, http.MethodGet, server.URL+"/v1/stats", "", nil, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", response.StatusCode)
	}
}

func TestHTTPSetDelayRequiresOwner(t *testing.T) {
	server, authority := newTestServer(t)
	session := createSessionHTTP(t, server, "jam")

	// Nobody has joined: every caller is a stranger.
	response := httpJSON(t, http.MethodPut, server.URL+"/v1/sessions/"+session.ID+"/delay", "mallory",
		map[string]int{"apply_delay_ms": 250}, nil)
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger set-delay status = %d, want 403", response.StatusCode)
	}

	alice := NewMember("alice")
	if _, err := authority.Join(context.Background(), session.ID, alice); err != nil {
		t.Fatalf("Join: %v", err)
	}
	response = httpJSON(t, http.MethodPut, server.URL+"/v1/sessions/"+session.ID+"/delay", "alice",
		map[string]int{"apply_delay_ms": 250}, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("owner set-delay status = %d", response.StatusCode)
	}

	response = httpJSON(t, http.MethodPut, server.URL+"/v1/sessions/"+session.ID+"/delay", "alice",
		map[string]int{"apply_delay_ms": -5}, nil)
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative delay status = %d, want 400", response.StatusCode)
	}
}

func TestConnectRejectsAnonymousClients(t *testing.T) {
	server, _ := newTestServer(t)

	response, err := http.Get(server.URL + "/v1/connect")
	if err != nil {
		t.Fatalf("GET /v1/connect: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous connect status = %d, want 401", response.StatusCode)
	}
}

// Full stack: two engines over real websockets against one authority.
// Alice publishes a channel; the composed master reaches bob through
// his engine's event stream.
func TestRealtimePublishReachesOtherParticipants(t *testing.T) {
	server, _ := newTestServer(t)
	session := createSessionHTTP(t, server, "live jam")

	alice := dialEngine(t, server, "alice")
	bob := dialEngine(t, server, "bob")
	ctx := context.Background()

	if _, err := alice.Join(ctx, session.ID); err != nil {
		t.Fatalf("alice Join: %v", err)
	}
	if _, err := bob.Join(ctx, session.ID); err != nil {
		t.Fatalf("bob Join: %v", err)
	}

	masters := make(chan wire.MasterUpdated, 16)
	cancel := bob.Subscribe(func(event engine.Event) {
		if master, ok := event.(engine.EventMasterUpdated); ok {
			masters <- master.Update
		}
	})
	defer cancel()

	if err := alice.PushChannelDraft(ctx, engine.ChannelDraft{Name: "drums", Code: "drums"}); err != nil {
		t.Fatalf("PushChannelDraft: %v", err)
	}
	mirror, ok := alice.Mirror()
	if !ok || len(mirror.Channels) != 1 {
		// The push ack carries no snapshot; the broadcast does. Wait
		// for it to land.
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if mirror, ok = alice.Mirror(); ok && len(mirror.Channels) == 1 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if len(mirror.Channels) != 1 {
			t.Fatalf("alice's mirror never saw the pushed channel: %+v", mirror)
		}
	}

	if err := alice.PublishChannel(ctx, mirror.Channels[0].ID, wire.StatusLive); err != nil {
		t.Fatalf("PublishChannel: %v", err)
	}

	select {
	case update := <-masters:
		if update.MasterCode != "drums" || update.Version != 1 {
			t.Fatalf("bob received %+v, want drums at version 1", update)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("master update never reached bob")
	}
}

// Owner-only requests fail over the realtime protocol too, with the
// authority's reason intact.
func TestRealtimeOwnerChecks(t *testing.T) {
	server, _ := newTestServer(t)
	session := createSessionHTTP(t, server, "jam")

	alice := dialEngine(t, server, "alice")
	bob := dialEngine(t, server, "bob")
	ctx := context.Background()

	if _, err := alice.Join(ctx, session.ID); err != nil {
		t.Fatalf("alice Join: %v", err)
	}
	if _, err := bob.Join(ctx, session.ID); err != nil {
		t.Fatalf("bob Join: %v", err)
	}

	err := bob.OverrideMaster(ctx, "silence")
	if !wire.IsCode(err, wire.CodeUnauthorized) {
		t.Fatalf("bob's override error = %v, want unauthorized", err)
	}
	if err := alice.OverrideMaster(ctx, "silence"); err != nil {
		t.Fatalf("alice's override: %v", err)
	}
}
