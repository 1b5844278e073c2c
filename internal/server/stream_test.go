package server

import (
	"bufio"
	"context"
	"encoding/json"
	"kniffel/internal/wshub"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestWebSocketPushesChanges(t *testing.T) {
	env := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(env.ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	read := func() wshub.ServerMessage {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		var msg wshub.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != wshub.TypeState || msg.State == nil {
		t.Fatalf("first message = %+v, want state snapshot", msg)
	}
	if msg := read(); msg.Type != wshub.TypePeers || msg.Status == nil {
		t.Fatalf("second message = %+v, want peers snapshot", msg)
	}

	waitFor(t, "client registration", func() bool { return env.srv.hub.Len() == 1 })
	id := env.node.Store.State().Players[0].ID
	if err := env.node.Store.UpdatePlayerName(id, "Anna"); err != nil {
		t.Fatal(err)
	}

	for {
		msg := read()
		if msg.Type == wshub.TypeState && msg.State.Players[0].Name == "Anna" {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestEventsStream(t *testing.T) {
	env := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	next := func() (event, data string) {
		t.Helper()
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data += strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, data
			}
		}
		t.Fatalf("stream ended: %v", sc.Err())
		return "", ""
	}

	if ev, _ := next(); ev != wshub.TypeState {
		t.Fatalf("first event = %q, want state", ev)
	}
	if ev, _ := next(); ev != wshub.TypePeers {
		t.Fatalf("second event = %q, want peers", ev)
	}

	waitFor(t, "subscription", func() bool { return env.srv.events.Len() == 1 })
	env.node.Store.AddPlayer()

	for {
		ev, data := next()
		if ev != wshub.TypeState {
			continue
		}
		var msg wshub.ServerMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(msg.State.Players) == 2 {
			return
		}
	}
}
