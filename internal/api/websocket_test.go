package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"llm-trading-arena/internal/events"
	"llm-trading-arena/internal/exchange"
)

func dialWS(t *testing.T, ts *testServer) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(ts.srv.Router())
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		server.Close()
		t.Fatalf("dialing %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) (events.Event, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return events.Event{}, false
	}
	var ev events.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshaling frame: %v", err)
	}
	return ev, true
}

func TestHubBroadcastsGlobalTopics(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, done := dialWS(t, ts)
	defer done()

	// The register handoff races with the publish; let it land, then do one
	// read under a single long deadline — gorilla marks the connection
	// failed after any read error, so retrying reads is not an option.
	time.Sleep(300 * time.Millisecond)
	ts.bus.Publish(events.TopicPricesUpdate, []string{"tick"})
	ev, ok := readEvent(t, conn, 3*time.Second)
	if !ok {
		t.Fatal("no prices frame received")
	}
	if ev.Topic != events.TopicPricesUpdate {
		t.Fatalf("topic = %q, want %q", ev.Topic, events.TopicPricesUpdate)
	}
}

func TestHubKlineSubscriptionAndCoalescing(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, done := dialWS(t, ts)
	defer done()

	topic := events.KlineTopic("BTCUSDT", "3m")
	sub, _ := json.Marshal(clientCommand{Type: "subscribe_klines", Symbol: "BTCUSDT", Interval: "3m"})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	bar := exchange.KlineBar{Symbol: "BTCUSDT", Interval: "3m", OpenTimeMs: 1000, Close: 42}

	// Let the subscription reach the hub loop, then do one read under a
	// single long deadline.
	time.Sleep(300 * time.Millisecond)
	ts.bus.Publish(topic, bar)
	got, gotFrame := readEvent(t, conn, 3*time.Second)
	if !gotFrame {
		t.Fatal("no first frame received")
	}
	if got.Topic != topic {
		t.Fatalf("first frame topic = %q, want %q", got.Topic, topic)
	}

	// An identical bar is coalesced away; the next delivered frame is the
	// moved one.
	moved := bar
	moved.Close = 43
	ts.bus.Publish(topic, bar)
	ts.bus.Publish(topic, moved)

	ev, ok := readEvent(t, conn, 2*time.Second)
	if !ok {
		t.Fatal("no frame after price movement")
	}
	var payload exchange.KlineBar
	raw, _ := json.Marshal(ev.Data)
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decoding kline payload: %v", err)
	}
	if payload.Close != 43 {
		t.Fatalf("frame close = %v, want 43 (duplicate not coalesced)", payload.Close)
	}
}

func TestHubUnsubscribeStopsFrames(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, done := dialWS(t, ts)
	defer done()

	topic := events.KlineTopic("ETHUSDT", "1h")
	sub, _ := json.Marshal(clientCommand{Type: "subscribe_klines", Symbol: "ETHUSDT", Interval: "1h"})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	bar := exchange.KlineBar{Symbol: "ETHUSDT", Interval: "1h", OpenTimeMs: 1, Close: 10}
	// Let the subscription reach the hub loop, then publish once and do one
	// read under a single long deadline.
	time.Sleep(300 * time.Millisecond)
	ts.bus.Publish(topic, bar)
	if _, ok := readEvent(t, conn, 3*time.Second); !ok {
		t.Fatal("no frame while subscribed")
	}

	unsub, _ := json.Marshal(clientCommand{Type: "unsubscribe_klines", Symbol: "ETHUSDT", Interval: "1h"})
	if err := conn.WriteMessage(websocket.TextMessage, unsub); err != nil {
		t.Fatalf("unsubscribing: %v", err)
	}
	// Let the change reach the hub loop. Nothing else is in flight: the one
	// published frame was already read.
	time.Sleep(200 * time.Millisecond)

	bar.Close++
	ts.bus.Publish(topic, bar)
	if ev, ok := readEvent(t, conn, 300*time.Millisecond); ok {
		t.Fatalf("frame %q received after unsubscribe", ev.Topic)
	}
}

func TestHubColonCommandNames(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, done := dialWS(t, ts)
	defer done()

	topic := events.KlineTopic("SOLUSDT", "15m")
	sub, _ := json.Marshal(clientCommand{Type: "klines:subscribe", Symbol: "SOLUSDT", Interval: "15m"})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	bar := exchange.KlineBar{Symbol: "SOLUSDT", Interval: "15m", OpenTimeMs: 1, Close: 5}
	// Let the subscription reach the hub loop, then publish once and do one
	// read under a single long deadline.
	time.Sleep(300 * time.Millisecond)
	ts.bus.Publish(topic, bar)
	if _, ok := readEvent(t, conn, 3*time.Second); !ok {
		t.Fatal("no frame after klines:subscribe")
	}

	unsub, _ := json.Marshal(clientCommand{Type: "klines:unsubscribe", Symbol: "SOLUSDT", Interval: "15m"})
	if err := conn.WriteMessage(websocket.TextMessage, unsub); err != nil {
		t.Fatalf("unsubscribing: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	bar.Close++
	ts.bus.Publish(topic, bar)
	if ev, ok := readEvent(t, conn, 300*time.Millisecond); ok {
		t.Fatalf("frame %q received after klines:unsubscribe", ev.Topic)
	}
}

func TestHealthReportsPeerCount(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, done := dialWS(t, ts)
	defer done()
	_ = conn

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w := ts.do(t, http.MethodGet, "/health", nil)
		if strings.Contains(w.Body.String(), `"ws_peers":1`) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("peer count never reached 1")
}
