package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-cprcoach/pkg/coach"
	"github.com/teslashibe/go-cprcoach/pkg/geometry"
	"github.com/teslashibe/go-cprcoach/pkg/motion"
	"github.com/teslashibe/go-cprcoach/pkg/protocol"
)

// =============================================================================
// Helpers
// =============================================================================

func startServer(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()

	hub := NewHub(cfg)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { _ = app.Shutdown() })

	return hub, "ws://" + ln.Addr().String()
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func dial(t *testing.T, url string) *client {
	t.Helper()

	var (
		ws  *websocket.Conn
		err error
	)
	// The listener goroutine may not be serving yet.
	for range 20 {
		ws, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) send(msgType protocol.MessageType, data any) {
	c.t.Helper()
	msg, err := protocol.NewMessage(msgType, data)
	if err != nil {
		c.t.Fatalf("NewMessage: %v", err)
	}
	b, _ := msg.Bytes()
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) read() *protocol.Message {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.t.Fatalf("parse: %v", err)
	}
	return msg
}

// readUntil skips messages until one of type want arrives.
func (c *client) readUntil(want protocol.MessageType) *protocol.Message {
	c.t.Helper()
	for range 500 {
		if msg := c.read(); msg.Type == want {
			return msg
		}
	}
	c.t.Fatalf("no %s message", want)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func lockedFrame(y float64) []geometry.Point {
	return []geometry.Point{
		{X: 0.40, Y: y},
		{X: 0.60, Y: y},
		{X: 0.45, Y: y + 0.15},
		{X: 0.55, Y: y + 0.15},
		{X: 0.50, Y: y + 0.30},
		{X: 0.50, Y: y + 0.30},
	}
}

// strokeY is frame j of a ten-frame compression stroke.
func strokeY(j int) float64 {
	const base, amp = 0.30, 0.03
	if j <= 5 {
		return base + amp*float64(j)/5
	}
	return base + amp*float64(10-j)/5
}

// =============================================================================
// Tests
// =============================================================================

func TestNewHub(t *testing.T) {
	hub := NewHub(Config{})

	if hub.ConnectionCount() != 0 {
		t.Error("ConnectionCount should be 0 initially")
	}
	if stats := hub.GetStats(); stats != (Stats{}) {
		t.Errorf("unexpected initial stats %+v", stats)
	}
	if len(hub.ConnectionInfos()) != 0 {
		t.Error("ConnectionInfos should be empty initially")
	}
	if hub.Get("nonexistent") != nil {
		t.Error("Get should return nil for unknown id")
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	hub, url := startServer(t, Config{})

	c := dial(t, url+"/ws/kiosk-1")
	waitFor(t, func() bool { return hub.ConnectionCount() == 1 })

	if hub.Get("kiosk-1") == nil {
		t.Fatal("Get should return the connected client")
	}

	c.ws.Close()
	waitFor(t, func() bool { return hub.ConnectionCount() == 0 })
}

func TestGeneratedConnectionID(t *testing.T) {
	hub, url := startServer(t, Config{})

	dial(t, url+"/ws")
	waitFor(t, func() bool { return hub.ConnectionCount() == 1 })

	infos := hub.ConnectionInfos()
	if _, err := uuid.Parse(infos[0].ID); err != nil {
		t.Errorf("generated id %q is not a uuid: %v", infos[0].ID, err)
	}
	if infos[0].Session.Active {
		t.Error("new connections start idle")
	}
}

func TestPingPong(t *testing.T) {
	_, url := startServer(t, Config{})
	c := dial(t, url+"/ws/ping-test")

	c.send(protocol.TypePing, protocol.PingData{ID: "p1", Timestamp: time.Now().UnixMilli()})

	msg := c.read()
	if msg.Type != protocol.TypePong {
		t.Fatalf("Type = %s, want pong", msg.Type)
	}
	var pong protocol.PongData
	if err := msg.ParseData(&pong); err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	if pong.ID != "p1" || pong.PongTS < pong.PingTS {
		t.Errorf("unexpected pong %+v", pong)
	}
}

func TestMetricsSession(t *testing.T) {
	hub, url := startServer(t, Config{})
	c := dial(t, url+"/ws/metrics-test")

	c.send(protocol.TypeStartSession, protocol.StartSessionData{Mode: "train"})
	c.send(protocol.TypeMetrics, protocol.MetricsData{
		Metrics: &motion.Sample{BPM: 90, RelativeDepth: 0.1, ElbowsLocked: true, CompressionCount: 4},
		Ready:   true,
	})

	msg := c.read()
	if msg.Type != protocol.TypeFeedback {
		t.Fatalf("Type = %s, want feedback", msg.Type)
	}
	var fb protocol.FeedbackData
	msg.ParseData(&fb)
	if fb.Text != "Push faster" || fb.HighlightColor != "green" || !fb.DuckMusic {
		t.Errorf("unexpected feedback %+v", fb)
	}

	c.send(protocol.TypeStopSession, nil)
	msg = c.readUntil(protocol.TypeSummary)

	var sum protocol.SummaryData
	msg.ParseData(&sum)
	if sum.Stats == nil || sum.Stats.AvgBPM != 90 || sum.Stats.CompressionCount != 4 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if sum.Text != "Session complete. Avg BPM 90. Compression Count 4." {
		t.Errorf("Text = %q", sum.Text)
	}

	waitFor(t, func() bool { return hub.GetStats().SessionsCompleted == 1 })
	stats := hub.GetStats()
	if stats.SessionsStarted != 1 || stats.SessionsCompleted != 1 || stats.FramesProcessed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.MessagesReceived != 3 || stats.MessagesSent != 2 {
		t.Errorf("unexpected message counters %+v", stats)
	}
}

func TestLandmarksSession(t *testing.T) {
	_, url := startServer(t, Config{})
	c := dial(t, url+"/ws/landmarks-test")

	c.send(protocol.TypeStartSession, protocol.StartSessionData{Mode: "test", Song: "staying_alive"})

	ts := time.Date(2026, 2, 21, 10, 0, 0, 0, time.UTC).UnixMilli()
	c.send(protocol.TypeLandmarks, protocol.LandmarksData{Timestamp: ts, Landmarks: lockedFrame(0.30)})

	echo := c.readUntil(protocol.TypeMetrics)
	md, err := echo.GetMetricsData()
	if err != nil {
		t.Fatalf("GetMetricsData: %v", err)
	}
	if !md.Ready || md.Metrics == nil || md.Metrics.Feedback != motion.FeedbackStartPosition {
		t.Fatalf("unexpected start echo %+v", md)
	}

	// Short frames produce no echo.
	c.send(protocol.TypeLandmarks, protocol.LandmarksData{Timestamp: ts, Landmarks: lockedFrame(0.30)[:3]})
	c.send(protocol.TypePing, protocol.PingData{ID: "order"})
	for {
		msg := c.read()
		if msg.Type == protocol.TypePong {
			break
		}
		if msg.Type == protocol.TypeMetrics {
			t.Fatal("short frame should not be echoed")
		}
	}

	for range 3 {
		for j := range 10 {
			ts += 50
			c.send(protocol.TypeLandmarks, protocol.LandmarksData{Timestamp: ts, Landmarks: lockedFrame(strokeY(j))})
		}
	}
	c.send(protocol.TypeStopSession, nil)

	msg := c.readUntil(protocol.TypeSummary)
	var sum protocol.SummaryData
	msg.ParseData(&sum)
	if sum.Stats == nil {
		t.Fatal("summary should carry stats")
	}
	if sum.Stats.CompressionCount < 2 {
		t.Errorf("CompressionCount = %d, want at least 2", sum.Stats.CompressionCount)
	}
	if sum.Stats.ElbowLockedPercent != 100 {
		t.Errorf("ElbowLockedPercent = %f, want 100", sum.Stats.ElbowLockedPercent)
	}
}

func TestInvalidModeIgnored(t *testing.T) {
	hub, url := startServer(t, Config{})
	c := dial(t, url+"/ws/mode-test")

	c.send(protocol.TypeStartSession, protocol.StartSessionData{Mode: "practice"})
	c.send(protocol.TypeMetrics, protocol.MetricsData{Metrics: &motion.Sample{BPM: 90}, Ready: true})
	c.send(protocol.TypePing, protocol.PingData{ID: "after"})

	if msg := c.read(); msg.Type != protocol.TypePong {
		t.Fatalf("Type = %s, want pong (no session, no feedback)", msg.Type)
	}
	if hub.GetStats().SessionsStarted != 0 {
		t.Error("invalid mode must not start a session")
	}
}

func TestVoiceCommandWithoutEnricher(t *testing.T) {
	_, url := startServer(t, Config{})
	c := dial(t, url+"/ws/voice-test")

	c.send(protocol.TypeVoice, protocol.VoiceCommandData{Text: "how deep?"})

	msg := c.readUntil(protocol.TypeVoiceReply)
	var reply protocol.VoiceReplyData
	msg.ParseData(&reply)
	if reply.Text != coach.TextVoiceFailure {
		t.Errorf("Text = %q", reply.Text)
	}
}

func TestMalformedMessage(t *testing.T) {
	hub, url := startServer(t, Config{})
	c := dial(t, url+"/ws/bad-test")

	c.ws.WriteMessage(websocket.TextMessage, []byte(`{not json`))
	c.ws.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`))
	c.send(protocol.TypePing, protocol.PingData{ID: "alive"})

	if msg := c.read(); msg.Type != protocol.TypePong {
		t.Fatalf("connection should survive malformed input, got %s", msg.Type)
	}
	if n := hub.GetStats().ParseErrors; n != 2 {
		t.Errorf("ParseErrors = %d, want 2", n)
	}
}

func TestSendTo(t *testing.T) {
	hub, url := startServer(t, Config{})

	if err := hub.SendTo("nonexistent", &protocol.Message{Type: protocol.TypePing}); err == nil {
		t.Error("SendTo should fail for unknown clients")
	}

	c := dial(t, url+"/ws/push-test")
	waitFor(t, func() bool { return hub.Get("push-test") != nil })

	msg, _ := protocol.NewFeedbackMessage("Keep going", "green", false)
	if err := hub.SendTo("push-test", msg); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if got := c.read(); got.Type != protocol.TypeFeedback {
		t.Errorf("Type = %s, want feedback", got.Type)
	}
}

func TestCloseAll(t *testing.T) {
	hub, url := startServer(t, Config{})
	dial(t, url+"/ws/a")
	dial(t, url+"/ws/b")
	waitFor(t, func() bool { return hub.ConnectionCount() == 2 })

	hub.CloseAll()
	waitFor(t, func() bool { return hub.ConnectionCount() == 0 })
}

func TestAPIConnections(t *testing.T) {
	hub := NewHub(Config{})
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterAPIRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/connections/", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	var payload struct {
		Connections []ConnectionInfo `json:"connections"`
		Count       int              `json:"count"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Count != 0 || payload.Connections == nil {
		t.Errorf("unexpected payload %s", body)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/connections/stats", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
}

func TestWebSocketUpgradeRequired(t *testing.T) {
	hub := NewHub(Config{})
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}

func TestWritePrometheus(t *testing.T) {
	var buf bytes.Buffer
	stats := Stats{Connections: 2, MessagesReceived: 10, MessagesSent: 7, FramesProcessed: 5}
	if err := stats.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"# TYPE cprcoach_connections gauge",
		"cprcoach_connections 2\n",
		"# TYPE cprcoach_messages_sent_total counter",
		"cprcoach_messages_received_total 10\n",
		"cprcoach_frames_processed_total 5\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
