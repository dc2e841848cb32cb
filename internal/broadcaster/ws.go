package broadcaster

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	maxFrameBytes = 64 << 10 // 64 KiB

	wsHeartbeatInterval = 25 * time.Second
	wsHeartbeatTimeout  = 5 * time.Second
	wsMaxPingFailures   = 3
	wsCloseGrace        = 1 * time.Second
)

// GatewayConfig configures the WebSocket transport in front of a Broadcaster.
type GatewayConfig struct {
	WriteTimeout   time.Duration
	OriginRequired bool
	AllowedOrigins []string
	DevInsecure    bool // disables the websocket library's origin check; dev only
}

// Gateway is the /ws HTTP handler: it upgrades the connection, subscribes to
// the Broadcaster, and runs the write/heartbeat/read loops — a writer
// goroutine draining a bounded Send channel, ping-based heartbeat with a
// failure counter, and a read loop that classifies close/context/JSON
// errors uniformly.
type Gateway struct {
	log *slog.Logger
	b   *Broadcaster
	cfg GatewayConfig

	originPatterns []string
}

// NewGateway constructs a Gateway over the given Broadcaster.
func NewGateway(log *slog.Logger, b *Broadcaster, cfg GatewayConfig) *Gateway {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 100 * time.Millisecond
	}
	return &Gateway{log: log, b: b, cfg: cfg, originPatterns: deriveOriginPatterns(cfg.AllowedOrigins)}
}

// inboundFrame is the only shape client->server frames are interpreted as:
// their userId field is logged, everything else is ignored per the WS
// message contract.
type inboundFrame struct {
	UserID string `json:"userId"`
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	sub, err := g.b.Subscribe(func() { shutdown(websocket.StatusNormalClosure, "evicted") })
	if err != nil {
		g.log.Error("ws.subscribe.fail", "err", err)
		return
	}
	defer g.b.Unsubscribe(sub.ID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case payload := <-sub.Send:
				wctx, wcancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
				err := conn.Write(wctx, websocket.MessageText, payload)
				wcancel()
				if err != nil {
					g.log.Info("ws.write.fail", "subscriber_id", sub.ID, "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(wsHeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case <-t.C:
				hctx, hcancel := context.WithTimeout(ctx, wsHeartbeatTimeout)
				err := conn.Ping(hctx)
				hcancel()
				if err != nil {
					failures++
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			default:
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.sendError(ctx, sub, "invalid JSON")
			continue readLoop
		}
		if frame.UserID != "" {
			g.log.Info("ws.client_frame", "subscriber_id", sub.ID, "user_id", frame.UserID)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *Gateway) sendError(ctx context.Context, sub *Subscriber, msg string) {
	payload, _ := json.Marshal(ErrorMessage{Type: TypeError, Error: msg, Timestamp: time.Now().UTC()})
	select {
	case <-ctx.Done():
	case <-sub.Done():
	case sub.Send <- payload:
	default:
	}
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrClose
	}
	return readErrUnknown
}

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "*" || a == origin {
			return nil
		}
	}
	return errors.New("origin not allowed: " + origin)
}

func deriveOriginPatterns(allowed []string) []string {
	patterns := make([]string, 0, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return []string{"*"}
		}
		host := a
		if i := strings.Index(host, "://"); i >= 0 {
			host = host[i+3:]
		}
		patterns = append(patterns, host)
	}
	return patterns
}
