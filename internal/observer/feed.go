package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/constants"
	"github.com/kapu/yt-harvester-go/internal/domain"
)

// Feed broadcasts engine events to websocket clients so external frontends
// can render live progress without coupling to the engine. The engine only
// ever talks to the event bus; the feed is one more subscriber.
type Feed struct {
	addr     string
	server   *http.Server
	upgrader websocket.Upgrader
	clients  map[*feedClient]struct{}
	clientMu sync.Mutex
	logger   *zap.Logger
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewFeed creates a websocket feed listening on addr.
func NewFeed(addr string, logger *zap.Logger) *Feed {
	return &Feed{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
		logger:  logger,
	}
}

// Start begins accepting websocket connections on /events.
func (f *Feed) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", f.handleUpgrade)
	f.server = &http.Server{Addr: f.addr, Handler: mux}

	go func() {
		f.logger.Info("event feed listening", zap.String("addr", f.addr))
		if err := f.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			f.logger.Warn("event feed server stopped", zap.Error(err))
		}
	}()
}

// Stop closes the server and all client connections.
func (f *Feed) Stop(ctx context.Context) {
	if f.server != nil {
		_ = f.server.Shutdown(ctx)
	}
	f.clientMu.Lock()
	for client := range f.clients {
		close(client.send)
		delete(f.clients, client)
	}
	f.clientMu.Unlock()
}

func (f *Feed) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &feedClient{
		conn: conn,
		send: make(chan []byte, constants.WebSocketFeedConfig.ClientBuffer),
	}
	f.clientMu.Lock()
	f.clients[client] = struct{}{}
	f.clientMu.Unlock()

	f.logger.Debug("feed client connected", zap.String("remote", conn.RemoteAddr().String()))
	go f.writeLoop(client)
	go f.readLoop(client)
}

// writeLoop drains the client's send queue.
func (f *Feed) writeLoop(client *feedClient) {
	for payload := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketFeedConfig.WriteTimeout))
		if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			f.drop(client)
			return
		}
	}
	_ = client.conn.Close()
}

// readLoop discards inbound frames and detects disconnects.
func (f *Feed) readLoop(client *feedClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			f.drop(client)
			return
		}
	}
}

func (f *Feed) drop(client *feedClient) {
	f.clientMu.Lock()
	if _, ok := f.clients[client]; ok {
		delete(f.clients, client)
		close(client.send)
	}
	f.clientMu.Unlock()
	_ = client.conn.Close()
}

// Handle implements event.Observer: every event is fanned out as one JSON
// frame. A client that cannot keep up loses frames rather than stalling the
// feed.
func (f *Feed) Handle(ev *domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.Warn("feed event marshal failed", zap.Error(err))
		return
	}

	f.clientMu.Lock()
	for client := range f.clients {
		select {
		case client.send <- payload:
		default:
			// Slow client; skip this frame.
		}
	}
	f.clientMu.Unlock()
}
