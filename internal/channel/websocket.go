package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"clawbot/internal/domain"
	"clawbot/internal/metrics"
)

// WSConfig configures the WebSocket channel.
type WSConfig struct {
	Port int
	// Path is the WebSocket endpoint path, default /ws.
	Path string
	// AllowFrom entries match the user_id field of inbound frames.
	AllowFrom []string
}

// WebSocketChannel provides real-time bidirectional communication.
type WebSocketChannel struct {
	port   int
	path   string
	allow  AllowList
	bus    domain.MessageBus
	logger *slog.Logger
	server *http.Server

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// wsClient tracks a connected WebSocket client. The write mutex serializes
// frames: gorilla connections allow only one concurrent writer.
type wsClient struct {
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex
}

// WSMessage is the JSON frame protocol.
type WSMessage struct {
	Type    string `json:"type"` // "message" | "status"
	Content string `json:"content,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewWebSocketChannel creates a new WebSocket channel.
func NewWebSocketChannel(cfg WSConfig, logger *slog.Logger) *WebSocketChannel {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	return &WebSocketChannel{
		port:    cfg.Port,
		path:    cfg.Path,
		allow:   AllowList(cfg.AllowFrom),
		logger:  logger.With("channel", "websocket"),
		clients: make(map[string]*wsClient),
	}
}

func (ws *WebSocketChannel) Name() string { return "websocket" }

// Start runs the WebSocket server until ctx is cancelled or the bus closes.
func (ws *WebSocketChannel) Start(ctx context.Context, mbus domain.MessageBus) error {
	ws.bus = mbus

	mux := http.NewServeMux()
	mux.HandleFunc(ws.path, ws.handleUpgrade)

	ws.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", ws.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	mbus.OnOutbound(ws.Name(), func(msg domain.OutboundMessage) error {
		return ws.Send(ctx, msg.ChatID, msg.Content)
	})

	ws.logger.Info("websocket server starting", "port", ws.port, "path", ws.path)

	errCh := make(chan error, 1)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		ws.logger.Info("websocket server shutting down")
	case <-busDone(mbus):
		ws.logger.Info("bus closed, websocket server shutting down")
	}

	ws.closeAllClients()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		ws.logger.Warn("websocket server shutdown", "err", err)
	}
	return nil
}

func (ws *WebSocketChannel) Stop() error { return nil }

// Send broadcasts a reply to every client attached to the chat.
func (ws *WebSocketChannel) Send(ctx context.Context, chatID string, content string) error {
	ws.broadcastToChat(chatID, WSMessage{Type: "message", Content: content, ChatID: chatID})
	metrics.Sent(ws.Name()).Inc()
	return nil
}

func (ws *WebSocketChannel) Healthy(ctx context.Context) bool { return true }

func (ws *WebSocketChannel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		chatID = "ws-" + uuid.NewString()
	}

	client := &wsClient{conn: conn, chatID: chatID}
	clientID := fmt.Sprintf("%s-%p", chatID, conn)
	ws.mu.Lock()
	ws.clients[clientID] = client
	ws.mu.Unlock()

	ws.logger.Info("websocket client connected", "client_id", clientID, "chat_id", chatID)
	client.send(WSMessage{Type: "status", Content: "connected", ChatID: chatID})

	defer func() {
		ws.mu.Lock()
		delete(ws.clients, clientID)
		ws.mu.Unlock()
		conn.Close()
		ws.logger.Info("websocket client disconnected", "client_id", clientID)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var wsMsg WSMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			ws.logger.Warn("invalid websocket frame", "err", err)
			continue
		}
		if wsMsg.Type != "message" {
			continue
		}

		if !ws.allow.Allows(wsMsg.UserID) {
			ws.logger.Warn("unauthorized websocket sender", "user_id", wsMsg.UserID)
			metrics.Denied(ws.Name()).Inc()
			continue
		}
		if strings.TrimSpace(wsMsg.Content) == "" {
			metrics.Empty(ws.Name()).Inc()
			continue
		}

		if err := ws.bus.Publish(domain.InboundMessage{
			ID:        uuid.NewString(),
			Channel:   ws.Name(),
			ChatID:    chatID,
			SenderID:  wsMsg.UserID,
			Content:   wsMsg.Content,
			Timestamp: time.Now(),
		}); err != nil {
			return
		}
		metrics.Received(ws.Name()).Inc()
	}
}

func (ws *WebSocketChannel) broadcastToChat(chatID string, msg WSMessage) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	for _, client := range ws.clients {
		if client.chatID == chatID || chatID == "" {
			client.mu.Lock()
			err := client.conn.WriteMessage(websocket.TextMessage, data)
			client.mu.Unlock()
			if err != nil {
				ws.logger.Debug("websocket write failed", "err", err)
			}
		}
	}
}

func (c *wsClient) send(msg WSMessage) {
	data, _ := json.Marshal(msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.TextMessage, data)
}

func (ws *WebSocketChannel) closeAllClients() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, client := range ws.clients {
		client.conn.Close()
		delete(ws.clients, id)
	}
}
