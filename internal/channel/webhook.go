package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"clawbot/internal/domain"
	"clawbot/internal/metrics"
)

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Port int
	// Path is the webhook URL path, default /webhook.
	Path string
	// Secret enables HMAC-SHA256 signature verification when set.
	Secret string
	// AllowFrom entries match the payload's user_id field.
	AllowFrom []string
	// ExposeMetrics mounts the Prometheus endpoint at /metrics.
	ExposeMetrics bool
}

// Webhook accepts HTTP POST requests and feeds them into the bus. It is a
// fire-and-forget surface: replies are logged, not delivered back to the
// caller.
type Webhook struct {
	port          int
	path          string
	secret        string
	allow         AllowList
	exposeMetrics bool
	bus           domain.MessageBus
	logger        *slog.Logger
	server        *http.Server
}

// WebhookPayload is the expected JSON body for webhook requests.
type WebhookPayload struct {
	ChatID  string `json:"chat_id"`
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// NewWebhook creates a new webhook channel.
func NewWebhook(cfg WebhookConfig, logger *slog.Logger) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	return &Webhook{
		port:          cfg.Port,
		path:          cfg.Path,
		secret:        cfg.Secret,
		allow:         AllowList(cfg.AllowFrom),
		exposeMetrics: cfg.ExposeMetrics,
		logger:        logger.With("channel", "webhook"),
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Start runs the HTTP server until ctx is cancelled or the bus closes. The
// same server also exposes /healthz, and /metrics when enabled.
func (w *Webhook) Start(ctx context.Context, mbus domain.MessageBus) error {
	w.bus = mbus

	w.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", w.port),
		Handler:           w.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	mbus.OnOutbound(w.Name(), func(msg domain.OutboundMessage) error {
		return w.Send(ctx, msg.ChatID, msg.Content)
	})

	w.logger.Info("webhook server starting", "port", w.port, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
	case <-busDone(mbus):
		w.logger.Info("bus closed, webhook server shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.server.Shutdown(shutdownCtx); err != nil {
		w.logger.Warn("webhook server shutdown", "err", err)
	}
	return nil
}

// routes builds the webhook server mux.
func (w *Webhook) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleWebhook)
	if w.exposeMetrics {
		mux.HandleFunc("/metrics", metrics.Collector.Handler())
	}
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		fmt.Fprintln(rw, "ok")
	})
	return mux
}

func (w *Webhook) Stop() error { return nil }

// Send logs the reply; there is no caller left to deliver it to.
func (w *Webhook) Send(ctx context.Context, chatID string, content string) error {
	w.logger.Debug("webhook outbound (not forwarded)", "chat_id", chatID, "content_len", len(content))
	return nil
}

func (w *Webhook) Healthy(ctx context.Context) bool { return true }

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if payload.UserID == "" {
		payload.UserID = "webhook"
	}
	if payload.ChatID == "" {
		payload.ChatID = "webhook-default"
	}

	if !w.allow.Allows(payload.UserID) {
		w.logger.Warn("unauthorized webhook sender", "user_id", payload.UserID)
		metrics.Denied(w.Name()).Inc()
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	if strings.TrimSpace(payload.Content) == "" {
		metrics.Empty(w.Name()).Inc()
		http.Error(rw, "Content is required", http.StatusBadRequest)
		return
	}

	w.logger.Info("webhook received",
		"chat_id", payload.ChatID, "user_id", payload.UserID, "content_len", len(payload.Content))

	if err := w.bus.Publish(domain.InboundMessage{
		ID:        uuid.NewString(),
		Channel:   w.Name(),
		ChatID:    payload.ChatID,
		SenderID:  payload.UserID,
		Content:   payload.Content,
		Timestamp: time.Now(),
	}); err != nil {
		http.Error(rw, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	metrics.Received(w.Name()).Inc()

	rw.WriteHeader(http.StatusAccepted)
	json.NewEncoder(rw).Encode(map[string]string{"status": "accepted"})
}

// verifyHMAC checks the HMAC-SHA256 signature of the body in constant time.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
