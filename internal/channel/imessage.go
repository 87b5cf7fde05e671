package channel

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"clawbot/internal/bus"
	"clawbot/internal/domain"
	"clawbot/internal/metrics"
)

// fetchQuery selects new incoming messages strictly past the cursor, joined
// with the sender handle, in ascending ROWID order. Outgoing rows and rows
// without a text body are excluded at the source.
const fetchQuery = `SELECT m.ROWID, h.id, m.text
FROM message m
JOIN handle h ON m.handle_id = h.ROWID
WHERE m.ROWID > %d AND m.is_from_me = 0 AND m.text IS NOT NULL
ORDER BY m.ROWID ASC LIMIT %d`

const maxPositionQuery = `SELECT COALESCE(MAX(ROWID), 0) FROM message`

// IMessageConfig configures the iMessage polling channel.
type IMessageConfig struct {
	// DBPath is the Messages store, typically ~/Library/Messages/chat.db.
	DBPath string
	// AllowFrom lists allowed sender handles (phone numbers, Apple IDs).
	AllowFrom []string
	// PollInterval between fetches; defaults to 3s.
	PollInterval time.Duration
	// Driver selects how the store is queried: "cli" shells out to the
	// sqlite3 binary (no lock contention with Messages.app), "sqlite" opens
	// the database read-only in-process. Defaults to "cli".
	Driver string
}

// IMessage reads incoming messages from the local Messages database and
// replies through AppleScript. It never opens the store for writing.
type IMessage struct {
	cfg    IMessageConfig
	source StoreSource
	poller *Poller
	logger *slog.Logger

	// mu guards cancel: Start runs on a registry goroutine while Stop is
	// called from the shutdown path.
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewIMessage creates the iMessage channel.
func NewIMessage(cfg IMessageConfig, logger *slog.Logger) *IMessage {
	var source StoreSource
	switch cfg.Driver {
	case "sqlite":
		source = &sqliteStore{path: cfg.DBPath}
	default:
		source = &cliStore{path: cfg.DBPath}
	}
	c := &IMessage{
		cfg:    cfg,
		source: source,
		logger: logger.With("channel", "imessage"),
	}
	c.poller = NewPoller(c.Name(), source, AllowList(cfg.AllowFrom), cfg.PollInterval, c.logger)
	return c
}

func (c *IMessage) Name() string { return "imessage" }

// Start registers the outbound route and runs the poll loop until ctx is
// cancelled or the bus closes.
func (c *IMessage) Start(ctx context.Context, mbus domain.MessageBus) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	mbus.OnOutbound(c.Name(), func(msg domain.OutboundMessage) error {
		return c.Send(ctx, msg.ChatID, msg.Content)
	})

	return c.poller.Run(ctx, mbus)
}

func (c *IMessage) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (c *IMessage) attachEvents(ev *bus.EventBus) {
	c.poller.events = ev
}

// Send delivers a reply via Messages.app. The recipient is the sender handle
// the inbound message carried as its chat ID.
func (c *IMessage) Send(ctx context.Context, chatID string, content string) error {
	script := fmt.Sprintf(
		`tell application "Messages" to send "%s" to buddy "%s" of (service 1 whose service type is iMessage)`,
		escapeAppleScript(content), escapeAppleScript(chatID))

	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("osascript send: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	metrics.Sent(c.Name()).Inc()
	return nil
}

// Healthy reports whether this host can actually serve iMessage traffic:
// macOS, a readable store, and the sqlite3 binary when the cli driver is in
// use.
func (c *IMessage) Healthy(ctx context.Context) bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	if _, err := os.Stat(c.cfg.DBPath); err != nil {
		return false
	}
	if c.cfg.Driver != "sqlite" {
		if _, err := exec.LookPath("sqlite3"); err != nil {
			return false
		}
	}
	return true
}

// escapeAppleScript escapes a string for embedding in a double-quoted
// AppleScript literal. Backslashes first, then quotes.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// cliStore queries the Messages database by shelling out to sqlite3. The
// read happens in a separate process, so a hung or crashed query can never
// take the poll loop down with it.
type cliStore struct {
	path string
}

func (s *cliStore) MaxPosition(ctx context.Context) (int64, error) {
	out, err := s.query(ctx, maxPositionQuery)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(out)
	if text == "" {
		return 0, nil
	}
	pos, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse max position %q: %w", text, err)
	}
	return pos, nil
}

func (s *cliStore) FetchAfter(ctx context.Context, pos int64, limit int) ([]Record, error) {
	out, err := s.query(ctx, fmt.Sprintf(fetchQuery, pos, limit))
	if err != nil {
		return nil, err
	}
	return parseStoreRows(out), nil
}

func (s *cliStore) query(ctx context.Context, sqlText string) (string, error) {
	cmd := exec.CommandContext(ctx, "sqlite3", "-separator", "|", s.path, sqlText)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("sqlite3 query: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// parseStoreRows parses "position|sender|text" lines. Text may itself
// contain the separator, so only the first two splits are structural.
// Malformed lines are skipped rather than failing the whole batch.
func parseStoreRows(out string) []Record {
	var records []Record
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			continue
		}
		pos, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		records = append(records, Record{Position: pos, Sender: parts[1], Text: parts[2]})
	}
	return records
}

// sqliteStore queries the Messages database in-process through the pure-Go
// sqlite driver, opened read-only. Useful where no sqlite3 binary exists.
type sqliteStore struct {
	path string
	db   *sql.DB
}

func (s *sqliteStore) open() (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	db, err := sql.Open("sqlite", "file:"+s.path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}
	s.db = db
	return db, nil
}

func (s *sqliteStore) MaxPosition(ctx context.Context) (int64, error) {
	db, err := s.open()
	if err != nil {
		return 0, err
	}
	var pos int64
	if err := db.QueryRowContext(ctx, maxPositionQuery).Scan(&pos); err != nil {
		return 0, fmt.Errorf("max position: %w", err)
	}
	return pos, nil
}

func (s *sqliteStore) FetchAfter(ctx context.Context, pos int64, limit int) ([]Record, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(fetchQuery, pos, limit))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Position, &rec.Sender, &rec.Text); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
