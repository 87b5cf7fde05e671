package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"clawbot/internal/domain"
)

// CLI implements domain.Channel for interactive terminal chat.
type CLI struct {
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	seq       atomic.Int64
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

// CLIConfig configures the terminal channel. In and Out default to stdin
// and stdout.
type CLIConfig struct {
	In  io.Reader
	Out io.Writer
}

func NewCLI(cfg CLIConfig, logger *slog.Logger) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &CLI{
		logger: logger.With("channel", "cli"),
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL until EOF, /quit, or cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	bus.OnOutbound(c.Name(), func(msg domain.OutboundMessage) error {
		c.stopThinking()
		_, _ = fmt.Fprintln(c.out, "\r\033[K")
		_, _ = fmt.Fprintln(c.out, "--- clawbot ---")
		_, _ = fmt.Fprintln(c.out, msg.Content)
		_, _ = fmt.Fprintln(c.out, "---------------")
		_, _ = fmt.Fprint(c.out, "You> ")
		return nil
	})

	_, _ = fmt.Fprintln(c.out, "clawbot CLI. Type your message and press Enter. Type /quit to exit.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.startThinking()
		if err := bus.Publish(domain.InboundMessage{
			ID:        strconv.FormatInt(c.seq.Add(1), 10),
			Channel:   c.Name(),
			ChatID:    "direct",
			SenderID:  "user",
			Content:   line,
			Timestamp: time.Now(),
		}); err != nil {
			c.stopThinking()
			if errors.Is(err, domain.ErrBusClosed) {
				return nil
			}
			return err
		}
	}
}

// Stop is a no-op: the REPL exits when Start returns.
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	_, err := fmt.Fprintln(c.out, content)
	return err
}

func (c *CLI) Healthy(ctx context.Context) bool { return true }

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}
