package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"clawbot/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your clawbot installation",
		Long: `Verifies that clawbot's configuration, channel credentials, local
stores, and ports are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("clawbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'clawbot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n1 passed, 1 failed\n")
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Channel credentials
			if cfg.Channels.Telegram.Enabled {
				if cfg.Channels.Telegram.Token == "" {
					printFail("Telegram", "enabled but no token configured")
					failed++
				} else if len(cfg.Channels.Telegram.AllowFrom) == 0 {
					printWarn("Telegram", "no allowFrom entries; every sender will be denied")
					warned++
				} else {
					printPass("Telegram", "configured")
					passed++
				}
			}
			if cfg.Channels.Discord.Enabled {
				if cfg.Channels.Discord.Token == "" {
					printFail("Discord", "enabled but no token configured")
					failed++
				} else {
					printPass("Discord", "configured")
					passed++
				}
			}
			if cfg.Channels.Slack.Enabled {
				if cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "" {
					printFail("Slack", "enabled but botToken/appToken missing")
					failed++
				} else {
					printPass("Slack", "configured")
					passed++
				}
			}

			// 4. iMessage store
			if cfg.Channels.IMessage.Enabled {
				switch {
				case runtime.GOOS != "darwin":
					printFail("iMessage", "requires macOS")
					failed++
				default:
					dbPath := cfg.Channels.IMessage.DBPath
					if _, err := os.Stat(dbPath); err != nil {
						printFail("iMessage store", fmt.Sprintf("cannot read %s (grant Full Disk Access?)", dbPath))
						failed++
					} else if err := checkMessageStore(dbPath); err != nil {
						printWarn("iMessage store", err.Error())
						warned++
					} else {
						printPass("iMessage store", dbPath)
						passed++
					}

					if cfg.Channels.IMessage.Driver != "sqlite" {
						if _, err := exec.LookPath("sqlite3"); err != nil {
							printFail("sqlite3 binary", "not found on PATH (needed by the cli driver)")
							failed++
						} else {
							printPass("sqlite3 binary", "found")
							passed++
						}
					}
					if _, err := exec.LookPath("osascript"); err != nil {
						printWarn("osascript", "not found; replies cannot be sent")
						warned++
					}
				}
			}

			// 5. Ports
			for name, chCfg := range map[string]struct {
				enabled bool
				port    int
			}{
				"Webhook port":   {cfg.Channels.Webhook.Enabled, cfg.Channels.Webhook.Port},
				"WebSocket port": {cfg.Channels.WebSocket.Enabled, cfg.Channels.WebSocket.Port},
			} {
				if !chCfg.enabled {
					continue
				}
				if err := checkPort(chCfg.port); err != nil {
					printWarn(name, fmt.Sprintf("port %d may be in use: %v", chCfg.port, err))
					warned++
				} else {
					printPass(name, fmt.Sprintf(":%d available", chCfg.port))
					passed++
				}
			}

			// 6. Browser tool
			if cfg.Tools.Browser.Enabled {
				if chromePath() == "" {
					printWarn("Browser tool", "no Chrome/Chromium binary found")
					warned++
				} else {
					printPass("Browser tool", chromePath())
					passed++
				}
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running clawbot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nclawbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! clawbot is ready to run.\n")
			}
			return nil
		},
	}
}

// checkMessageStore opens the Messages database read-only and verifies the
// expected tables are queryable.
func checkMessageStore(dbPath string) error {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM message").Scan(&n); err != nil {
		return fmt.Errorf("message table not readable: %w", err)
	}
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func chromePath() string {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	for _, p := range []string{
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
