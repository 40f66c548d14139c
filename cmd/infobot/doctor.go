package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"infobot/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your InfoBot installation",
		Long: `Verifies that InfoBot's configuration, contact lists, browser profile
and history database are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("InfoBot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'infobot init' to create a default configuration.\n")
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\nResults: %d passed, %d failed\n", passed, 1)
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Contact lists
			if len(cfg.Contacts.Sources) == 0 {
				printFail("Source contacts", "none configured, nothing to monitor")
				failed++
			} else {
				printPass("Source contacts", fmt.Sprintf("%d configured", len(cfg.Contacts.Sources)))
				passed++
			}
			if len(cfg.Contacts.Targets) == 0 {
				printWarn("Target contacts", "none configured, forwards will be skipped")
				warned++
			} else {
				printPass("Target contacts", fmt.Sprintf("%d configured", len(cfg.Contacts.Targets)))
				passed++
			}

			// 4. Browser profile directory writable
			profileDir := config.ExpandPath(cfg.Driver.ProfileDir)
			if err := os.MkdirAll(profileDir, 0o755); err != nil {
				printFail("Browser profile", err.Error())
				failed++
			} else {
				printPass("Browser profile", profileDir)
				passed++
			}

			// 5. Classification backend
			if cfg.Prompts.UseAIForAnalysis {
				if cfg.SiliconFlow.APIKey == "" {
					printWarn("AI analysis", "enabled but no API key, keyword rules will be used")
					warned++
				} else {
					printPass("AI analysis", cfg.SiliconFlow.Model)
					passed++
				}
			} else {
				printPass("AI analysis", "disabled, keyword rules only")
				passed++
			}

			// 6. History database writable
			if cfg.History.Enabled {
				dbPath := config.ExpandPath(cfg.History.DBPath)
				if err := checkDatabase(dbPath); err != nil {
					printFail("History database", err.Error())
					failed++
				} else {
					printPass("History database", dbPath)
					passed++
				}
			}

			// 7. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics listen", cfg.Metrics.Listen)
					passed++
				}
			}

			// 8. Telegram token
			if cfg.Telegram.Enabled {
				if cfg.Telegram.Token == "" {
					printFail("Telegram", "enabled but no token configured")
					failed++
				} else {
					printPass("Telegram", "token configured")
					passed++
				}
				if len(cfg.Telegram.AllowFrom) == 0 {
					printWarn("Telegram allow list", "empty, every user may control the bot")
					warned++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running InfoBot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nInfoBot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! InfoBot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
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
