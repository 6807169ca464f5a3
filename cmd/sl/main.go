package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stepline/internal/app"
	"stepline/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stepline CLI",
	Long: `Stepline tracks each actor's progress through trees of work items.
Core concepts:
- Tree: a root with phases, units and subunits. IDs are hierarchical (course-3f2a.1.2).
- Progress: every actor has their own status per item: OPEN, IN_PROGRESS, BLOCKED or CLOSED.
- Dependencies: "A blocks on B" means A cannot start until B is closed. Cycles are refused.
- Ready work: items you can start now. An item waiting on something, or inside a parent that
  waits on something, is not ready.
- Completion gate: a parent closes only when its children are closed; evidence items also
  need a passing submission. Closing the last child closes the parent for you.
- Event log: every change is recorded, view with 'sl log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("STEPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor whose progress commands act on")
	rootCmd.PersistentFlags().String("root", "", "root item id (defaults to the only tree in the workspace)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(rootsCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(edgeCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(closeCmd())
	rootCmd.AddCommand(reopenCmd())
	rootCmd.AddCommand(statusMoveCmd("block", "Mark an item BLOCKED", domain.StatusBlocked))
	rootCmd.AddCommand(statusMoveCmd("unblock", "Move a BLOCKED item back to OPEN", domain.StatusOpen))
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(submissionsCmd())
	rootCmd.AddCommand(canCloseCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(readyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

// --- helpers ---

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.OpenWorkspace(ctx, viper.GetString("workspace"), newLogger())
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func actorID() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

func resolveRoot(ctx context.Context, ws *app.Workspace) (domain.Item, error) {
	return app.ResolveRoot(ctx, ws.Engine, viper.GetString("root"))
}

func printJSONOrText(v any, text string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(text)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode gives scripts a way to tell refusals from failures.
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrBlocked), errors.Is(err, domain.ErrClosureRefused), errors.Is(err, domain.ErrInvalidTransition):
		return 3
	case domain.KindOf(err) != "":
		return 2
	default:
		return 1
	}
}
