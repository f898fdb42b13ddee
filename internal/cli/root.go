package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/simp-lee/epubemoji"
	"github.com/simp-lee/epubemoji/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "epubemoji",
	Short: "Replace emoji in ePub books with inline images",
	Long: `epubemoji rewrites every emoji in the content documents of an ePub book as a
small inline image, so the book renders the same on readers without emoji
fonts. Images are Twemoji PNGs taken from a local cache or downloaded on
demand, injected into the archive and listed in its manifest.

Configuration precedence: flags > environment (EPUBEMOJI_CACHE_DIR,
EPUBEMOJI_CDN_BASE, also read from .env) > epubemoji.yaml > defaults.

Exit Codes:
  0  - Success
  1  - General error (a transform failed)
  2  - CLI usage error (invalid arguments or flags)
  3  - Panic or unexpected system error`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

// Execute runs the root command
func Execute() error {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		printVersionInfo()
		return nil
	}
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().String("config", "",
		"Path to a config file (default: ./"+config.ConfigFileName+" if present)")
}

// setupLogging routes library logs to stderr: Info by default, Debug with --verbose.
func setupLogging(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if getVerboseFlag(cmd) {
		level = slog.LevelDebug
	}
	epubemoji.SetLogger(newCommandLogger(cmd.ErrOrStderr(), level))
	return nil
}

// newCommandLogger writes text records when w is a terminal and JSON
// records otherwise (pipes, CI, log collectors).
func newCommandLogger(w io.Writer, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

// getVerboseFlag safely retrieves the verbose flag value
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to get verbose flag: %v\n", err)
		return false
	}
	return verbose
}
