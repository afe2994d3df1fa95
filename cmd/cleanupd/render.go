package main

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"cleanupd/internal/index"
	"cleanupd/internal/result"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

var numbers = message.NewPrinter(language.English)

func formatCount[T int | int64](n T) string {
	return numbers.Sprintf("%d", n)
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// writeJSON encodes v as indented JSON to the command's stdout. Paths are
// written as-is; HTML escaping would mangle names containing '&' or '<'.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func paint(label, color string, colorize bool) string {
	if !colorize || color == "" {
		return label
	}
	return color + label + ansiReset
}

func colorOutcome(o result.Outcome, colorize bool) string {
	switch o {
	case result.Success:
		return paint(string(o), ansiGreen, colorize)
	case result.Skipped:
		return paint(string(o), ansiYellow, colorize)
	case result.Failed:
		return paint(string(o), ansiRed, colorize)
	default:
		return string(o)
	}
}

func colorStatus(s index.Status, colorize bool) string {
	switch s {
	case index.StatusSuccess:
		return paint(string(s), ansiGreen, colorize)
	case index.StatusDryRun:
		return paint(string(s), ansiYellow, colorize)
	case index.StatusFailed:
		return paint(string(s), ansiRed, colorize)
	default:
		return string(s)
	}
}
