package util

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

const (
	COLOR_GREY      = "241"
	COLOR_MAGENTA   = "170"
	COLOR_LIGHTBLUE = "69"
	COLOR_PURPLE    = "#7D56F4"
	COLOR_RED       = "196"
	COLOR_YELLOW    = "214"
)

func levelStyle(label, color string) lipgloss.Style {
	return lipgloss.NewStyle().
		SetString(label).
		Bold(true).
		MaxWidth(5).
		Foreground(lipgloss.Color(color))
}

func logStyles() *log.Styles {
	styles := log.DefaultStyles()
	styles.Levels[log.DebugLevel] = levelStyle("DEBUG", COLOR_GREY)
	styles.Levels[log.InfoLevel] = levelStyle("INFO", COLOR_LIGHTBLUE)
	styles.Levels[log.WarnLevel] = levelStyle("WARN", COLOR_YELLOW)
	styles.Levels[log.ErrorLevel] = levelStyle("ERROR", COLOR_RED)
	styles.Levels[log.FatalLevel] = levelStyle("FATAL", COLOR_MAGENTA)
	styles.Prefix = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(COLOR_PURPLE))
	styles.Key = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_GREY))
	return styles
}

// NewLogger builds the root logger. Components derive theirs with WithPrefix.
// An unknown level falls back to info.
func NewLogger(w io.Writer, level string, color bool) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
	logger.SetStyles(logStyles())
	if !color {
		logger.SetColorProfile(termenv.Ascii)
	}
	return logger
}
