package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	// Ensure API keys are loaded
	_ "github.com/joho/godotenv/autoload"

	"github.com/casualjim/relay/pkg/slogx"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

var logLevel = new(slog.LevelVar)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: logLevel}),
	))
}

// setLogLevel accepts debug, info, warn and error. Unknown names keep the
// current level.
func setLogLevel(name string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		slog.Warn("unknown log level", slog.String("level", name))
		return
	}
	logLevel.Set(level)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("relay failed", slogx.Error(err))
		os.Exit(1)
	}
}
