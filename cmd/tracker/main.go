package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/roman-kulish/drone-tracker/cmd/tracker/app"
)

func main() {
	var logLevel slog.LevelVar
	handlerOptions := &slog.HandlerOptions{Level: &logLevel}
	logger := slog.New(slog.NewTextHandler(os.Stdout, handlerOptions))

	var configPath string
	flag.StringVar(&configPath, "c", "", "Path to the configuration file")
	flag.Parse()

	if configPath == "" {
		logger.Error("no configuration file provided")
		os.Exit(1)
	}

	config, err := app.LoadConfig(configPath)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
		os.Exit(1)
	}

	if err = logLevel.UnmarshalText([]byte(config.Settings.LogLevel)); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	if strings.EqualFold(config.Settings.LogFormat, app.LogFormatJSON) {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, handlerOptions))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, config, logger); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
