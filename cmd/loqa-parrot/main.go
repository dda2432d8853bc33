package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/loqalabs/loqa-parrot/internal/config"
	"github.com/loqalabs/loqa-parrot/internal/runtime"
	"github.com/loqalabs/loqa-parrot/internal/voices"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		envFile     string
		showVersion bool
		listVoices  bool
	)

	flag.StringVar(&configPath, "config", "loqa-parrot.yaml", "Path to configuration file")
	flag.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment overrides")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&listVoices, "list-voices", false, "Print the installed TTS voices and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	// Transcripts own stdout; logs go to stderr.
	bootLogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		bootLogger.Warn("failed to load env file", slog.String("path", envFile), slog.String("error", err.Error()))
	}

	cfg, err := config.Load(configPath)
	if err != nil && errors.Is(err, fs.ErrNotExist) && !flagSet("config") {
		cfg, err = config.Load("")
	}
	if err != nil {
		bootLogger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Telemetry.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if listVoices {
		list, err := runtime.ListVoices(ctx, cfg, logger)
		if err != nil {
			logger.Error("failed to list voices", slog.String("error", err.Error()))
			os.Exit(1)
		}
		for _, v := range list {
			fmt.Printf("%s\t%s\n", v.ID, v.Name)
		}
		return
	}

	rt := runtime.New(cfg, logger)
	if err := rt.Start(ctx); err != nil {
		switch {
		case errors.Is(err, voices.ErrVoiceFile), errors.Is(err, voices.ErrNoVoices), errors.Is(err, voices.ErrNoMatch):
			logger.Error("voice configuration unusable", slog.String("file", cfg.Voices.File), slog.String("error", err.Error()))
		default:
			logger.Error("runtime exited with error", slog.String("error", err.Error()))
		}
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func logLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelWarn
	}
	return level
}
