// MindHome is a local voice assistant backend for a German-speaking
// household. It talks to Home Assistant for device control, to a local
// Ollama instance for inference and embeddings, and to Redis and SQLite
// for its memory tiers. No data leaves the house.
//
// Usage:
//
//	mindhome serve       Start the API server
//	mindhome version     Print version information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Goifal/mindhome-assistant/internal/activity"
	"github.com/Goifal/mindhome-assistant/internal/api"
	"github.com/Goifal/mindhome-assistant/internal/audit"
	"github.com/Goifal/mindhome-assistant/internal/autonomy"
	"github.com/Goifal/mindhome-assistant/internal/brain"
	"github.com/Goifal/mindhome-assistant/internal/config"
	"github.com/Goifal/mindhome-assistant/internal/contextbuilder"
	"github.com/Goifal/mindhome-assistant/internal/embeddings"
	"github.com/Goifal/mindhome-assistant/internal/episodic"
	"github.com/Goifal/mindhome-assistant/internal/events"
	"github.com/Goifal/mindhome-assistant/internal/executor"
	"github.com/Goifal/mindhome-assistant/internal/extractor"
	"github.com/Goifal/mindhome-assistant/internal/facts"
	"github.com/Goifal/mindhome-assistant/internal/feedback"
	"github.com/Goifal/mindhome-assistant/internal/homeassistant"
	"github.com/Goifal/mindhome-assistant/internal/llm"
	"github.com/Goifal/mindhome-assistant/internal/memory"
	"github.com/Goifal/mindhome-assistant/internal/mood"
	"github.com/Goifal/mindhome-assistant/internal/personality"
	"github.com/Goifal/mindhome-assistant/internal/planner"
	"github.com/Goifal/mindhome-assistant/internal/proactive"
	"github.com/Goifal/mindhome-assistant/internal/router"
	"github.com/Goifal/mindhome-assistant/internal/summarizer"
	"github.com/Goifal/mindhome-assistant/internal/validator"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment and delegates to run so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments by hand. The flag package relies on package
// globals, which makes it impossible to call run concurrently from
// tests, and the argument surface here is tiny.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "MindHome - Local Voice Assistant Backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: mindhome [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve      Start the API server")
	fmt.Fprintln(w, "  version    Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>   Path to config file (default: auto-discover)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/mindhome/config.yaml, /etc/mindhome/config.yaml")
	return nil
}

func runVersion(w io.Writer) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	fmt.Fprintf(w, "mindhome %s\n", version)
	return nil
}

// runServe is the primary operating mode: load config, open the memory
// tiers, connect the gateways, wire the pipeline, and serve until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("starting MindHome",
		"config", cfgPath,
		"port", cfg.Listen.Port,
		"fast_model", cfg.Models.Fast,
		"capable_model", cfg.Models.Capable,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Redis ---
	// Working memory, mood state, feedback scores, autonomy level, and
	// proactive cooldowns all live here.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable at startup", "address", cfg.Redis.Address, "error", err)
	}

	// --- Embeddings ---
	embBase := cfg.Embeddings.BaseURL
	if embBase == "" {
		embBase = cfg.Models.OllamaURL
	}
	embClient := embeddings.New(embeddings.Config{BaseURL: embBase, Model: cfg.Embeddings.Model})

	// --- Memory tiers ---
	working := memory.NewWorking(rdb, logger)

	factStore, err := facts.NewStore(cfg.DataDir+"/facts.db", embClient)
	if err != nil {
		return fmt.Errorf("open fact store: %w", err)
	}
	defer factStore.Close()
	logger.Info("fact store opened", "path", cfg.DataDir+"/facts.db")

	episodeStore, err := episodic.NewStore(cfg.DataDir+"/episodes.db", embClient)
	if err != nil {
		return fmt.Errorf("open episodic store: %w", err)
	}
	defer episodeStore.Close()
	logger.Info("episodic store opened", "path", cfg.DataDir+"/episodes.db")

	// --- Gateways ---
	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	haWS := homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	llmClient := llm.NewClient(cfg.Models.OllamaURL, logger)

	if err := ha.Ping(ctx); err != nil {
		logger.Warn("Home Assistant not reachable at startup", "url", cfg.HomeAssistant.URL, "error", err)
	}
	if err := llmClient.Ping(ctx); err != nil {
		logger.Warn("Ollama not reachable at startup", "url", cfg.Models.OllamaURL, "error", err)
	}

	// --- Pipeline components ---
	bus := events.New()
	auditLog := audit.New()

	rtr := router.New(router.Config{
		MaxFastWords:    cfg.Router.MaxFastWords,
		CommandKeywords: cfg.Router.CommandKeywords,
		FastModel:       cfg.Models.Fast,
		CapableModel:    cfg.Models.Capable,
	}, logger)

	moods := mood.New(mood.Config{
		RapidInterval:        time.Duration(cfg.Mood.RapidIntervalSec) * time.Second,
		ShortUtteranceWords:  cfg.Mood.ShortUtteranceWords,
		FrustrationThreshold: cfg.Mood.FrustrationThreshold,
		DecayWindow:          time.Duration(cfg.Mood.DecayWindowSec) * time.Second,
		NightStartHour:       cfg.Mood.NightStartHour,
		NightEndHour:         cfg.Mood.NightEndHour,
	}, rdb, logger)

	acts := activity.New(activity.Config{
		MediaPlayers: cfg.Activity.MediaPlayers,
		MicSensors:   cfg.Activity.MicSensors,
		BedSensors:   cfg.Activity.BedSensors,
		PCSensors:    cfg.Activity.PCSensors,
		Persons:      cfg.Activity.Persons,
		NightLights:  cfg.Activity.NightLights,
		GuestCount:   cfg.Activity.GuestCount,
	}, ha, logger)

	valid := validator.New(validator.Config{
		ClimateMin:     cfg.Validator.ClimateMin,
		ClimateMax:     cfg.Validator.ClimateMax,
		ConfirmActions: cfg.Validator.ConfirmActions,
	})

	exec := executor.New(ha, logger)

	plan := planner.New(planner.Config{
		MaxIterations:   cfg.Planner.MaxIterations,
		ComplexKeywords: cfg.Planner.ComplexKeywords,
		Model:           cfg.Models.Capable,
	}, llmClient, valid, exec, logger)

	auto := autonomy.New(ctx, rdb, cfg.Autonomy.DefaultLevel, logger)

	fb := feedback.New(rdb, time.Duration(cfg.Feedback.PendingTimeoutSec)*time.Second, logger)

	extract := extractor.New(llmClient, cfg.Models.Fast, factStore, logger)

	builder := contextbuilder.New(factStore, episodeStore, working, ha, logger)

	mind := brain.New(brain.Deps{
		LLM:       llmClient,
		HA:        ha,
		Router:    rtr,
		Moods:     moods,
		Activity:  acts,
		Builder:   builder,
		Persona:   personality.New(),
		Validator: valid,
		Executor:  exec,
		Planner:   plan,
		Extractor: extract,
		Working:   working,
		Episodes:  episodeStore,
		Audit:     auditLog,
		Bus:       bus,
		Logger:    logger,
	})

	// --- Nightly summarizer ---
	summ := summarizer.New(summarizer.Config{
		Schedule: cfg.Summarizer.Schedule,
		Model:    cfg.Models.Capable,
	}, llmClient, rdb, working, episodeStore, logger)
	if err := summ.Start(); err != nil {
		return fmt.Errorf("start summarizer: %w", err)
	}
	defer summ.Stop()

	// --- Signal handling ---
	// Installed before the event plumbing so the WebSocket reconnect
	// loop and the proactive consumer shut down with everything else.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Proactive pipeline ---
	// HA state changes flow through the WebSocket into the bridge, which
	// turns the interesting ones into engine events for the manager.
	manager := proactive.New(proactive.Config{
		BaseCooldown:  time.Duration(cfg.Proactive.BaseCooldownSec) * time.Second,
		SilenceScenes: cfg.Proactive.SilenceScenes,
		PhrasingModel: cfg.Models.Capable,
	}, rdb, llmClient, bus, fb, auto, acts, mind, logger)

	engineCh := make(chan proactive.EngineEvent, 32)
	go manager.Run(ctx, engineCh)

	bridge := proactive.NewBridge(nil, engineCh, logger)
	go bridge.Run(ctx, haWS.Events())

	go haWS.Run(ctx)
	go subscribeStateChanged(ctx, haWS, logger)

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, api.Deps{
		Brain:      mind,
		Router:     rtr,
		Planner:    plan,
		Facts:      factStore,
		Episodes:   episodeStore,
		Working:    working,
		Feedback:   fb,
		Autonomy:   auto,
		Summarizer: summ,
		Audit:      auditLog,
		Bus:        bus,
		Logger:     logger,
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
		_ = haWS.Close()
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("MindHome stopped")
	return nil
}

// subscribeStateChanged retries until the WebSocket connection is up.
// After the first success, reconnects restore the subscription
// automatically.
func subscribeStateChanged(ctx context.Context, ws *homeassistant.WSClient, logger *slog.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			subCtx, subCancel := context.WithTimeout(ctx, 10*time.Second)
			err := ws.Subscribe(subCtx, "state_changed")
			subCancel()
			if err == nil {
				return
			}
			logger.Debug("state_changed subscribe pending", "error", err)
		}
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
