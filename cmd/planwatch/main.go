package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tracefront/planwatch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "planwatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; missing files are fine.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	ctx := context.Background()

	client := planwatch.NewClient(cfg.BackendURL)

	var tracker *planwatch.StepTracker
	tracker = planwatch.NewStepTracker(planwatch.WithTrackerChangeFn(func() {
		renderTracker(tracker)
	}))

	listener := planwatch.NewListener(client.ProgressURL(), tracker)
	if err := listener.Start(ctx); err != nil {
		return err
	}
	defer listener.Close()

	results := planwatch.NewResultLog()

	opts := []planwatch.OrchestratorOption{
		planwatch.WithUserID(cfg.UserID),
		planwatch.WithLogger(logger),
		planwatch.WithMessageHook(func(ctx context.Context, msg planwatch.Message) error {
			printMessage(msg)
			return nil
		}),
		planwatch.WithPartialResultHook(func(ctx context.Context, result planwatch.PartialResult) error {
			fmt.Printf("  [%s] %s (%s)\n", result.Kind, result.StepName, result.ID)
			return nil
		}),
	}
	if cfg.SessionID != "" {
		opts = append(opts, planwatch.WithSessionID(cfg.SessionID))
	}
	orchestrator := planwatch.NewOrchestrator(client, tracker, results, opts...)

	db := client.DatabaseStatus(ctx)
	if db.IsConnected {
		fmt.Printf("connected to %s (%s)\n", db.Database, db.DatabaseType)
	} else {
		fmt.Println("database not connected; queries may fail")
	}

	fmt.Println("type a question, or /quit to exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			orchestrator.ClearConversation()
			fmt.Println("conversation cleared")
			continue
		}

		if err := orchestrator.Submit(ctx, line); err != nil {
			if planwatch.IsPollExhausted(err) {
				logger.Warn("gave up polling for plan status", "error", err)
				continue
			}
			logger.Error("submission failed", "error", err)
		}
	}
	return scanner.Err()
}

func printMessage(msg planwatch.Message) {
	switch msg.Kind {
	case planwatch.MessageKindUser:
		// The user already sees their own input.
	case planwatch.MessageKindError:
		fmt.Printf("! %s\n", msg.Text)
	default:
		fmt.Printf("%s\n", msg.Text)
	}
}

func renderTracker(tracker *planwatch.StepTracker) {
	if !tracker.Visible() {
		return
	}
	for _, step := range tracker.Steps() {
		marker := " "
		switch step.Status {
		case planwatch.StepStatusRunning:
			marker = ">"
		case planwatch.StepStatusCompleted:
			marker = "x"
		case planwatch.StepStatusError:
			marker = "!"
		}
		fmt.Printf("  [%s] %s\n", marker, step.Name)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
