package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mvaldr/cascade/internal/capability"
	"github.com/mvaldr/cascade/internal/diagram"
	"github.com/mvaldr/cascade/internal/engine"
	"github.com/mvaldr/cascade/internal/history"
	"github.com/mvaldr/cascade/internal/logging"
	"github.com/mvaldr/cascade/internal/scheduler"
	"github.com/mvaldr/cascade/internal/secrets"
	"github.com/mvaldr/cascade/internal/streaming"
	"github.com/mvaldr/cascade/pkg/mcp"
)

const usage = `cascade - multi-agent orchestration engine

Usage:
  cascade run graph <spec.json>      [-input <json>]   execute a graph spec
  cascade run pipeline <spec.json>   [-input <json>]   execute a pipeline spec
  cascade validate graph <spec.json>                   validate a graph spec
  cascade validate pipeline <spec.json>                validate a pipeline spec
  cascade history                    [-kind k] [-limit n]  list past runs
  cascade diagram <spec.json>        [-format f]       render a graph spec (ascii, mermaid)
  cascade secret set|get|list|delete [key] [value]     manage vault secrets
  cascade capabilities                                 list registered capabilities
  cascade serve                                        run the cron scheduler
  cascade mcp                                          serve tools over MCP stdio
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(cfg, logger, os.Args[2:])
	case "validate":
		err = cmdValidate(cfg, logger, os.Args[2:])
	case "history":
		err = cmdHistory(cfg, logger, os.Args[2:])
	case "diagram":
		err = cmdDiagram(cfg, logger, os.Args[2:])
	case "secret":
		err = cmdSecret(cfg, os.Args[2:])
	case "capabilities":
		err = cmdCapabilities(cfg, logger)
	case "serve":
		err = cmdServe(cfg, logger)
	case "mcp":
		err = cmdMCP(cfg, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler))
}

// openStore opens the libSQL history store, creating the data directory
// and applying pending migrations.
func openStore(cfg Config, ctx context.Context) (*history.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := history.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newEngine(cfg Config, logger *slog.Logger, store *history.LibSQLStore, hub streaming.EventHub) (*engine.Engine, error) {
	ecfg := engine.Config{
		Hub:    hub,
		Logger: logger,
	}
	if cfg.MCPCommand != "" {
		ecfg.MCP = &capability.MCPConfig{Command: cfg.MCPCommand, Args: cfg.MCPArgs}
	}
	if store != nil {
		ecfg.Store = store
		vault, err := openVault(store)
		if err != nil {
			return nil, err
		}
		ecfg.Vault = vault
	}
	return engine.New(ecfg)
}

// openVault builds the AES vault when CASCADE_VAULT_PASSPHRASE is set. The
// PBKDF2 salt lives next to the database and is created on first use.
// Returns a nil Vault when no passphrase is configured.
func openVault(store secrets.SecretStore) (secrets.Vault, error) {
	passphrase := os.Getenv("CASCADE_VAULT_PASSPHRASE")
	if passphrase == "" {
		return nil, nil
	}
	salt, err := loadOrCreateSalt(filepath.Join(cascadeDir(), "vault.salt"))
	if err != nil {
		return nil, fmt.Errorf("vault salt: %w", err)
	}
	return secrets.NewAESVault(store, secrets.VaultConfig{
		Passphrase: passphrase,
		Salt:       salt,
	})
}

func loadOrCreateSalt(path string) ([]byte, error) {
	if salt, err := os.ReadFile(path); err == nil && len(salt) > 0 {
		return salt, nil
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}

func cmdRun(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	inputJSON := fs.String("input", "", "initial input as a JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: cascade run graph|pipeline <spec.json>")
	}
	kind, path := fs.Arg(0), fs.Arg(1)

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}

	var input map[string]any
	if *inputJSON != "" {
		if err := json.Unmarshal([]byte(*inputJSON), &input); err != nil {
			return fmt.Errorf("parse -input: %w", err)
		}
	}

	ctx := context.Background()
	store, err := openStore(cfg, ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	eng, err := newEngine(cfg, logger, store, streaming.NewMemoryHub())
	if err != nil {
		return err
	}

	var result any
	switch kind {
	case "graph":
		result, err = eng.RunGraphDoc(ctx, raw, input)
	case "pipeline":
		result, err = eng.RunPipelineDoc(ctx, raw, input)
	default:
		return fmt.Errorf("unknown run kind %q (want graph or pipeline)", kind)
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdValidate(cfg Config, logger *slog.Logger, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: cascade validate graph|pipeline <spec.json>")
	}
	kind, path := args[0], args[1]

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}

	// Validation never touches the store.
	eng, err := newEngine(cfg, logger, nil, nil)
	if err != nil {
		return err
	}

	switch kind {
	case "graph":
		err = eng.ValidateGraphDoc(raw)
	case "pipeline":
		err = eng.ValidatePipelineDoc(raw)
	default:
		return fmt.Errorf("unknown spec kind %q (want graph or pipeline)", kind)
	}
	if err != nil {
		return err
	}
	fmt.Println("valid")
	return nil
}

func cmdHistory(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	kind := fs.String("kind", "", "filter by run kind (graph or pipeline)")
	limit := fs.Int("limit", 20, "maximum number of runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(cfg, ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, history.RunFilter{
		Kind:  history.RunKind(*kind),
		Limit: *limit,
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, run := range runs {
		fmt.Printf("%s  %-8s  %-10s  %-20s  %dms\n",
			run.CreatedAt.Format(time.RFC3339), run.Kind, run.Status, run.Name, run.TotalDurationMs)
	}
	return nil
}

func cmdDiagram(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	format := fs.String("format", "ascii", "output format (ascii or mermaid)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: cascade diagram <spec.json> [-format ascii|mermaid]")
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}

	eng, err := newEngine(cfg, logger, nil, nil)
	if err != nil {
		return err
	}
	spec, err := eng.ParseGraphDoc(raw)
	if err != nil {
		return err
	}
	model, err := diagram.Build(spec)
	if err != nil {
		return err
	}

	switch *format {
	case "ascii":
		fmt.Print(diagram.RenderASCII(model))
	case "mermaid":
		fmt.Print(diagram.RenderMermaid(model))
	default:
		return fmt.Errorf("unknown format %q (want ascii or mermaid)", *format)
	}
	return nil
}

func cmdSecret(cfg Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: cascade secret set|get|list|delete [key] [value]")
	}

	ctx := context.Background()
	store, err := openStore(cfg, ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	vault, err := openVault(store)
	if err != nil {
		return err
	}
	if vault == nil {
		return fmt.Errorf("CASCADE_VAULT_PASSPHRASE is not set")
	}

	switch args[0] {
	case "set":
		if len(args) < 3 {
			return fmt.Errorf("usage: cascade secret set <key> <value>")
		}
		return vault.Store(ctx, args[1], []byte(args[2]))
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: cascade secret get <key>")
		}
		value, getErr := vault.Resolve(ctx, args[1])
		if getErr != nil {
			return getErr
		}
		fmt.Println(string(value))
		return nil
	case "list":
		keys, listErr := vault.List(ctx)
		if listErr != nil {
			return listErr
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: cascade secret delete <key>")
		}
		return vault.Delete(ctx, args[1])
	default:
		return fmt.Errorf("unknown secret action %q", args[0])
	}
}

func cmdCapabilities(cfg Config, logger *slog.Logger) error {
	eng, err := newEngine(cfg, logger, nil, nil)
	if err != nil {
		return err
	}
	for _, info := range eng.Registry().List() {
		if info.Description != "" {
			fmt.Printf("%-12s  %s\n", info.Name, info.Description)
		} else {
			fmt.Println(info.Name)
		}
	}
	return nil
}

func cmdServe(cfg Config, logger *slog.Logger) error {
	ctx := context.Background()
	store, err := openStore(cfg, ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	eng, err := newEngine(cfg, logger, store, streaming.NewMemoryHub())
	if err != nil {
		return err
	}

	interval, err := time.ParseDuration(cfg.TickInterval)
	if err != nil {
		return fmt.Errorf("parse tick_interval: %w", err)
	}

	sched := scheduler.NewScheduler(store, eng,
		scheduler.WithInterval(interval),
		scheduler.WithConcurrency(cfg.PoolSize),
		scheduler.WithLogger(logger))

	if err := sched.RecoverMissed(ctx); err != nil {
		logger.Warn("failed to recover missed jobs", "error", err)
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	return sched.Stop()
}

func cmdMCP(cfg Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(cfg, ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	eng, err := newEngine(cfg, logger, store, streaming.NewMemoryHub())
	if err != nil {
		return err
	}

	srv := mcp.NewCascadeServer(mcp.CascadeServerDeps{Engine: eng, Logger: logger})
	go func() {
		if fwdErr := srv.ForwardEvents(ctx); fwdErr != nil {
			logger.Warn("event forwarding stopped", "error", fwdErr)
		}
	}()
	return srv.Serve(ctx)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
