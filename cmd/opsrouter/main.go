// Command opsrouter is the operations assistant CLI: an interactive
// session-aware console plus one-shot subcommands for scripting.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	internal "github.com/opsdeck/opsrouter/opsr"
	"github.com/opsdeck/opsrouter/opsr/config"
	"github.com/opsdeck/opsrouter/opsr/db"
	"github.com/opsdeck/opsrouter/opsr/memory"
	"github.com/opsdeck/opsrouter/opsr/routing"
	"github.com/opsdeck/opsrouter/opsr/routing/adapters"
	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
	"github.com/opsdeck/opsrouter/opsr/routing/tools"
	"github.com/opsdeck/opsrouter/opsr/workflow"
)

var (
	configPath string
	sessionID  string
)

func main() {
	root := &cobra.Command{
		Use:   internal.DefaultAppName,
		Short: "Session-aware operations assistant for a managed device fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()
			return app.repl(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&sessionID, "session", internal.DefaultSessionID, "session id")

	root.AddCommand(processCmd(), callToolCmd(), listToolsCmd(), sessionsCmd(), recordEventCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app bundles the wired components for the lifetime of one command.
type app struct {
	cfg    *config.Config
	db     *sql.DB
	store  ports.SessionStore
	memory *memory.SessionMemory
	router *routing.Router
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

func buildApp() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	database, err := db.Connect(cfg.Store.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := adapters.NewLibSQLSessionLog(database, cfg.Store.MaxMessages)

	var strategy memory.Strategy
	if cfg.Store.Strategy == "summarize" {
		strategy = &memory.SummarizeStrategy{Keep: cfg.Store.SummarizeKeep}
	}
	mem := memory.New(store, strategy, cfg.Store.ContextTurns)

	var tracer ports.Tracer = adapters.NoopTracer{}
	if cfg.Router.EnableTracing {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger().Level(zerolog.WarnLevel)
		tracer = adapters.NewZerologTracer(logger)
	}

	var limiter ports.RateLimiter = adapters.NoopRateLimiter{}
	if cfg.Router.RateLimitEnabled {
		limiter = adapters.NewTokenBucket(cfg.Router.RateLimitCapacity, cfg.Router.RateLimitRefillRate)
	}

	var provider ports.Provider
	if cfg.LLM.BaseURL != "" {
		provider = adapters.NewHTTPProvider(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
	} else {
		provider = unconfiguredProvider{}
	}
	llmOpts := ports.Options{
		MaxNewTokens: cfg.LLM.MaxNewTokens,
		Temperature:  cfg.LLM.Temperature,
		TopP:         cfg.LLM.TopP,
	}

	directory := tools.NewHTTPDirectory(cfg.Inventory.BaseURL, cfg.Inventory.Token, cfg.Inventory.Timeout)
	inventoryCache := adapters.NewLRUCache(cfg.Inventory.CacheCapacity)
	inventoryTool := tools.NewInventoryTool(directory, inventoryCache, cfg.Inventory.CacheTTLSeconds)
	lastEventTool := tools.NewLastEventTool(database)

	engine := workflow.NewEngine(inventoryTool, lastEventTool, tracer, workflow.Options{
		StaleThreshold:   cfg.Workflow.StaleThreshold,
		DefaultScopeID:   cfg.Workflow.DefaultStreamID,
		BatchLimit:       cfg.Workflow.BatchLimit,
		BatchConcurrency: cfg.Workflow.BatchConcurrency,
	})

	router := routing.NewRouter(mem, routing.NewRuleClassifier(), limiter, tracer)
	if cfg.LLM.BaseURL != "" {
		router.SetClassifier(routing.NewProviderClassifier(provider, router.Specs, llmOpts))
	}

	for _, tool := range []ports.Tool{
		inventoryTool,
		lastEventTool,
		workflow.NewDiagnoseTool(engine),
		tools.NewDocstoreTool(database),
		tools.NewFileScanTool(cfg.Reports.Dir),
		tools.NewHTTPCallTool(cfg.Inventory.Timeout),
		tools.NewChatTool(provider, mem, llmOpts),
	} {
		if err := router.Register(tool); err != nil {
			database.Close()
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	return &app{cfg: cfg, db: database, store: store, memory: mem, router: router}, nil
}

// unconfiguredProvider stands in when no completion endpoint is set so chat
// turns still produce a useful reply.
type unconfiguredProvider struct{}

func (unconfiguredProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	return ports.Completion{
		Text: "No language model endpoint is configured. Set llm.base_url to enable conversational answers; operational commands (diagnose, inventory, docstore) work without one.",
	}, nil
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process [message]",
		Short: "Handle one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			reply, err := app.router.Process(cmd.Context(), sessionID, strings.Join(args, " "))
			if reply != "" {
				fmt.Println(reply)
			}
			return err
		},
	}
}

func callToolCmd() *cobra.Command {
	var rawArgs string
	cmd := &cobra.Command{
		Use:   "call-tool [name]",
		Short: "Invoke a tool directly with JSON arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			result := app.router.Dispatch(cmd.Context(), args[0], json.RawMessage(rawArgs))
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if !result.OK {
				return fmt.Errorf("tool %s failed: %s", args[0], result.ErrorKind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "{}", "JSON arguments for the tool")
	return cmd
}

func listToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-tools",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			for _, spec := range app.router.Specs() {
				fmt.Printf("%-12s %s\n", spec.Name, spec.Description)
			}
			return nil
		},
	}
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored conversation sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List session ids with stored history",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ids, err := app.store.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats [session-id]",
		Short: "Show turn counts and timestamps for a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id := sessionID
			if len(args) == 1 {
				id = args[0]
			}
			stats, err := app.store.Stats(cmd.Context(), id, false)
			if err != nil {
				return err
			}
			fmt.Printf("session %s: %d turns (%d user, %d assistant)\n",
				id, stats.Count, stats.UserCount, stats.AssistantCount)
			if !stats.FirstTimestamp.IsZero() {
				fmt.Printf("  first: %s\n", stats.FirstTimestamp.Format(time.RFC3339))
			}
			if !stats.LastTimestamp.IsZero() {
				fmt.Printf("  last:  %s\n", stats.LastTimestamp.Format(time.RFC3339))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [session-id]",
		Short: "Delete a session's stored history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id := sessionID
			if len(args) == 1 {
				id = args[0]
			}
			if err := app.store.Clear(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("session %s cleared\n", id)
			return nil
		},
	})

	return cmd
}

func recordEventCmd() *cobra.Command {
	var ts int64
	cmd := &cobra.Command{
		Use:   "record-event [stream-id] [device-uid]",
		Short: "Upsert a device's last-event timestamp (ingestion and fixtures)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if ts <= 0 {
				ts = time.Now().Unix()
			}
			return tools.RecordLastEvent(cmd.Context(), app.db, args[0], args[1], ts, time.Now().Unix())
		},
	}
	cmd.Flags().Int64Var(&ts, "timestamp", 0, "epoch seconds of the event (default now)")
	return cmd
}

// repl runs the interactive console.
func (a *app) repl(ctx context.Context) error {
	fmt.Printf("%s interactive console. Type 'help' for commands.\n", internal.DefaultAppName)
	current := sessionID
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("[%s]> ", current)
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "help":
			fmt.Println(`commands:
  help              show this help
  tools             list registered tools
  history [n]       show the last n turns (default 10)
  sessions          list stored sessions
  switch <id>       switch to another session
  new               switch to a fresh session with a generated id
  clear             delete this session's history
  quit              leave the console
anything else is handled as a message`)
		case "tools":
			for _, spec := range a.router.Specs() {
				fmt.Printf("  %-12s %s\n", spec.Name, spec.Description)
			}
		case "history":
			n := 10
			if len(fields) > 1 {
				if parsed, err := strconv.Atoi(fields[1]); err == nil && parsed > 0 {
					n = parsed
				}
			}
			turns, err := a.store.Read(ctx, current, n)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, t := range turns {
				fmt.Printf("  %3d %-9s %s\n", t.Sequence, t.Role, t.Content)
			}
		case "sessions":
			ids, err := a.store.ListSessions(ctx)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, id := range ids {
				fmt.Println("  " + id)
			}
		case "switch":
			if len(fields) != 2 {
				fmt.Println("usage: switch <session-id>")
				continue
			}
			current = fields[1]
		case "new":
			current = uuid.NewString()
			fmt.Println("switched to session", current)
		case "clear":
			if err := a.store.Clear(ctx, current); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("history cleared")
		default:
			reply, err := a.router.Process(ctx, current, line)
			if reply != "" {
				fmt.Println(reply)
			}
			if err != nil {
				fmt.Println("warning:", err)
			}
		}
	}
}
