package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/edgy-raven/helper-chatbot/pkg/agent"
	"github.com/edgy-raven/helper-chatbot/pkg/bus"
	"github.com/edgy-raven/helper-chatbot/pkg/channels"
	"github.com/edgy-raven/helper-chatbot/pkg/config"
	"github.com/edgy-raven/helper-chatbot/pkg/logger"
	"github.com/edgy-raven/helper-chatbot/pkg/providers"
	"github.com/edgy-raven/helper-chatbot/pkg/reminder"
	"github.com/edgy-raven/helper-chatbot/pkg/retrieval"
	"github.com/edgy-raven/helper-chatbot/pkg/store"
	"github.com/edgy-raven/helper-chatbot/pkg/tools"
)

// cliIdentity is the synthetic user id for local CLI sessions.
const cliIdentity int64 = 1

const cliMemoryKey = "cli_global"

func executeCLI() error {
	root := buildRootCommand()
	return root.Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "helperbot",
		Short: "Persona chatbot with a Discord gateway, task memory, and lyrics retrieval",
		Long: strings.TrimSpace(`helperbot runs the Xander persona chatbot.

Use CLI commands to onboard, chat locally, run the Discord gateway,
and check runtime readiness.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newAgentCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.helperbot configuration",
		Example: "  helperbot onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := getConfigPath()
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config already exists at %s", configPath)
			}
			cfg := config.DefaultConfig()
			if err := config.SaveConfig(configPath, cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Printf("%s is ready!\n", appName)
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Add your API key to", configPath)
			fmt.Println("  2. (Gateway mode) Add your Discord bot token to channels.discord.token")
			fmt.Println("  3. Chat locally: helperbot agent")
			fmt.Println("  4. Run gateway: helperbot gateway")
			fmt.Println("  5. Check readiness: helperbot status")
			return nil
		},
	}
}

type botRuntime struct {
	cfg          *config.Config
	store        *store.Store
	cache        *retrieval.Cache
	orchestrator *agent.Orchestrator
}

func buildRuntime(cfg *config.Config) (*botRuntime, error) {
	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	cache, err := retrieval.OpenCache(cfg.LyricsCachePath())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to open lyrics cache: %w", err)
	}

	opts := agent.Options{
		Persona:          cfg.Agents.Defaults.Persona,
		Temperature:      cfg.Agents.Defaults.Temperature,
		SummaryRevisions: cfg.Agents.Defaults.SummaryRevisions,
		PersonaRevisions: cfg.Agents.Defaults.PersonaRevisions,
	}
	registry := tools.NewRegistry[*agent.TurnContext]()
	if err := agent.RegisterDefaultTools(registry, st, provider, opts); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	retrievalService := &retrieval.Service{
		Provider: provider,
		Cache:    cache,
		Fetcher:  retrieval.NewLyricsFetcher(time.Duration(cfg.Retrieval.FetchTimeoutMS) * time.Millisecond),
	}

	return &botRuntime{
		cfg:          cfg,
		store:        st,
		cache:        cache,
		orchestrator: agent.NewOrchestrator(provider, retrievalService, registry, opts),
	}, nil
}

func (r *botRuntime) close() {
	if err := r.cache.Flush(r.cfg.LyricsCachePath()); err != nil {
		logger.WarnCF("cli", "failed to flush lyrics cache", map[string]interface{}{"error": err.Error()})
	}
	if err := r.store.Close(); err != nil {
		logger.WarnCF("cli", "failed to close store", map[string]interface{}{"error": err.Error()})
	}
	logger.Sync()
}

func validateRuntimeConfig(cfg *config.Config, requireDiscord bool) error {
	if err := providers.ValidateProviderConfig(cfg); err != nil {
		return err
	}
	if requireDiscord && strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		return fmt.Errorf("channels.discord.token is required in %s or HELPERBOT_CHANNELS_DISCORD_TOKEN", getConfigPath())
	}
	return nil
}

func newAgentCommand() *cobra.Command {
	var (
		message string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Chat with the persona locally (CLI mode)",
		Example: strings.Join([]string{
			"  helperbot agent",
			"  helperbot agent --message \"what are my tasks?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logger.SetLevel(logger.DEBUG)
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := validateRuntimeConfig(cfg, false); err != nil {
				return err
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			if strings.TrimSpace(message) != "" {
				reply, err := runLocalTurn(cmd.Context(), rt, message)
				if err != nil {
					return err
				}
				fmt.Printf("\n%s: %s\n", agent.BotName, reply)
				return nil
			}
			return interactiveMode(cmd.Context(), rt)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func localDisplayName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "you"
}

func runLocalTurn(ctx context.Context, rt *botRuntime, input string) (string, error) {
	displayName := localDisplayName()
	if err := rt.store.EnsureUser(ctx, cliIdentity, displayName); err != nil {
		return "", err
	}
	u, err := rt.store.GetUser(ctx, cliIdentity)
	if err != nil {
		return "", err
	}
	memory, err := rt.store.GlobalMemory(ctx, cliMemoryKey)
	if err != nil {
		return "", err
	}

	result, err := rt.orchestrator.ProcessTurn(ctx, &agent.TurnContext{
		CurrentTime:  time.Now().UTC().Format(time.RFC3339),
		User:         u.ToContext(),
		DisplayName:  displayName,
		InputText:    input,
		Identity:     cliIdentity,
		GlobalMemory: memory,
		MemoryKey:    cliMemoryKey,
	})
	if err != nil {
		return "", err
	}

	if result.Summary != "" {
		if err := rt.store.SetConversationSummary(ctx, cliIdentity, result.Summary); err != nil {
			return "", err
		}
	}
	if len(result.ProfileUpdates) > 0 {
		if err := rt.store.ApplyProfile(ctx, cliIdentity, result.ProfileUpdates); err != nil {
			return "", err
		}
	}
	if result.GlobalMemory != "" {
		if err := rt.store.SetGlobalMemory(ctx, cliMemoryKey, result.GlobalMemory); err != nil {
			return "", err
		}
	}
	return result.Reply, nil
}

func interactiveMode(ctx context.Context, rt *botRuntime) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s You: ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".helperbot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		reply, err := runLocalTurn(ctx, rt, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s: %s\n\n", agent.BotName, reply)
	}
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway",
		Long:    "Start the Discord channel, turn-processing workers, and the task reminder scheduler.",
		Example: "  helperbot gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logger.SetLevel(logger.DEBUG)
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := validateRuntimeConfig(cfg, true); err != nil {
				return err
			}
			return runGateway(cfg)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runGateway(cfg *config.Config) error {
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	manager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("failed to create channel manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := &channels.Gateway{
		Bus:       msgBus,
		Store:     rt.store,
		Processor: rt.orchestrator,
	}
	go gateway.Run(ctx)

	if cfg.Reminder.Enabled {
		rem, err := reminder.New(cfg.Reminder, rt.store, msgBus)
		if err != nil {
			return err
		}
		go rem.Run(ctx)
		fmt.Println("✓ Reminder scheduler started")
	}

	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}
	fmt.Println("✓ Gateway started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	manager.StopAll(context.Background())
	fmt.Println("✓ Gateway stopped")
	return nil
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and runtime readiness",
		Example: "  helperbot status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			configPath := getConfigPath()
			fmt.Printf("%s Status\n", appName)
			fmt.Printf("Version: %s\n\n", formatVersion())

			mark := func(ok bool) string {
				if ok {
					return "✓"
				}
				return "✗"
			}

			_, configExists := fileExists(configPath)
			fmt.Println("Config:", configPath, mark(configExists))

			storePath := cfg.StorePath()
			_, storeExists := fileExists(storePath)
			if storeExists {
				fmt.Println("Store:", storePath, "✓")
			} else {
				fmt.Println("Store:", storePath, "not initialized")
			}

			providerName, credsReady, err := providers.ProviderCredentialStatus(cfg)
			if err != nil {
				return err
			}
			discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""

			fmt.Printf("Model: %s\n", cfg.Agents.Defaults.Model)
			fmt.Printf("Provider (%s): %s\n", providerName, mark(credsReady))
			fmt.Println("Discord token:", mark(discordReady))
			fmt.Println("Agent ready:", mark(credsReady))
			fmt.Println("Gateway ready:", mark(credsReady && discordReady))
			return nil
		},
	}
}

func fileExists(path string) (os.FileInfo, bool) {
	info, err := os.Stat(path)
	return info, err == nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  helperbot version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
