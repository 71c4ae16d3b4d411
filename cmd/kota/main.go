package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"kota/internal/agent"
	"kota/internal/audit"
	"kota/internal/config"
	"kota/internal/credentials"
	"kota/internal/guard"
	"kota/internal/llm"
	mockclient "kota/internal/llm/mockclient"
	"kota/internal/logging"
	"kota/internal/openrouter"
	"kota/internal/persona"
	"kota/internal/prompts"
	"kota/internal/sandbox"
	"kota/internal/state"
	"kota/internal/tooling"
	"kota/internal/ui"
)

// Version is set via -ldflags during build
var Version = "dev"

func main() {
	var (
		sandboxPath   = flag.String("sandbox", "", "Override workspace root/sandbox directory")
		resumeKey     = flag.String("resume", "", "Resume an existing session key")
		listSessions  = flag.Bool("list-sessions", false, "List stored sessions and exit")
		promptFlag    = flag.String("p", "", "Execute a single prompt and exit (non-interactive mode)")
		promptFile    = flag.String("prompt-file", "", "Read the one-shot prompt from a file")
		recipeFlag    = flag.String("recipe", "", "Run a named recipe from the config and exit")
		quietFlag     = flag.Bool("q", false, "Suppress output except the final response")
		yoloFlag      = flag.Bool("yolo", false, "Skip all tool confirmations")
		personaFlag   = flag.String("persona", "", "Persona name or prompt file path")
		toolCallLimit = flag.Int("tool-call-limit", 0, "Max tool rounds per turn (overrides config)")
		setupFlag     = flag.Bool("setup", false, "Run credential setup wizard")
		versionFlag   = flag.Bool("version", false, "Print version and exit")
	)
	flag.StringVar(promptFlag, "prompt", "", "Execute a single prompt and exit (non-interactive mode)")
	flag.BoolVar(quietFlag, "quiet", false, "Suppress output except the final response")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("Kota version %s\n", Version)
		return
	}

	if *setupFlag {
		credManager, err := credentials.NewManager()
		if err != nil {
			log.Fatalf("Failed to initialize credential manager: %v", err)
		}
		if err := credentials.SetupMenu(credManager); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	credManager, err := credentials.NewManager()
	if err != nil {
		log.Fatalf("Failed to initialize credential manager: %v", err)
	}
	creds, err := credManager.Load()
	if err != nil {
		log.Fatalf("Failed to load credentials: %v", err)
	}

	mockMode := os.Getenv("KOTA_MOCK_LLM") == "1"
	if !creds.HasAnyProvider() && !mockMode {
		creds, err = credentials.Onboard(credManager)
		if err != nil {
			log.Fatalf("Onboarding failed: %v", err)
		}
	}

	if creds.HasAnyProvider() {
		if err := config.EnsureDefaultConfig(creds.DefaultProvider); err != nil {
			log.Fatalf("Failed to ensure default config: %v", err)
		}
	}
	cfg, err := config.LoadUserConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// A recipe is a config-level override set; explicit flags still win.
	quiet := *quietFlag
	oneShot := strings.TrimSpace(*promptFlag)
	var recipe *config.Recipe
	if name := strings.TrimSpace(*recipeFlag); name != "" {
		r, err := cfg.RecipeByName(name)
		if err != nil {
			log.Fatalf("Recipe lookup failed: %v", err)
		}
		recipe = &r
		if r.Provider != "" {
			cfg.Provider = r.Provider
		}
		if r.Persona != "" {
			cfg.Persona = r.Persona
		}
		if r.Yolo != nil {
			cfg.Yolo = *r.Yolo
		}
		if r.Quiet {
			quiet = true
		}
	}
	if pf := strings.TrimSpace(*promptFile); pf != "" && oneShot == "" {
		data, err := os.ReadFile(pf)
		if err != nil {
			log.Fatalf("Failed to read prompt file: %v", err)
		}
		oneShot = strings.TrimSpace(string(data))
	}
	if recipe != nil && oneShot == "" {
		p, err := recipe.ReadPrompt()
		if err != nil {
			log.Fatalf("Failed to resolve recipe prompt: %v", err)
		}
		oneShot = strings.TrimSpace(p)
	}

	// Flags override the config file.
	if sb := strings.TrimSpace(*sandboxPath); sb != "" {
		cfg.OverrideWorkspaceRoot(sb)
	}
	if *yoloFlag {
		cfg.Yolo = true
	}
	if p := strings.TrimSpace(*personaFlag); p != "" {
		cfg.Persona = p
	}
	if *toolCallLimit > 0 {
		cfg.ToolCallLimit = *toolCallLimit
	}

	workspace, err := sandbox.NewRoot(cfg.WorkspaceRoot)
	if err != nil {
		log.Fatalf("Failed to resolve workspace root: %v", err)
	}
	if err := os.MkdirAll(workspace.Path(), 0o755); err != nil {
		log.Fatalf("Failed to create workspace root: %v", err)
	}

	if err := logging.InitFile(config.GetConfigDir()); err != nil {
		log.Fatalf("Failed to init logging: %v", err)
	}
	logger := log.New(logging.Logger.Writer(), "kota ", log.LstdFlags|log.Lmicroseconds)

	prompts.SetMetadata(buildEnvironmentMetadata(workspace.Path()))

	var personaText string
	if cfg.Persona != "" {
		personaText, err = persona.Get(cfg.Persona)
		if err != nil {
			log.Fatalf("Unknown persona %q. Available personas:\n%s", cfg.Persona, persona.List())
		}
	}
	systemPrompt := prompts.Combine(personaText, cfg.SystemPrompt)
	if agents := loadAgentsMD(workspace.Path()); agents != "" {
		systemPrompt += "\n\n## Project Notes (AGENTS.md)\n\n" + agents
	}

	states, err := state.NewManager(systemPrompt, cfg.ConversationDir, logger)
	if err != nil {
		log.Fatalf("Failed to init state manager: %v", err)
	}

	if *listSessions {
		printSessionList(states.Summaries())
		return
	}
	if key := strings.TrimSpace(*resumeKey); key != "" {
		if _, err := states.Use(key); err != nil {
			log.Fatalf("Failed to resume session %q: %v", key, err)
		}
	}

	var client llm.Client
	model := cfg.Model
	provider := strings.ToLower(cfg.Provider)
	if mockMode {
		provider = "mock"
	}
	switch provider {
	case "mock":
		logger.Println("using mock LLM client")
		client = mockclient.New()
		model = config.DefaultMockModel
	case "openrouter":
		apiKey := creds.GetAPIKey("openrouter")
		if apiKey == "" {
			log.Fatalf("No OpenRouter API key configured. Run: kota --setup")
		}
		client = openrouter.NewClient(cfg.BaseURL, apiKey, cfg.RequestTimeout(), logger)
		if m := cfg.ModelFor("openrouter"); m != "" {
			model = m
		}
		logger.Printf("OpenRouter provider ready (model %s)", model)
	default:
		log.Fatalf("Unknown provider %q in config", cfg.Provider)
	}
	if recipe != nil && recipe.Model != "" {
		model = recipe.Model
	}

	var console *ui.Console
	if quiet {
		console = ui.NewQuietConsole()
	} else {
		console = ui.NewConsole()
	}

	baseTools := tooling.DefaultTools(tooling.Options{
		Workspace:    workspace,
		ShellTimeout: cfg.ShellTimeout(),
		FetchTimeout: cfg.RequestTimeout(),
	})
	guardedTools := guard.Apply(baseTools, cfg.GuardedTools, guard.Options{
		Yolo:        cfg.Yolo,
		AutoApprove: cfg.AutoApprove,
		Confirmer:   console,
	})
	tools := tooling.NewRegistry(guardedTools...)

	trail, err := audit.Open(cfg.AuditPath)
	if err != nil {
		log.Fatalf("Failed to open audit trail: %v", err)
	}
	defer trail.Close()

	loop := agent.NewLoop(client, tools, states, agent.LoopOptions{
		Model:        model,
		Temperature:  cfg.Temperature,
		RoundLimit:   cfg.ToolCallLimit,
		Indicator:    console,
		SystemPrompt: systemPrompt,
		Hooks: []agent.DispatchHooks{
			agent.NewConsoleHooks(console),
			agent.NewAuditHooks(trail, states.CurrentKey()),
		},
	})
	repl := agent.NewREPL(loop, states, console, agent.REPLOptions{
		HistoryPath:  cfg.HistoryPath,
		ResponseFile: cfg.ResponseFile,
	})

	ctx := context.Background()
	if oneShot != "" {
		response, err := repl.RunOneShot(ctx, oneShot)
		if err != nil {
			log.Fatalf("Prompt failed: %v", err)
		}
		if quiet && response != "" {
			fmt.Println(response)
		}
		if recipe != nil {
			matched, err := recipe.MatchesError(response)
			if err != nil {
				log.Fatalf("Recipe check failed: %v", err)
			}
			if matched {
				fmt.Fprintf(os.Stderr, "Response matched error_if pattern %q\n", recipe.ErrorIf)
				trail.Close()
				os.Exit(1)
			}
		}
		return
	}

	if err := repl.Run(ctx); err != nil {
		log.Fatalf("Session failed: %v", err)
	}
}

// loadAgentsMD returns the workspace's AGENTS.md contents, if present.
func loadAgentsMD(workspaceRoot string) string {
	data, err := os.ReadFile(filepath.Join(workspaceRoot, "AGENTS.md"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func printSessionList(sessions []state.Summary) {
	if len(sessions) == 0 {
		fmt.Println("No stored sessions yet.")
		return
	}
	fmt.Printf("Stored sessions (%d):\n", len(sessions))
	for i, s := range sessions {
		fmt.Printf("  %d) %s  (%d messages, updated %s)\n", i+1, s.Key, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

func buildEnvironmentMetadata(workspace string) string {
	now := time.Now()
	zoneName, offset := now.Zone()
	if strings.TrimSpace(zoneName) == "" {
		zoneName = "Local"
	}
	lines := []string{
		fmt.Sprintf("- OS: %s (%s)", runtime.GOOS, runtime.GOARCH),
	}
	if shell := strings.TrimSpace(os.Getenv("SHELL")); shell != "" {
		lines = append(lines, fmt.Sprintf("- Shell: %s", shell))
	}
	lines = append(lines, fmt.Sprintf("- Date: %s", now.Format("2006-01-02")))
	lines = append(lines, fmt.Sprintf("- Timezone: %s (UTC%s)", zoneName, formatUTCOffset(offset)))
	lines = append(lines, fmt.Sprintf("- Workspace Root: %s", workspace))
	if Version != "" {
		lines = append(lines, fmt.Sprintf("- Kota Version: %s", Version))
	}
	return strings.Join(lines, "\n")
}

func formatUTCOffset(offsetSeconds int) string {
	sign := "+"
	if offsetSeconds < 0 {
		sign = "-"
		offsetSeconds = -offsetSeconds
	}
	hours := offsetSeconds / 3600
	minutes := (offsetSeconds % 3600) / 60
	return fmt.Sprintf("%s%02d:%02d", sign, hours, minutes)
}
