package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/memoclaw/internal/agent"
	"github.com/stellarlinkco/memoclaw/internal/config"
	"github.com/stellarlinkco/memoclaw/internal/gateway"
	"github.com/stellarlinkco/memoclaw/internal/memory"
)

// RunnerFactory creates an agent.Runner (allows mocking in tests)
type RunnerFactory func(cfg *config.Config) (agent.Runner, error)

// DefaultRunnerFactory builds the Anthropic-backed runner
func DefaultRunnerFactory(cfg *config.Config) (agent.Runner, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'memoclaw onboard' or set MEMOCLAW_API_KEY / ANTHROPIC_API_KEY")
	}
	return agent.NewAnthropicRunner(
		cfg.Provider.APIKey,
		cfg.Provider.BaseURL,
		cfg.Agent.Model,
		cfg.Agent.MaxTokens,
		buildSystemPrompt(cfg),
	), nil
}

// AgentOptions for running the agent command with custom dependencies
type AgentOptions struct {
	RunnerFactory RunnerFactory
	Stdin         io.Reader
	Stdout        io.Writer
	Stderr        io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "memoclaw",
	Short: "memoclaw - personal memory assistant",
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run agent in single message or REPL mode",
	RunE:  runAgent,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the full gateway (HTTP API + channels + ingestion + cron)",
	RunE:  runServe,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run one chatlog backfill sweep and print the report",
	RunE:  runBackfill,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memoclaw status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	agentCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(agentCmd, serveCmd, backfillCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runAgent is the command handler that uses default options
func runAgent(cmd *cobra.Command, args []string) error {
	return runAgentWithOptions(AgentOptions{})
}

// runAgentWithOptions runs the agent with injectable dependencies for testing
func runAgentWithOptions(opts AgentOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.RunnerFactory
	if factory == nil {
		factory = DefaultRunnerFactory
	}
	runner, err := factory(cfg)
	if err != nil {
		return err
	}

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()

	// Single message mode
	if messageFlag != "" {
		reply, err := runner.Run(ctx, messageFlag, "cli")
		if err != nil {
			return fmt.Errorf("agent error: %w", err)
		}
		fmt.Fprintln(stdout, reply)
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "memoclaw agent (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply, err := runner.Run(ctx, input, "cli-repl")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, reply)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'memoclaw onboard' or set MEMOCLAW_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Chatlog.Enabled {
		return fmt.Errorf("chatlog ingestion is disabled (set MEMOCLAW_CHATLOG_ENABLED=true)")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	report, err := gw.BackfillOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Backfill done: %s\n", report.Summary())
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	ws := cfg.Agent.Workspace
	mem := memory.NewStore(ws)
	if _, err := mem.EnsureLayout(); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	writeIfNotExists(filepath.Join(ws, "AGENTS.md"), defaultAgentsMD)
	writeIfNotExists(filepath.Join(ws, "SOUL.md"), defaultSoulMD)

	fmt.Printf("Workspace ready: %s\n", ws)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set MEMOCLAW_API_KEY environment variable")
	fmt.Println("  3. Run 'memoclaw agent -m \"Hello\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Feishu: enabled=%v\n", cfg.Channels.Feishu.Enabled)
	fmt.Printf("WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)
	fmt.Printf("Chatlog: enabled=%v talkers=%d\n", cfg.Chatlog.Enabled, len(cfg.Chatlog.Talkers))

	if _, err := os.Stat(cfg.Agent.Workspace); err != nil {
		fmt.Println("Workspace: not found (run 'memoclaw onboard')")
	} else {
		mem := memory.NewStore(cfg.Agent.Workspace)
		entries, err := mem.ReadIndex()
		if err != nil {
			fmt.Println("Memory: no index yet")
		} else {
			fmt.Printf("Memory: %d notes\n", len(entries))
		}
	}

	return nil
}

func buildSystemPrompt(cfg *config.Config) string {
	var sb strings.Builder

	for _, name := range []string{"AGENTS.md", "SOUL.md"} {
		if data, err := os.ReadFile(filepath.Join(cfg.Agent.Workspace, name)); err == nil {
			sb.Write(data)
			sb.WriteString("\n\n")
		}
	}

	return sb.String()
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultAgentsMD = `# memoclaw Agent

You are memoclaw, a personal memory assistant.

You keep track of conversations, notes and reminders stored in the
memory workspace, and you answer questions about them.

## Guidelines
- Be concise and helpful
- Quote remembered notes when they answer the question
- Say so when nothing relevant is remembered
`

const defaultSoulMD = `# Soul

You are a calm, organized assistant that turns scattered chat history
into usable memory.

Your personality:
- Direct and efficient
- Technical when needed, simple when possible
- Careful to keep private data inside the workspace
`
