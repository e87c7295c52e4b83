package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/stellarlinkco/memoclaw/internal/agent"
	"github.com/stellarlinkco/memoclaw/internal/bus"
	"github.com/stellarlinkco/memoclaw/internal/channel"
	"github.com/stellarlinkco/memoclaw/internal/chatlog"
	"github.com/stellarlinkco/memoclaw/internal/config"
	"github.com/stellarlinkco/memoclaw/internal/cron"
	"github.com/stellarlinkco/memoclaw/internal/heartbeat"
	"github.com/stellarlinkco/memoclaw/internal/memory"
	"github.com/stellarlinkco/memoclaw/internal/server"
)

const (
	digestSchedule  = "0 0 22 * * *" // daily at 22:00
	reindexSchedule = "0 30 3 * * *" // nightly at 03:30
)

// Options for creating a Gateway
type Options struct {
	Runner     agent.Runner      // injectable agent for testing
	Fetch      chatlog.FetchFunc // injectable chatlog fetcher for testing
	SignalChan chan os.Signal    // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	runner     agent.Runner
	channels   *channel.ChannelManager
	cron       *cron.Service
	memory     *memory.Store
	sessions   *agent.SessionLogger
	httpServer *http.Server

	store      *chatlog.Store
	targets    *chatlog.TargetStore
	counters   *chatlog.Counters
	backfiller *chatlog.Backfiller
	poller     *chatlog.Poller

	signalChan chan os.Signal
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	// Memory workspace
	g.memory = memory.NewStore(cfg.Agent.Workspace)
	if _, err := g.memory.EnsureLayout(); err != nil {
		return nil, fmt.Errorf("prepare memory workspace: %w", err)
	}

	// Agent
	if opts.Runner != nil {
		g.runner = opts.Runner
	} else {
		g.runner = agent.NewAnthropicRunner(
			cfg.Provider.APIKey,
			cfg.Provider.BaseURL,
			cfg.Agent.Model,
			cfg.Agent.MaxTokens,
			g.buildSystemPrompt(),
		)
	}

	sessions, err := agent.NewSessionLogger(cfg.LogDir())
	if err != nil {
		log.Printf("[gateway] session log warning: %v", err)
	} else {
		g.sessions = sessions
	}

	// Chatlog ingestion
	g.counters = chatlog.NewCounters()
	var ing *chatlog.Ingestor
	if cfg.Chatlog.Enabled {
		store, err := chatlog.NewStore(cfg.StateDBPath())
		if err != nil {
			return nil, fmt.Errorf("open chatlog store: %w", err)
		}
		g.store = store
		g.targets = chatlog.NewTargetStore(cfg.TargetsPath())
		if err := g.targets.Seed(cfg.Chatlog.Talkers); err != nil {
			log.Printf("[gateway] seed talkers warning: %v", err)
		}
		ing = chatlog.NewIngestor(store)

		fetch := opts.Fetch
		if fetch == nil && cfg.Chatlog.BaseURL != "" {
			fetch = chatlog.NewClient(cfg.Chatlog.BaseURL).FetchMessages
		}
		if fetch != nil {
			g.backfiller = chatlog.NewBackfiller(ing, g.targets, fetch,
				chatlog.PolicyAccept(g.targets), cfg.Chatlog.BootstrapDays)
			interval := time.Duration(cfg.Chatlog.PollIntervalSeconds) * time.Second
			g.poller = chatlog.NewPoller(g.backfiller, g.counters, interval)
			g.poller.OnCycle = g.recordBackfillCycle
		} else {
			log.Printf("[gateway] chatlog base url not set, backfill poller disabled")
		}
	}

	// Cron
	cronStorePath := filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
	g.cron = cron.NewService(cronStorePath)
	g.cron.OnJob = g.runJob

	// HTTP API
	srv := server.New(cfg, server.Deps{
		Ingestor: ing,
		Targets:  g.targets,
		Counters: g.counters,
		Memory:   g.memory,
		Runner:   g.runner,
		Sessions: g.sessions,
	})
	g.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		Handler: srv.Handler(),
	}

	// Channels
	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr
	if fc, ok := chMgr.Channel("feishu").(*channel.FeishuChannel); ok {
		fc.SetHeartbeat(heartbeat.NewWriter(cfg.HeartbeatPath()))
	}

	return g, nil
}

// buildSystemPrompt assembles the persona from workspace files; a
// built-in default applies when none exist.
func (g *Gateway) buildSystemPrompt() string {
	var sb strings.Builder
	for _, name := range []string{"AGENTS.md", "SOUL.md"} {
		if data, err := os.ReadFile(filepath.Join(g.cfg.Agent.Workspace, name)); err == nil {
			sb.Write(data)
			sb.WriteString("\n\n")
		}
	}
	if sb.Len() == 0 {
		sb.WriteString("You are memoclaw, a personal memory assistant. " +
			"You organize chat history, notes and reminders for your user. " +
			"Answer concisely and in the user's language.\n")
	}
	return sb.String()
}

// runJob dispatches a cron job by payload kind.
func (g *Gateway) runJob(job cron.CronJob) (string, error) {
	switch job.Payload.Kind {
	case cron.PayloadDigest:
		return g.runDailyDigest(time.Now())
	case cron.PayloadReindex:
		n, err := g.memory.WriteIndex()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("indexed %d notes", n), nil
	}

	result, err := g.runner.Run(context.Background(), job.Payload.Message, "cron:"+job.ID)
	if err != nil {
		return "", err
	}
	if job.Payload.Channel != "" && job.Payload.ChatID != "" {
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: job.Payload.Channel,
			ChatID:  job.Payload.ChatID,
			Content: result,
		}
	}
	return result, nil
}

// runDailyDigest writes one summary note per summary-only conversation
// that had traffic on the given day.
func (g *Gateway) runDailyDigest(now time.Time) (string, error) {
	if g.store == nil || g.targets == nil {
		return "chatlog disabled", nil
	}
	items, err := chatlog.BuildDailyDigest(g.store, g.targets, now)
	if err != nil {
		return "", err
	}
	date := now.UTC().Format("2006-01-02")
	for _, item := range items {
		safeTalker := strings.ReplaceAll(item.Talker, "@", "_")
		content := fmt.Sprintf("%d messages processed on %s. Last seen: %s.",
			item.Count, date, item.LastSeen)
		if _, err := g.memory.CreateNote(item.Bucket, memory.Note{
			Title:      fmt.Sprintf("Daily digest %s %s", safeTalker, date),
			Content:    content,
			Tags:       []string{"chatlog", "digest", safeTalker},
			Source:     "chatlog_digest",
			MemoryType: "chatlog",
		}); err != nil {
			return "", fmt.Errorf("write digest note for %s: %w", item.Talker, err)
		}
	}
	return fmt.Sprintf("%d digest notes", len(items)), nil
}

// recordBackfillCycle keeps an inbox trace of backfill cycles that
// actually pulled something in.
func (g *Gateway) recordBackfillCycle(r chatlog.Report) {
	if r.Accepted == 0 {
		return
	}
	_, err := g.memory.CreateInboxNote(memory.Note{
		Title:      "Chatlog backfill " + time.Now().Format("2006-01-02 15:04"),
		Content:    r.Summary(),
		Tags:       []string{"chatlog", "backfill"},
		Source:     "chatlog_backfill",
		MemoryType: "chatlog",
	})
	if err != nil {
		log.Printf("[gateway] backfill note warning: %v", err)
	}
}

// BackfillOnce runs a single backfill sweep, for the CLI.
func (g *Gateway) BackfillOnce(ctx context.Context) (chatlog.Report, error) {
	if g.backfiller == nil {
		return chatlog.Report{}, fmt.Errorf("chatlog ingestion is disabled or has no base url")
	}
	report := g.backfiller.RunOnce(ctx, time.Now())
	g.counters.RecordBackfill(report)
	return report, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.cron.EnsureBuiltins(digestSchedule, reindexSchedule); err != nil {
		log.Printf("[gateway] ensure builtin jobs warning: %v", err)
	}

	if g.poller != nil {
		go g.poller.Run(ctx)
	}

	go func() {
		log.Printf("[gateway] http api on %s", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[gateway] http server error: %v", err)
		}
	}()

	go g.processLoop(ctx)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			prompt := msg.Content
			if memory.IsMemoryQuery(msg.Content) {
				if memCtx, err := g.memory.BuildContext(20, 4000); err != nil {
					log.Printf("[gateway] memory context warning: %v", err)
				} else if memCtx != "" {
					prompt = fmt.Sprintf("[Memory Index]\n%s\n\n[User Message]\n%s", memCtx, msg.Content)
				}
			}

			if g.sessions != nil {
				_ = g.sessions.LogEvent("user_message", map[string]any{
					"session": msg.SessionKey(),
					"content": msg.Content,
				})
			}

			result, err := g.runner.Run(ctx, prompt, msg.SessionKey())
			if err != nil {
				log.Printf("[gateway] agent error: %v", err)
				result = "Sorry, I encountered an error processing your message."
			} else if g.sessions != nil {
				_ = g.sessions.LogEvent("assistant_message", map[string]any{
					"session": msg.SessionKey(),
					"content": result,
				})
			}

			if result != "" {
				g.bus.Outbound <- bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: result,
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[gateway] http shutdown warning: %v", err)
	}

	if g.store != nil {
		if err := g.store.Close(); err != nil {
			log.Printf("[gateway] close chatlog store warning: %v", err)
		}
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
