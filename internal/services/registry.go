// Package services wires the application graph from configuration:
// every constructor call lives here, so the cmd layer only parses
// flags and runs.
package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/quantdesk/quantdesk/internal/agents"
	"github.com/quantdesk/quantdesk/internal/alerts"
	"github.com/quantdesk/quantdesk/internal/api"
	"github.com/quantdesk/quantdesk/internal/comms"
	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/dashboard"
	"github.com/quantdesk/quantdesk/internal/driver"
	"github.com/quantdesk/quantdesk/internal/gateway"
	"github.com/quantdesk/quantdesk/internal/marketdata"
	"github.com/quantdesk/quantdesk/internal/memory"
	"github.com/quantdesk/quantdesk/internal/metrics"
	"github.com/quantdesk/quantdesk/internal/notify"
	"github.com/quantdesk/quantdesk/internal/orchestrator"
	"github.com/quantdesk/quantdesk/internal/persist"
	"github.com/quantdesk/quantdesk/internal/portfolio"
	"github.com/quantdesk/quantdesk/internal/reflection"
	"github.com/quantdesk/quantdesk/internal/risk"
	"github.com/quantdesk/quantdesk/internal/selector"
	"github.com/quantdesk/quantdesk/internal/tools"
)

// Registry holds the wired application graph
type Registry struct {
	Config     *config.Config
	Secrets    *config.Secrets
	Gateway    *gateway.Gateway
	MarketData marketdata.Provider
	Calendar   marketdata.Calendar
	Memory     memory.Store
	Hub        *notify.Hub
	Analysts   []*agents.Analyst
	Pipeline   *orchestrator.Pipeline
	Store      *persist.Store
	Sink       *dashboard.Sink
	Reviewer   *reflection.Reviewer
	Alerter    *alerts.DayAlerter
	Driver     *driver.Driver
	API        *api.Server     // nil when the status API is disabled
	Metrics    *metrics.Server // nil when metrics are disabled
	closers    []func()
}

// Build constructs the full graph. session overrides the config file's
// trading section for this run (dates, tickers, mode).
func Build(ctx context.Context, cfg *config.Config, session driver.Config) (*Registry, error) {
	r := &Registry{Config: cfg, Calendar: marketdata.WeekdayCalendar{}}

	r.Secrets = config.NewSecrets(config.VaultConfig{
		Enabled: os.Getenv("VAULT_ADDR") != "",
		Address: os.Getenv("VAULT_ADDR"),
	})

	r.Gateway = gateway.New(gateway.GatewayConfig{
		Endpoints: cfg.LLM.Endpoints,
		APIKeys: map[gateway.Provider]string{
			gateway.ProviderOpenAI:    r.Secrets.Get(ctx, config.KeyOpenAI),
			gateway.ProviderAnthropic: r.Secrets.Get(ctx, config.KeyAnthropic),
			gateway.ProviderDeepSeek:  r.Secrets.Get(ctx, config.KeyDeepSeek),
			gateway.ProviderGroq:      r.Secrets.Get(ctx, config.KeyGroq),
		},
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxRetries:  cfg.LLM.MaxRetries,
		Timeout:     cfg.LLM.GetTimeout(),
	}, config.NewLogger("gateway"))

	if err := r.buildMarketData(ctx, cfg); err != nil {
		return nil, err
	}
	if err := r.buildMemory(ctx, cfg); err != nil {
		r.Close()
		return nil, err
	}

	if cfg.Notifications.Enabled {
		hub, err := buildHub(cfg, r.Memory)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.Hub = hub
	}

	defaults := agents.ModelDefaults{
		AgentModels: cfg.AgentModels,
		Model:       cfg.LLM.DefaultModel,
		Temperature: cfg.LLM.Temperature,
	}
	provider, err := gateway.ParseProvider(cfg.LLM.DefaultProvider)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("invalid llm.default_provider: %w", err)
	}
	defaults.Provider = provider

	if err := r.buildAgents(ctx, cfg, defaults); err != nil {
		r.Close()
		return nil, err
	}

	var coordinator *comms.Coordinator
	if cfg.Communications.Enabled {
		personas := make(map[string]selector.Persona, len(r.Analysts))
		for _, a := range r.Analysts {
			personas[a.AgentID()] = a.Persona
		}
		coordinator = comms.NewCoordinator(r.Gateway, r.Memory, personas, comms.Config{
			MaxCycles: cfg.Communications.MaxCycles,
			MaxRounds: cfg.Communications.MaxRounds,
			MaxChars:  cfg.Communications.MaxChars,
		}, defaults)
	}

	r.Store, err = persist.NewStore(cfg.Paths.BaseDir, cfg.App.ConfigName)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.Sink, err = dashboard.NewSink(r.Store.Dir())
	if err != nil {
		r.Close()
		return nil, err
	}

	// round 2 revises signals in light of round-1 notifications, so it
	// only runs when the notification hub exists
	round2 := cfg.Trading.EnableRound2 && cfg.Notifications.Enabled
	if cfg.Trading.EnableRound2 && !round2 {
		log := config.NewLogger("services")
		log.Warn().Msg("Round 2 disabled: notifications are off")
	}

	// the PM reads recent performance back from the dashboard
	r.Pipeline = orchestrator.NewPipeline(
		r.Analysts,
		risk.NewManager(r.MarketData, r.Calendar),
		portfolio.NewManager(r.Gateway, r.Memory, r.Sink, defaults),
		portfolio.NewExecutor(),
		coordinator,
		orchestrator.Options{
			Tickers:      session.Tickers,
			Mode:         session.Mode,
			IsLiveMode:   cfg.Trading.IsLiveMode,
			MaxWorkers:   cfg.Trading.MaxWorkers,
			EnableRound2: round2,
		},
	)

	r.Reviewer = reflection.NewReviewer(
		r.Gateway, r.Memory, r.Store, r.MarketData, r.Calendar, defaults,
		cfg.Reflection.ReviewMode,
	)

	if err := r.buildAlerter(cfg); err != nil {
		r.Close()
		return nil, err
	}

	r.Driver = driver.New(r.Pipeline, r.Reviewer, r.Store, r.Sink, r.Alerter, r.Calendar, session)

	if cfg.API.Enabled {
		r.API = api.NewServer(cfg.API.GetAPIAddr(), r.Store, r.Sink.Dir())
	} else if cfg.Monitoring.EnableMetrics {
		r.Metrics = metrics.NewServer(cfg.Monitoring.MetricsPort)
	}

	return r, nil
}

// buildHub selects the notification transport: an external NATS
// server when a URL is configured, an embedded in-process one when
// requested, a plain in-process hub otherwise
func buildHub(cfg *config.Config, store memory.Store) (*notify.Hub, error) {
	if cfg.Notifications.NATSURL != "" {
		hub, err := notify.NewHubWithNATS(store, cfg.Notifications.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("nats unreachable at %s: %w", cfg.Notifications.NATSURL, err)
		}
		return hub, nil
	}
	if cfg.Notifications.Embedded {
		hub, err := notify.NewHubWithEmbeddedNATS(store)
		if err != nil {
			return nil, fmt.Errorf("embedded nats failed to start: %w", err)
		}
		return hub, nil
	}
	return notify.NewHub(store), nil
}

func (r *Registry) buildMarketData(ctx context.Context, cfg *config.Config) error {
	client := marketdata.NewClient(marketdata.ClientConfig{
		BaseURL:           cfg.MarketData.BaseURL,
		APIKey:            r.Secrets.Get(ctx, config.KeyFinancialData),
		RequestsPerMinute: cfg.MarketData.RequestsPerMinute,
		Timeout:           cfg.MarketData.GetTimeout(),
	}, config.NewLogger("marketdata"))

	if !cfg.Redis.Enabled {
		r.MarketData = client
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.GetRedisAddr(), err)
	}
	r.closers = append(r.closers, func() { rdb.Close() })
	r.MarketData = marketdata.NewCachedProvider(client, rdb, time.Duration(cfg.Redis.TTL)*time.Second)
	return nil
}

func (r *Registry) buildMemory(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.Host == "" {
		r.Memory = memory.NewInMemoryStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.GetDSN())
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("database unreachable: %w", err)
	}
	r.closers = append(r.closers, pool.Close)
	r.Memory = memory.NewPgStoreFromPool(pool, nil)
	return nil
}

func (r *Registry) buildAgents(ctx context.Context, cfg *config.Config, defaults agents.ModelDefaults) error {
	keys := agents.APIKeys{
		FinancialData: r.Secrets.Get(ctx, config.KeyFinancialData),
		NewsData:      r.Secrets.Get(ctx, config.KeyNewsData),
	}
	exec := tools.NewExecutor(tools.NewDefaultRegistry(r.MarketData))
	sel := selector.New(r.Gateway, exec)

	for _, analystType := range cfg.Trading.AnalystTypes {
		persona, err := selector.LoadPersona(analystType)
		if err != nil {
			return fmt.Errorf("failed to load persona %q: %w", analystType, err)
		}
		r.Analysts = append(r.Analysts, agents.NewAnalyst(persona, r.Gateway, sel, r.Calendar, r.Hub, keys, defaults))
	}
	if len(r.Analysts) == 0 {
		return fmt.Errorf("trading.analyst_types is empty")
	}
	return nil
}

func (r *Registry) buildAlerter(cfg *config.Config) error {
	notifiers := []alerts.Notifier{alerts.NewLogNotifier()}
	if cfg.Alerts.TelegramEnabled {
		tg, err := alerts.NewTelegramNotifier(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID)
		if err != nil {
			return fmt.Errorf("telegram alerts misconfigured: %w", err)
		}
		notifiers = append(notifiers, tg)
	}
	r.Alerter = alerts.NewDayAlerter(notifiers...)
	return nil
}

// Close releases held connections in reverse build order
func (r *Registry) Close() {
	if r.Hub != nil {
		r.Hub.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}
