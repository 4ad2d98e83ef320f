// Command quantdesk runs the multi-agent trading desk: a backtest over
// a date range by default, or the live daily schedule with -live.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/driver"
	"github.com/quantdesk/quantdesk/internal/marketdata"
	"github.com/quantdesk/quantdesk/internal/services"
	"github.com/quantdesk/quantdesk/internal/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "quantdesk:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to config file")
		startDate  = flag.String("start", "", "session start date (YYYY-MM-DD)")
		endDate    = flag.String("end", "", "session end date (YYYY-MM-DD)")
		tickers    = flag.String("tickers", "", "comma-separated tickers, overrides config")
		mode       = flag.String("mode", "", "trading mode: signal or portfolio, overrides config")
		live       = flag.Bool("live", false, "run on the daily cron schedule instead of a date range")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("quantdesk", config.Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	if *live {
		cfg.Trading.IsLiveMode = true
	}

	session := driver.Config{
		StartDate:         *startDate,
		EndDate:           *endDate,
		Tickers:           cfg.Trading.Tickers,
		Mode:              cfg.Trading.Mode,
		InitialCash:       cfg.Trading.InitialCash,
		MarginRequirement: cfg.Trading.MarginRequirement,
		CommLogToFile:     cfg.Communications.LogToFile,
	}
	if *tickers != "" {
		session.Tickers = strings.Split(*tickers, ",")
	}
	session.Tickers = validation.NormalizeTickers(session.Tickers)
	if *mode != "" {
		session.Mode = *mode
	}

	input := validation.SessionInput{
		StartDate:         session.StartDate,
		EndDate:           session.EndDate,
		Tickers:           session.Tickers,
		Mode:              session.Mode,
		AnalystTypes:      cfg.Trading.AnalystTypes,
		InitialCash:       session.InitialCash,
		MarginRequirement: session.MarginRequirement,
	}
	if *live {
		// the live schedule picks its own dates
		today := time.Now().Format(marketdata.DateLayout)
		input.StartDate, input.EndDate = today, today
	}
	if err := validation.ValidateSession(input); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := services.Build(ctx, cfg, session)
	if err != nil {
		return err
	}
	defer reg.Close()

	log := config.NewLogger("main")

	if reg.API != nil {
		if err := reg.API.Start(); err != nil {
			return err
		}
		defer shutdownHTTP(reg.API.Shutdown)
	}
	if reg.Metrics != nil {
		if err := reg.Metrics.Start(); err != nil {
			return err
		}
		defer shutdownHTTP(reg.Metrics.Shutdown)
	}

	if *live {
		runner := driver.NewLiveRunner(reg.Driver, "", "")
		if err := runner.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		runner.Stop()
		log.Info().Msg("Live runner stopped")
		return nil
	}

	summary, err := reg.Driver.Run(ctx)
	if err != nil {
		return err
	}

	ev := log.Info().
		Int("successful_days", summary.SuccessfulDays).
		Int("failed_days", summary.FailedDays).
		Float64("final_value", summary.FinalValue)
	if summary.Performance != nil {
		ev = ev.
			Float64("total_return", summary.Performance.TotalReturn).
			Float64("max_drawdown", summary.Performance.MaxDrawdown).
			Float64("sharpe", summary.Performance.AnnualizedSharpe)
	}
	ev.Msg("Session finished")

	if summary.SuccessfulDays == 0 {
		return fmt.Errorf("no trading day completed successfully")
	}
	return nil
}

func shutdownHTTP(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log := config.NewLogger("main")
		log.Warn().Err(err).Msg("HTTP shutdown failed")
	}
}
