package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sightline-labs/sightline/pkg/bridge"
	"github.com/sightline-labs/sightline/pkg/buffer"
	"github.com/sightline-labs/sightline/pkg/config"
	"github.com/sightline-labs/sightline/pkg/correlation"
	"github.com/sightline-labs/sightline/pkg/correlation/rules"
	"github.com/sightline-labs/sightline/pkg/export"
	"github.com/sightline-labs/sightline/pkg/insight"
	"github.com/sightline-labs/sightline/pkg/logging"
	"github.com/sightline-labs/sightline/pkg/pipeline"
	"github.com/sightline-labs/sightline/pkg/timestamp"
	"github.com/sightline-labs/sightline/pkg/timesync"
)

var (
	audioStdin    bool
	statsInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the correlation core until interrupted",
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().BoolVar(&audioStdin, "audio-stdin", false, "read speech pipeline IPC frames from stdin")
	runCmd.Flags().DurationVar(&statsInterval, "stats-interval", time.Minute, "how often to print statistics")
}

// buildPipeline wires the core from configuration.
func buildPipeline(cfg config.Config, logger *zap.Logger) (*pipeline.Pipeline, error) {
	clock := timesync.NewClock(timesync.Options{
		Config: timesync.Config{
			CalibrationInterval:        cfg.Clock.CalibrationInterval,
			BasePrecision:              cfg.Clock.BasePrecisionMicros,
			AgeUncertaintyRate:         cfg.Clock.AgeUncertaintyRate,
			CalibrationUncertaintyRate: cfg.Clock.CalibrationUncertaintyRate,
			OffsetSmoothing:            cfg.Clock.OffsetSmoothing,
			MaxSyncErrors:              16,
		},
		Logger: logger.Named("timesync"),
	})

	stamper := timestamp.NewTimestamper(clock, timestamp.Config{
		SimultaneityFactor:    cfg.Timing.SimultaneityFactor,
		CorrelationWindow:     cfg.Timing.CorrelationWindowUs,
		MaxPlausibleFrequency: cfg.Timing.MaxPlausibleFrequency,
	}, logger.Named("timestamp"))

	buf, err := buffer.New(buffer.Config{
		PerSourceCapacity: cfg.Buffer.PerSourceCapacity,
		MaxEventAge:       cfg.Buffer.MaxEventAge.Microseconds(),
		BucketSize:        cfg.Buffer.BucketSizeUs,
	}, logger.Named("buffer"))
	if err != nil {
		return nil, err
	}

	registry := correlation.NewRegistry()
	if err := rules.RegisterDefaults(registry); err != nil {
		return nil, err
	}

	scoring := correlation.DefaultScoringConfig()
	scoring.DiversityBonus = cfg.Correlation.DiversityBonus
	engine := correlation.NewEngine(correlation.Config{
		BucketSize:        cfg.Buffer.BucketSizeUs,
		DefaultTimeWindow: cfg.Correlation.DefaultWindowUs,
		MinConfidence:     cfg.Correlation.MinConfidence,
		Scoring:           scoring,
	}, registry, buf, clock.Now, logger.Named("correlation"))

	insights := insight.NewGenerator(insight.Config{MaxRecent: cfg.Insight.MaxRecent}, clock.Now, logger.Named("insight"))
	if err := insight.RegisterDefaults(insights); err != nil {
		return nil, err
	}

	metrics, err := pipeline.NewMetrics()
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Options{
		Config: pipeline.Config{
			QueueSize:             cfg.Pipeline.QueueSize,
			NotifyBuffer:          cfg.Pipeline.NotifyBuffer,
			MaxRecentCorrelations: cfg.Pipeline.MaxRecentCorrelations,
			SweepInterval:         cfg.Pipeline.SweepInterval,
		},
		Clock:    clock,
		Stamper:  stamper,
		Buffer:   buf,
		Engine:   engine,
		Insights: insights,
		Logger:   logger.Named("pipeline"),
		Metrics:  metrics,
	})
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		return err
	}

	// Optional out-of-band sinks hang off a subscription, never the worker.
	var store *export.Store
	var publisher *export.Publisher
	if cfg.Export.SQLitePath != "" {
		store, err = export.OpenStore(cfg.Export.SQLitePath, logger.Named("export"))
		if err != nil {
			return err
		}
		defer store.Close()
	}
	if cfg.Export.NATSURL != "" {
		publisher, err = export.Connect(cfg.Export.NATSURL, logger.Named("export"))
		if err != nil {
			return err
		}
		defer publisher.Close()
	}
	if store != nil || publisher != nil {
		notifications, cancelSub := p.Subscribe()
		defer cancelSub()
		relay := export.NewRelay(store, publisher, logger.Named("export"))
		go relay.Run(ctx, notifications)
	}

	if audioStdin {
		reader := bridge.NewReader(os.Stdin, os.Stdout, p, logger.Named("bridge"))
		go func() {
			if err := reader.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("speech bridge stopped", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			printStats(cmd, p.Statistics())
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.Stop(shutdownCtx); err != nil {
				logger.Warn("shutdown reported an error", zap.Error(err))
			}
			printStats(cmd, p.Statistics())
			return nil
		}
	}
}

func printStats(cmd *cobra.Command, stats pipeline.Statistics) {
	fmt.Fprintf(cmd.OutOrStdout(),
		"state=%s events=%s correlations=%s insights=%s errors=%d avg_latency=%s\n",
		stats.State,
		humanize.Comma(int64(stats.EventsProcessed)),
		humanize.Comma(int64(stats.CorrelationsFound)),
		humanize.Comma(int64(stats.InsightsGenerated)),
		stats.IngestionErrors+stats.RuleErrors+stats.InsightErrors,
		stats.AverageLatency,
	)
}
