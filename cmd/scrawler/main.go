// Command scrawler runs the job scraping pipeline. Each stage is its own
// subcommand so the stages can be deployed as independent processes; the etl
// subcommand runs all of them under one parent for local operation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jerling2/scrawler/internal/codec"
	"github.com/jerling2/scrawler/internal/config"
	"github.com/jerling2/scrawler/internal/crawler"
	"github.com/jerling2/scrawler/internal/gateway"
	"github.com/jerling2/scrawler/internal/repository"
	"github.com/jerling2/scrawler/internal/stage/extractor1"
	"github.com/jerling2/scrawler/internal/stage/extractor2"
	"github.com/jerling2/scrawler/internal/stage/transformer1"
	"github.com/jerling2/scrawler/internal/stage/transformer2"
	"github.com/jerling2/scrawler/internal/supervisor"
	"github.com/jerling2/scrawler/internal/telemetry"
)

const (
	loginURL = "https://app.joinhandshake.com/login"
	probeURL = "https://app.joinhandshake.com/job-search/"

	// E1 and E2 keep separate session files so their cookie jars never
	// clobber each other.
	sessionFileE1 = "handshake.json"
	sessionFileE2 = "handshake_e2.json"
)

var stageSubcommands = []string{"extractor1", "transformer1", "extractor2", "transformer2"}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	sub := os.Args[1]

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("configuration failed", zap.Error(err))
	}

	switch sub {
	case "extractor1":
		err = runStage(cfg, logger, sub, buildExtractor1)
	case "transformer1":
		err = runStage(cfg, logger, sub, buildTransformer1)
	case "extractor2":
		err = runStage(cfg, logger, sub, buildExtractor2)
	case "transformer2":
		err = runStage(cfg, logger, sub, buildTransformer2)
	case "etl":
		group := supervisor.NewProcessGroup(stageSubcommands, logger)
		err = supervisor.New(group, logger).Run()
	case "seed":
		err = runSeed(cfg, logger, os.Args[2:])
	case "provision":
		err = runProvision(cfg, logger)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("scrawler failed", zap.String("subcommand", sub), zap.Error(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: scrawler <subcommand>

subcommands:
  extractor1    run the listing extractor
  transformer1  run the listing transformer
  extractor2    run the detail extractor
  transformer2  run the detail transformer
  etl           run all four stages as child processes
  seed          publish a page range command (-start, -end, -per)
  provision     create the pipeline topics`)
}

// stageBuilder wires one stage from the shared infrastructure.
type stageBuilder func(cfg config.Config, gw *gateway.Gateway, pool *pgxpool.Pool, metrics *telemetry.Metrics, logger *zap.Logger) (supervisor.Stage, error)

func runStage(cfg config.Config, logger *zap.Logger, name string, build stageBuilder) error {
	ctx := context.Background()
	service := "scrawler-" + name

	// ── Telemetry ─────────────────────────────────────────────────────────
	if cfg.OTELEndpoint != "" {
		mp, err := telemetry.InitMeterProvider(ctx, service, cfg.OTELEndpoint)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()
	}
	metrics, err := telemetry.NewMetrics(service)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Document store ────────────────────────────────────────────────────
	pool, err := repository.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	// ── Message gateway ───────────────────────────────────────────────────
	gw, err := gateway.New(gateway.Config{
		BootstrapServers: cfg.KafkaBootstrapServers,
		GroupID:          cfg.KafkaGroupID,
		ClientID:         cfg.KafkaClientID,
		AutoOffsetReset:  cfg.KafkaAutoOffsetReset,
		WithProducer:     true,
	}, metrics, logger)
	if err != nil {
		return err
	}

	stage, err := build(cfg, gw, pool, metrics, logger)
	if err != nil {
		return err
	}

	worker := supervisor.NewStageWorker(stage, gw, 0, logger.Named(name))
	return supervisor.New(worker, logger.Named(name)).Run()
}

func buildExtractor1(cfg config.Config, gw *gateway.Gateway, pool *pgxpool.Pool, metrics *telemetry.Metrics, logger *zap.Logger) (supervisor.Stage, error) {
	cr, err := newCrawler(cfg, sessionFileE1, metrics, logger)
	if err != nil {
		return nil, err
	}
	return extractor1.New(gw, repository.NewRawListings(pool), cr, cr, metrics, logger), nil
}

func buildTransformer1(_ config.Config, gw *gateway.Gateway, pool *pgxpool.Pool, metrics *telemetry.Metrics, logger *zap.Logger) (supervisor.Stage, error) {
	return transformer1.New(gw, repository.NewPostings(pool), metrics, logger), nil
}

func buildExtractor2(cfg config.Config, gw *gateway.Gateway, pool *pgxpool.Pool, metrics *telemetry.Metrics, logger *zap.Logger) (supervisor.Stage, error) {
	cr, err := newCrawler(cfg, sessionFileE2, metrics, logger)
	if err != nil {
		return nil, err
	}
	return extractor2.New(extractor2.Config{}, gw, repository.NewPostings(pool), cr, cr, metrics, logger), nil
}

func buildTransformer2(_ config.Config, gw *gateway.Gateway, pool *pgxpool.Pool, metrics *telemetry.Metrics, logger *zap.Logger) (supervisor.Stage, error) {
	return transformer2.New(gw, repository.NewEnriched(pool), metrics, logger), nil
}

func newCrawler(cfg config.Config, file string, metrics *telemetry.Metrics, logger *zap.Logger) (*crawler.Crawler, error) {
	sessionFile := ""
	if cfg.SessionStorageDir != "" {
		sessionFile = filepath.Join(cfg.SessionStorageDir, file)
	}
	return crawler.New(crawler.Config{
		SessionFile: sessionFile,
		LoginURL:    loginURL,
		ProbeURL:    probeURL,
		Username:    cfg.SourceUsername,
		Password:    cfg.SourcePassword,
	}, metrics, logger)
}

// runSeed publishes one page range command and waits for its delivery
// report.
func runSeed(cfg config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	start := fs.Int("start", 1, "first page to extract")
	end := fs.Int("end", 40, "last page to extract")
	per := fs.Int("per", 50, "postings per page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	gw, err := gateway.New(gateway.Config{
		BootstrapServers: cfg.KafkaBootstrapServers,
		ClientID:         cfg.KafkaClientID,
		WithProducer:     true,
	}, nil, logger)
	if err != nil {
		return err
	}

	cmd := &codec.Extractor1Command{
		StartPage: *start,
		EndPage:   *end,
		PerPage:   *per,
		Action:    codec.ActionStartExtract,
	}
	delivered := make(chan gateway.DeliveryReport, 1)
	if err := gw.Send(codec.Extractor1Codec{}, codec.TopicExtractStage1, cmd, nil, func(r gateway.DeliveryReport) {
		delivered <- r
	}); err != nil {
		return err
	}

	// Close flushes the producer and services the delivery promise.
	gw.Close()
	select {
	case r := <-delivered:
		if r.Err != nil {
			return fmt.Errorf("seed delivery: %w", r.Err)
		}
		logger.Info("seed command delivered",
			zap.String("topic", r.Topic),
			zap.Int32("partition", r.Partition),
			zap.Int64("offset", r.Offset),
			zap.Int("start_page", *start),
			zap.Int("end_page", *end),
			zap.Int("per_page", *per),
		)
		return nil
	default:
		return fmt.Errorf("seed command was not delivered")
	}
}

func runProvision(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return gateway.ProvisionTopics(ctx, cfg.KafkaBootstrapServers, logger)
}
