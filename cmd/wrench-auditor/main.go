package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/wrench/pkg/analytics"
	"github.com/platinummonkey/wrench/pkg/audit"
	"github.com/platinummonkey/wrench/pkg/config"
	"github.com/platinummonkey/wrench/pkg/observability"
	"github.com/platinummonkey/wrench/pkg/rbac"
)

var (
	runOnce    = flag.Bool("run-once", false, "Run the governance checks and the archive once and exit")
	minCover   = flag.Float64("min-coverage", analytics.DefaultAlertThresholds().MinCoverage, "Alert when fewer users than this share hold a profile")
	maxUnused  = flag.Int("max-unused", analytics.DefaultAlertThresholds().MaxUnused, "Alert when more catalog permissions than this are unused")
	jsonOutput = flag.Bool("json", true, "Log in JSON")
)

func main() {
	flag.Parse()

	log := logrus.New()
	if *jsonOutput {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.Observability.LogLevel == observability.DebugLevel {
		log.SetLevel(logrus.DebugLevel)
	}
	if cfg.Database.URL == "" {
		log.Fatal("WRENCH_DATABASE_URL is required")
	}

	ctx := context.Background()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.WithError(err).Fatal("Failed to ping database")
	}

	var catalog *rbac.Catalog
	if cfg.Catalog.Path != "" {
		if catalog, err = rbac.LoadCatalogFile(cfg.Catalog.Path); err != nil {
			log.WithError(err).Fatal("Failed to load catalog")
		}
	}

	manager, err := rbac.NewSQLManager(ctx, db, rbac.Config{Catalog: catalog})
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize permission engine")
	}

	reports := analytics.NewService(manager.Engine(), manager.Audit(), analytics.Config{
		EventLimit:  cfg.Analytics.EventLimit,
		ScanTimeout: cfg.Analytics.ScanTimeout,
		Scorer: analytics.WeightedScorer{
			RoleWeight:       cfg.Analytics.RoleWeight,
			CustomRoleWeight: cfg.Analytics.CustomRoleWeight,
			Cap:              cfg.Analytics.ScoreCap,
		},
		RarelyUsedThreshold: cfg.Analytics.RarelyUsedThreshold,
	})
	alerter := analytics.NewAlerter(reports, analytics.AlertThresholds{
		MinCoverage: *minCover,
		MaxUnused:   *maxUnused,
	}, log)

	archiver, err := newArchiver(ctx, cfg.Archive, manager.Audit())
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize archiver")
	}
	policy := audit.RetentionPolicy{
		RetentionDays:  cfg.Archive.RetentionDays,
		ArchiveEnabled: cfg.Archive.Enabled,
	}

	runChecks := func() {
		if _, err := alerter.CheckAllAlerts(context.Background()); err != nil {
			log.WithError(err).Error("Governance checks failed")
		}
	}
	runArchive := func() {
		result, err := archiver.Run(context.Background(), policy)
		if err != nil {
			log.WithError(err).Error("Archive run failed")
			return
		}
		log.WithFields(logrus.Fields{
			"cutoff":   result.Cutoff,
			"archived": result.Archived,
			"purged":   result.Purged,
			"key":      result.Key,
		}).Info("Archive run completed")
	}

	if *runOnce {
		runChecks()
		runArchive()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Auditor.CheckSchedule, runChecks); err != nil {
		log.WithError(err).Fatal("Failed to schedule governance checks")
	}
	if _, err := c.AddFunc(cfg.Archive.Schedule, runArchive); err != nil {
		log.WithError(err).Fatal("Failed to schedule archive runs")
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"check_schedule":   cfg.Auditor.CheckSchedule,
		"archive_schedule": cfg.Archive.Schedule,
		"archive_enabled":  cfg.Archive.Enabled,
	}).Info("wrench auditor started")

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	log.Info("Shutting down gracefully...")
	<-c.Stop().Done()
	log.Info("Auditor stopped")
}

func newArchiver(ctx context.Context, cfg config.ArchiveConfig, store audit.Store) (*audit.Archiver, error) {
	if !cfg.Enabled {
		return audit.NewArchiver(store, nil, "", ""), nil
	}
	client, err := audit.NewS3Client(ctx, audit.S3Config{
		Bucket:       cfg.Bucket,
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint,
		Prefix:       cfg.Prefix,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		UsePathStyle: cfg.UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	return audit.NewArchiver(store, client, cfg.Bucket, cfg.Prefix), nil
}
