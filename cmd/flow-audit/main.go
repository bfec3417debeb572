package main

import (
	"context"
	"flag"
	"os"

	"funnel_builder_backend/internal/adapters/storage"
	"funnel_builder_backend/internal/funnel/repository"
	"funnel_builder_backend/platform/config"
	"funnel_builder_backend/platform/db"
	"funnel_builder_backend/platform/logger"
)

func main() {
	checkArchive := flag.Bool("archive", true, "verify that every deployed version has an archived snapshot")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting deployed flow audit")

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	var store storage.StorageService
	if *checkArchive && cfg.IsMinIOEnabled() {
		svc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		store = svc
	}

	funnels, err := repository.New(pool).ListAllDeployed(ctx)
	if err != nil {
		log.Error("failed to list deployed funnels", "error", err)
		os.Exit(1)
	}

	var findings []finding
	for _, f := range funnels {
		findings = append(findings, auditFunnel(f)...)
		if store != nil {
			if issue := auditArchive(ctx, store, cfg.GetFlowArchiveBucket(), f); issue != "" {
				findings = append(findings, finding{funnel: f, issue: issue})
			}
		}
	}

	for _, fd := range findings {
		log.Warn("flow audit finding",
			"experience_id", fd.funnel.ExperienceID,
			"funnel_id", fd.funnel.ID.String(),
			"version", fd.funnel.Version,
			"issue", fd.issue,
		)
	}
	log.Info("deployed flow audit complete", "funnels", len(funnels), "findings", len(findings))
	if len(findings) > 0 {
		os.Exit(2)
	}
}
