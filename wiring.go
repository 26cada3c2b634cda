package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"rankwatch/api"
	"rankwatch/collector"
	"rankwatch/config"
	"rankwatch/export"
	"rankwatch/logger"
	"rankwatch/provider"
	"rankwatch/retention"
	"rankwatch/snapshot"
	"rankwatch/storage"
)

// runtime holds the components every command builds from the config.
type runtime struct {
	cfg   *config.Config
	log   *logger.Logger
	store *storage.SQLite
}

// setup loads config, builds the logger and opens the store. CLI commands
// log to stderr so stdout stays readable; serve logs to stdout.
func setup(c *cli.Context, toStdout bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cli.Exit("load config: "+err.Error(), 2)
	}
	if v := c.String("db"); v != "" {
		cfg.DBPath = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	w := os.Stderr
	if toStdout {
		w = os.Stdout
	}
	log, err := logger.NewWithWriter(cfg.LogLevel, w)
	if err != nil {
		return nil, cli.Exit("set up logger: "+err.Error(), 2)
	}

	store, err := storage.NewSQLite(cfg.DBPath, log.Logger)
	if err != nil {
		return nil, cli.Exit("open snapshot store: "+err.Error(), 2)
	}
	return &runtime{cfg: cfg, log: log, store: store}, nil
}

func (rt *runtime) close() {
	rt.store.Close()
	logger.Flush(rt.log.Logger)
}

func (rt *runtime) answers() provider.Answers {
	cfg := rt.cfg
	return provider.AnswersFromKey(cfg.OpenAIAPIKey, func() provider.AnswerProvider {
		return provider.NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.HTTPTimeout, rt.log.Logger)
	})
}

func (rt *runtime) pageSpeed() *provider.PageSpeed {
	return provider.NewPageSpeed(rt.cfg.GoogleAPIKey, rt.cfg.HTTPTimeout, rt.log.Logger)
}

func (rt *runtime) collector(psi provider.MetricProvider) *collector.Collector {
	return collector.New(psi, rt.answers(), rt.cfg.PSIConcurrency, rt.log.Logger)
}

func (rt *runtime) snapshots(c *collector.Collector) *snapshot.Service {
	return snapshot.New(c, rt.store, rt.cfg.ServerLabel, rt.cfg.Strategy, rt.log.Logger)
}

func (rt *runtime) retention() *retention.Manager {
	return retention.NewManager(rt.store, rt.log.Logger)
}

// apiDeps wires the HTTP handlers to svc, the same Service the scheduler
// writes through.
func (rt *runtime) apiDeps(svc *snapshot.Service, psi provider.MetricProvider, coll *collector.Collector) api.Deps {
	return api.Deps{
		Snapshots:   svc,
		Store:       rt.store,
		Retention:   rt.retention(),
		PSI:         psi,
		Geo:         coll,
		IndexNow:    provider.NewIndexNow(rt.cfg.HTTPTimeout),
		IndexNowKey: rt.cfg.IndexNowKey,
		APIKey:      rt.cfg.APIKey,
		Server:      rt.cfg.ServerLabel,
		Strategy:    rt.cfg.Strategy,
		Log:         rt.log.Logger,
	}
}

func (rt *runtime) uploader() *export.Uploader {
	cfg := rt.cfg
	return export.NewUploader(export.SFTPConfig{
		Host:       cfg.SFTPHost,
		User:       cfg.SFTPUser,
		KeyPath:    cfg.SFTPKeyPath,
		KnownHosts: cfg.SFTPKnownHosts,
		RemoteDir:  cfg.SFTPRemoteDir,
	}, rt.log.Logger)
}
