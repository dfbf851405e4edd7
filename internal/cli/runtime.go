package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/fmuoria/cv-triage/internal/agent"
	"github.com/fmuoria/cv-triage/internal/config"
	"github.com/fmuoria/cv-triage/internal/extraction"
	"github.com/fmuoria/cv-triage/internal/filters"
	"github.com/fmuoria/cv-triage/internal/ingestion"
	"github.com/fmuoria/cv-triage/internal/llm"
	"github.com/fmuoria/cv-triage/internal/notify"
	"github.com/fmuoria/cv-triage/internal/store"
)

// runtime is the wired application shared by the commands
type runtime struct {
	cfg          *config.ServerConfig
	settings     *config.Settings
	settingsPath string
	agent        *agent.Agent
	cache        *filters.RistrettoCache
	closers      []func()
}

// runtimeOptions select the optional integrations. interactive allows the
// Gmail OAuth prompt; records replaces the store with a read-only file.
type runtimeOptions struct {
	withModel   bool
	withInbox   bool
	interactive bool
	records     string
}

func newRuntime(ctx context.Context, cfg *config.ServerConfig, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	if err := rt.loadSettings(); err != nil {
		return nil, err
	}

	registry := filters.NewRegistry()
	if err := rt.settings.Apply(registry); err != nil {
		return nil, err
	}

	cache, err := filters.NewRistrettoCache(cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}
	rt.cache = cache
	rt.closers = append(rt.closers, cache.Close)
	pipeline := filters.NewPipeline(registry, filters.WithCache(cache))

	st, err := openStore(ctx, cfg, opts.records)
	if err != nil {
		return nil, err
	}

	notifier, err := openNotifier(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	var gen llm.Generator
	if opts.withModel {
		client, err := llm.NewVertexAIClient(ctx, llm.Options{
			ProjectID: cfg.GoogleCloudProject,
			Location:  cfg.GoogleCloudLocation,
			Model:     cfg.Model,
		})
		switch {
		case errors.Is(err, llm.ErrNotConfigured):
			log.Warn().Msg("No Google Cloud project configured, extracting without language model")
		case err != nil:
			notifier.Close()
			st.Close()
			return nil, err
		default:
			gen = client
			rt.closers = append(rt.closers, func() { client.Close() })
			log.Info().Str("model", client.Model()).Msg("Using Vertex AI for extraction")
		}
	}

	agentOpts := []agent.Option{
		agent.WithNotifier(notifier),
		agent.WithWorkers(cfg.Workers),
		agent.WithFetchLimit(cfg.FetchLimit),
	}

	if opts.withInbox {
		inbox, err := ingestion.NewInboxHandler(ctx, ingestion.GmailConfig{
			CredentialsPath: cfg.GmailCredentials,
			TokenPath:       cfg.GmailToken,
			Interactive:     opts.interactive,
			Prompt:          os.Stderr,
			Answer:          os.Stdin,
		})
		if err != nil {
			if opts.interactive {
				notifier.Close()
				st.Close()
				return nil, fmt.Errorf("failed to initialize Gmail handler: %w", err)
			}
			log.Warn().Err(err).Msg("Gmail inbox unavailable")
		} else {
			agentOpts = append(agentOpts, agent.WithInbox(inbox))
			log.Info().Str("inbox", inbox.Address()).Msg("Gmail inbox connected")
		}
	}

	rt.agent = agent.New(
		st,
		pipeline,
		ingestion.NewFileHandler(cfg.UploadsDir),
		extraction.NewExtractor(gen),
		agentOpts...,
	)
	rt.closers = append(rt.closers, rt.agent.Close)

	ok = true
	return rt, nil
}

func (rt *runtime) loadSettings() error {
	path := rt.cfg.SettingsPath
	if path == "" {
		p, err := config.GetSettingsPath()
		if err != nil {
			return err
		}
		path = p
	}

	settings, err := config.LoadFrom(path)
	if err != nil {
		return err
	}
	rt.settings = settings
	rt.settingsPath = path
	return nil
}

// Close releases everything in reverse order of acquisition
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// openStore picks Postgres when a database URL is configured and the JSON
// records file otherwise. A records override is loaded read-only into memory.
func openStore(ctx context.Context, cfg *config.ServerConfig, records string) (store.Store, error) {
	if records != "" {
		recs, err := store.ReadRecordsFile(records)
		if err != nil {
			return nil, err
		}
		return store.LoadMemoryStore(recs...), nil
	}

	if cfg.DatabaseURL != "" {
		pg, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		log.Info().Msg("Using Postgres record store")
		return pg, nil
	}

	fs, err := store.OpenFileStore(cfg.RecordsFile)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", cfg.RecordsFile).Msg("Using file record store")
	return fs, nil
}

// openNotifier connects to NATS when a URL is configured and starts an
// embedded server otherwise
func openNotifier(cfg *config.ServerConfig) (notify.Notifier, error) {
	if cfg.NATSURL != "" {
		n, err := notify.Connect(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		log.Info().Str("url", cfg.NATSURL).Msg("Connected to NATS")
		return n, nil
	}

	n, err := notify.NewInMemoryNats()
	if err != nil {
		return nil, err
	}
	log.Debug().Str("url", n.URL()).Msg("Started embedded NATS server")
	return n, nil
}
