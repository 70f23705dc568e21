package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ent0n29/calchat/internal/calendar"
	"github.com/ent0n29/calchat/internal/config"
	"github.com/ent0n29/calchat/internal/dialogue"
	"github.com/ent0n29/calchat/internal/httpapi"
	"github.com/ent0n29/calchat/internal/observability"
	"github.com/ent0n29/calchat/internal/semantic"
	"github.com/ent0n29/calchat/internal/session"
	"github.com/ent0n29/calchat/internal/transcript"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Engine     *dialogue.Engine
	Sessions   *session.Manager[dialogue.Session]
	Calendar   calendar.Store
	Metrics    *observability.Metrics
	ParserName string

	// Cleanup should be called on shutdown to release external resources (DB files, pools).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("time zone: %w", err)
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	parser, err := semantic.NewParser(semantic.Config{
		Mode:          cfg.SemanticParserMode,
		HTTPURL:       cfg.SemanticParserURL,
		HTTPToken:     cfg.SemanticParserToken,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		Timeout:       cfg.ExternalCallTimeout,
		MaxRetries:    cfg.SemanticParserRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic parser init failed: %w", err)
	}

	store, err := calendar.NewStore(ctx, calendar.Config{
		Backend:    cfg.CalendarStore,
		SQLitePath: cfg.CalendarSQLitePath,
		LinkBase:   cfg.PublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("calendar store init failed: %w", err)
	}

	transcripts, err := transcript.NewStore(ctx, cfg.DatabaseURL, cfg.TranscriptRedactPII)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	sessions := session.NewManager[dialogue.Session](cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(info session.Info) {
		log.Printf("session expired key=%s id=%s", info.Key, info.ID)
		metrics.SessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
	})

	engine := dialogue.NewEngine(dialogue.Config{
		Location:             loc,
		DefaultEventDuration: cfg.DefaultEventDuration,
		CallTimeout:          cfg.ExternalCallTimeout,
	}, parser, store, sessions, transcripts, metrics)

	api := httpapi.New(cfg, engine, store, metrics)

	cleanup := func() error {
		sessions.Close()
		var errs []string
		if err := transcripts.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Engine:     engine,
		Sessions:   sessions,
		Calendar:   store,
		Metrics:    metrics,
		ParserName: semantic.Name(parser),
		Cleanup:    cleanup,
	}, nil
}
