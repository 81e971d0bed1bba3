package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	backendx "github.com/tanpawarit/Chative-Character-Chat/agent/backend"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	dispatcherx "github.com/tanpawarit/Chative-Character-Chat/agent/dispatcher"
	narrationx "github.com/tanpawarit/Chative-Character-Chat/agent/narration"
	orchestratorx "github.com/tanpawarit/Chative-Character-Chat/agent/orchestrator"
	rolex "github.com/tanpawarit/Chative-Character-Chat/agent/role"
	scenex "github.com/tanpawarit/Chative-Character-Chat/agent/scene"
	configx "github.com/tanpawarit/Chative-Character-Chat/pkg/config"
	qstashx "github.com/tanpawarit/Chative-Character-Chat/pkg/qstash"
)

const (
	roleStoreNone     = "none"
	roleStoreUpstash  = "upstash"
	roleStorePostgres = "postgres"
)

type appConfig struct {
	RoleStore        string        `envconfig:"ROLE_STORE" split_words:"true" default:"none"`
	ScenesFile       string        `envconfig:"SCENES_FILE" split_words:"true"`
	CacheTTL         time.Duration `envconfig:"CACHE_TTL" split_words:"true" default:"5m"`
	GroupDestination string        `envconfig:"GROUP_DESTINATION" split_words:"true"`
}

type app struct {
	cfg    appConfig
	engine *orchestratorx.Orchestrator
	close  func() error
}

func loadScenes(cfg appConfig) (*scenex.Registry, error) {
	if path := strings.TrimSpace(cfg.ScenesFile); path != "" {
		return scenex.NewFromFile(path)
	}
	return scenex.New()
}

func wireApp(ctx context.Context, withPublisher bool) (*app, error) {
	cfg, err := configx.New[appConfig]("CHATIVE")
	if err != nil {
		return nil, err
	}
	scenes, err := loadScenes(*cfg)
	if err != nil {
		return nil, err
	}

	llmCfg, err := configx.New[backendx.Settings]("CHATIVE_LLM")
	if err != nil {
		return nil, err
	}
	invoker, err := backendx.New(backendx.Static(*llmCfg))
	if err != nil {
		return nil, err
	}

	engineCfg, err := configx.New[dispatcherx.Config]("CHATIVE_ENGINE")
	if err != nil {
		return nil, err
	}
	narrationCfg, err := configx.New[narrationx.Config]("CHATIVE_NARRATION")
	if err != nil {
		return nil, err
	}

	a := &app{cfg: *cfg, close: func() error { return nil }}
	deps := orchestratorx.Deps{Scenes: scenes, Invoker: invoker}

	switch strings.ToLower(strings.TrimSpace(cfg.RoleStore)) {
	case "", roleStoreNone:
	case roleStoreUpstash:
		redisCfg, err := configx.New[rolex.UpstashConfig]("UPSTASH_REDIS")
		if err != nil {
			return nil, err
		}
		store, err := rolex.NewUpstashStore(*redisCfg)
		if err != nil {
			return nil, err
		}
		deps.Store = store
	case roleStorePostgres:
		pgCfg, err := configx.New[rolex.PostgresConfig]("POSTGRES")
		if err != nil {
			return nil, err
		}
		store, err := rolex.NewPostgresStore(*pgCfg)
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		deps.Store = store
		a.close = store.Close
	default:
		return nil, fmt.Errorf("%w: unknown role store %q", contractx.ErrValidation, cfg.RoleStore)
	}

	if withPublisher {
		qsCfg, err := configx.New[qstashx.Config]("QSTASH")
		if err != nil {
			return nil, err
		}
		client, err := qstashx.NewClient(*qsCfg)
		if err != nil {
			return nil, err
		}
		deps.Publisher = client
	}

	engine, err := orchestratorx.New(deps, orchestratorx.Config{
		Dispatcher: *engineCfg,
		Narration:  *narrationCfg,
		CacheTTL:   cfg.CacheTTL,
	})
	if err != nil {
		return nil, err
	}

	persona, err := configx.New[contractx.Persona]("CHATIVE_PERSONA")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(persona.Name) != "" {
		engine.SetPersona(*persona)
	}

	a.engine = engine
	return a, nil
}

// run starts the engine around fn and persists roles afterwards.
func (a *app) run(ctx context.Context, fn func(context.Context) error) error {
	a.engine.Start(ctx)
	runErr := fn(ctx)
	a.engine.Stop()

	saveErr := a.engine.SaveRoles(context.WithoutCancel(ctx))
	closeErr := a.close()
	if runErr != nil {
		return runErr
	}
	if saveErr != nil {
		return saveErr
	}
	return closeErr
}
