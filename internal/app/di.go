package app

import (
	"log/slog"
	"math/rand/v2"

	"github.com/samber/do/v2"

	"discussionhub/internal/ai"
	"discussionhub/internal/api"
	"discussionhub/internal/bus"
	"discussionhub/internal/config"
	"discussionhub/internal/database"
	"discussionhub/internal/session"
	"discussionhub/internal/websocket"
	dbconfig "discussionhub/pkg/database"
)

// registerDI provides every component. Providers are lazy; the graph is
// resolved on first Invoke.
func registerDI(injector do.Injector, cfg *config.Config, logger *slog.Logger) {
	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)

	do.Provide(injector, func(i do.Injector) (*database.Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		dbCfg := dbconfig.DefaultConfig()
		dbCfg.DatabasePath = cfg.Database.Path
		dbCfg.MaxConnections = cfg.Database.MaxConnections
		dbCfg.WriteTimeout = cfg.Database.WriteTimeout
		return database.NewManager(dbCfg, do.MustInvoke[*slog.Logger](i))
	})

	do.Provide(injector, func(i do.Injector) (*bus.Bus, error) {
		return bus.New(do.MustInvoke[*database.Manager](i), do.MustInvoke[*slog.Logger](i)), nil
	})

	do.Provide(injector, func(i do.Injector) (*ai.PhraseGenerator, error) {
		seed := do.MustInvoke[*config.Config](i).AI.Seed
		if seed == 0 {
			return ai.NewPhraseGenerator(), nil
		}
		return ai.NewPhraseGeneratorWithRand(rand.New(rand.NewPCG(seed, seed))), nil
	})

	do.Provide(injector, func(i do.Injector) (*ai.BaselineAnalyzer, error) {
		return ai.NewBaselineAnalyzer(nil, do.MustInvoke[*slog.Logger](i)), nil
	})

	do.Provide(injector, func(i do.Injector) (*session.Registry, error) {
		store := do.MustInvoke[*database.Manager](i)
		return session.NewRegistry(session.Options{
			Sessions:    store,
			Transcripts: store,
			Bus:         do.MustInvoke[*bus.Bus](i),
			Engine:      do.MustInvoke[*ai.BaselineAnalyzer](i),
			ClientURL:   do.MustInvoke[*config.Config](i).ClientURL,
			Logger:      do.MustInvoke[*slog.Logger](i),
		}), nil
	})

	do.Provide(injector, func(i do.Injector) (*ai.TurnService, error) {
		return ai.NewTurnService(
			do.MustInvoke[*session.Registry](i),
			do.MustInvoke[*ai.PhraseGenerator](i),
			do.MustInvoke[*slog.Logger](i),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*websocket.Registry, error) {
		return websocket.NewRegistry(), nil
	})

	do.Provide(injector, func(i do.Injector) (*websocket.Handler, error) {
		ws := do.MustInvoke[*config.Config](i).WebSocket
		return websocket.NewHandler(
			do.MustInvoke[*websocket.Registry](i),
			do.MustInvoke[*session.Registry](i),
			websocket.Options{
				WriteQueueSize:    ws.BufferSize,
				WriteWait:         ws.WriteTimeout,
				PongWait:          ws.ReadTimeout,
				PingInterval:      ws.PingInterval,
				MaxFrameBytes:     ws.MaxFrameBytes,
				MessagesPerMinute: ws.MessagesPerMinute,
			},
			do.MustInvoke[*slog.Logger](i),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*api.Server, error) {
		store := do.MustInvoke[*database.Manager](i)
		return api.NewServer(api.Deps{
			Sessions:    do.MustInvoke[*session.Registry](i),
			Turns:       do.MustInvoke[*ai.TurnService](i),
			Generator:   do.MustInvoke[*ai.PhraseGenerator](i),
			Rooms:       do.MustInvoke[*bus.Bus](i),
			Connections: do.MustInvoke[*websocket.Registry](i),
			Health:      store,
			WebSocket:   do.MustInvoke[*websocket.Handler](i).HandleWebSocket,
			Logger:      do.MustInvoke[*slog.Logger](i),
		}), nil
	})
}
