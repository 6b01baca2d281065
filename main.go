package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"squad-ladder/config"
	"squad-ladder/database"
	"squad-ladder/handlers"
	"squad-ladder/services"
	"squad-ladder/utils"
	"squad-ladder/workers"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := utils.NewLogger("info", "json")
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		log.Info().Msg("⚠️  No .env file found, reading environment variables directly")
	}

	db, err := database.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	rnd := services.DefaultRandomizer()

	// Reward tables are cached in Redis when configured so every replica
	// sees an invalidation; otherwise each process keeps its own copy.
	var rewardCache services.RewardCache = services.NewMemoryRewardCache(clock, cfg.Rules.RewardCacheTTL)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup; cache reads will fall through")
		}
		rewardCache = services.NewRedisRewardCache(rdb, "squad-ladder:rewards:", cfg.Rules.RewardCacheTTL)
	}

	hub := services.NewEventHub(64)
	defer hub.Close()
	publishers := []services.Publisher{hub}
	if cfg.NATS.URL != "" {
		nc, err := services.ConnectNATS(cfg.NATS.URL, cfg.NATS.Name, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Drain()
		publishers = append(publishers, services.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix))
	}
	notifier := services.NewNotifier(log, publishers...)

	store := services.NewMatchStore(db)
	squads := services.NewSquadMemberStore(db)
	ladders := services.NewLadderService(db, squads, clock)
	maps := services.NewMapService(db, rnd)
	rewardCfg := services.NewRewardConfigService(db, rewardCache, log)
	rewards := services.NewRewardService(db, store, rewardCfg, ladders, squads, notifier, clock, rnd, log)
	matches := services.NewMatchService(services.MatchServiceDeps{
		Store:    store,
		Ladders:  ladders,
		Squads:   squads,
		Maps:     maps,
		Rewards:  rewards,
		Notifier: notifier,
		Clock:    clock,
		Rand:     rnd,
		Rules: services.Rules{
			ReadyExpiry:         cfg.Rules.ReadyExpiry,
			MinScheduleLead:     cfg.Rules.MinScheduleLead,
			ScheduleOverlap:     cfg.Rules.ScheduleOverlap,
			RematchCooldown:     cfg.Rules.RematchCooldown,
			CancelLockWindow:    cfg.Rules.CancelLockWindow,
			MaxEvidencePerSquad: cfg.Rules.MaxEvidencePerSquad,
			MapDrawCount:        cfg.Rules.MapDrawCount,
		},
		Log: log,
	})

	sweeper := services.NewSweeper(matches, rewards, cfg.Rules.SweepInterval, clock, log)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start sweeper")
	}
	defer sweeper.Stop()

	if cfg.SquadSync.URL != "" {
		workers.NewSquadSyncWorker(squads, cfg.SquadSync.URL, cfg.SquadSync.EndpointPath, cfg.SquadSync.Token, cfg.SquadSync.Interval, log).Start(ctx)
	} else {
		log.Warn().Msg("SQUAD_SYNC_URL not set; squad rosters will not be mirrored")
	}

	var evidence handlers.EvidenceUploader
	if cfg.R2.Enabled() {
		es, err := utils.NewEvidenceStore(ctx, cfg.R2, "")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize R2 client")
		}
		evidence = es
	} else {
		log.Warn().Msg("R2 not configured; evidence file uploads disabled")
	}

	app := fiber.New(fiber.Config{
		AppName:     "squad-ladder",
		BodyLimit:   utils.MaxEvidenceBytes + 1<<20,
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(cfg.HTTP.AllowedOrigins, ","),
		AllowMethods:  "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID, Retry-After",
		MaxAge:        86400,
	}))

	handlers.Mount(app, handlers.Deps{
		GatewayToken: cfg.HTTP.GatewayToken,
		Matches:      matches,
		Rewards:      rewards,
		RewardConfig: rewardCfg,
		Ladders:      ladders,
		Maps:         maps,
		Stats:        services.NewStatsService(db),
		Hub:          hub,
		Evidence:     evidence,
		Log:          log,
	})

	go func() {
		if err := app.Listen(":" + cfg.HTTP.Port); err != nil {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()
	log.Info().
		Str("port", cfg.HTTP.Port).
		Strs("origins", cfg.HTTP.AllowedOrigins).
		Bool("redis", cfg.Redis.Addr != "").
		Bool("nats", cfg.NATS.URL != "").
		Bool("r2", evidence != nil).
		Msg("✅ squad ladder running")

	<-ctx.Done()
	log.Info().Msg("shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
