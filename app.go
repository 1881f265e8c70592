package main

import (
	"context"
	"fmt"

	"github.com/deemkeen/bookfed/activitypub"
	"github.com/deemkeen/bookfed/backoff"
	"github.com/deemkeen/bookfed/cache"
	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/jobs"
	"github.com/deemkeen/bookfed/util"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app holds the federation components shared by the commands.
type app struct {
	conf        *util.AppConfig
	db          *db.DB
	redis       *redis.Client
	tracker     *backoff.Tracker
	queue       *jobs.Queue
	resolver    *activitypub.Resolver
	handlers    *activitypub.Handlers
	broadcaster *activitypub.Broadcaster
	registry    *activitypub.Registry
	outbox      *activitypub.Outbox
}

func newApp(ctx context.Context, conf *util.AppConfig) (*app, error) {
	dbPath := util.ResolveFilePath(conf.Conf.DbPath)
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	log.Debug().Str("path", dbPath).Msg("Database opened")

	a := &app{conf: conf, db: database}

	var store cache.Store
	if conf.Conf.RedisAddr != "" {
		a.redis, err = cache.DialRedis(ctx, conf.Conf.RedisAddr)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("connect to redis %s: %w", conf.Conf.RedisAddr, err)
		}
		store = cache.NewRedisStore(a.redis, util.Name+":")
		log.Info().Str("addr", conf.Conf.RedisAddr).Msg("Using redis for connector state")
	} else {
		store = cache.NewMemoryStore(conf.Conf.ActorCacheSize, backoff.StatsTTL)
	}

	a.tracker = backoff.NewTracker(store)
	a.queue = jobs.NewQueue(database)
	a.resolver = activitypub.NewResolver(database, a.queue, a.tracker, activitypub.ResolverOptions{
		Timeout:   conf.Conf.HttpTimeout,
		CacheSize: conf.Conf.ActorCacheSize,
		CacheTTL:  conf.Conf.ActorCacheTTL,
		UserAgent: conf.UserAgent(),
	})
	a.handlers = activitypub.NewHandlers(database, a.resolver)
	a.broadcaster = activitypub.NewBroadcaster(database, a.tracker, a.queue)
	a.registry = activitypub.NewRegistry(a.handlers)
	a.outbox = activitypub.NewOutbox(database, a.broadcaster)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}

// worker registers the handlers of every background job.
func (a *app) worker() *jobs.Worker {
	effects := activitypub.NewEffectRunner(a.db, a.broadcaster, a.queue)
	processor := activitypub.NewInboxProcessor(a.registry, a.resolver, effects)
	deliverer := activitypub.NewDeliverer(a.db, a.tracker, a.conf.Conf.HttpTimeout, a.conf.UserAgent())
	importer := activitypub.NewImporter(a.resolver, a.handlers)

	w := jobs.NewWorker(a.db, jobs.Options{
		Workers:      a.conf.Conf.Workers,
		PollInterval: a.conf.Conf.PollInterval,
	})
	w.Register(jobs.InboxActivity, processor.Process)
	w.Register(jobs.OutboxDeliver, deliverer.Handle)
	w.Register(jobs.ActorImportOutbox, importer.Handle)
	return w
}

func (a *app) dispatcher() *activitypub.Dispatcher {
	return activitypub.NewDispatcher(a.db, activitypub.NewVerifier(a.resolver), a.registry, a.queue, a.conf.Conf.MaxBodyBytes)
}

// localUser loads an active local account.
func (a *app) localUser(ctx context.Context, username string) (*domain.Actor, error) {
	actor, err := a.db.ReadLocalActorByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("local user %s: %w", username, err)
	}
	if !actor.Active {
		return nil, fmt.Errorf("local user %s is inactive", username)
	}
	return actor, nil
}
