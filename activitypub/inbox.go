package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/jobs"
	"github.com/rs/zerolog/log"
)

const DefaultMaxBodyBytes = 1 << 20

// InboxJob is the payload of an inbox.activity job.
type InboxJob struct {
	Route    string          `json:"route"`
	Activity json.RawMessage `json:"activity"`
}

// Dispatcher authenticates and routes inbound activities, then hands them
// to the job queue. Nothing is applied synchronously.
type Dispatcher struct {
	db           *db.DB
	verifier     *Verifier
	registry     *Registry
	jobs         jobs.Enqueuer
	maxBodyBytes int64
}

func NewDispatcher(database *db.DB, verifier *Verifier, registry *Registry, enqueuer jobs.Enqueuer, maxBodyBytes int64) *Dispatcher {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Dispatcher{
		db:           database,
		verifier:     verifier,
		registry:     registry,
		jobs:         enqueuer,
		maxBodyBytes: maxBodyBytes,
	}
}

func respond(w http.ResponseWriter, activityType string, status int, msg string) {
	inboxRequests.WithLabelValues(activityType, strconv.Itoa(status)).Inc()
	if status == http.StatusOK {
		w.WriteHeader(status)
		return
	}
	http.Error(w, msg, status)
}

// HandleInbox serves the shared inbox when username is empty and a user's
// inbox otherwise.
func (d *Dispatcher) HandleInbox(w http.ResponseWriter, r *http.Request, username string) {
	ctx := r.Context()

	if username != "" {
		user, err := d.db.ReadLocalActorByUsername(ctx, username)
		if err != nil || !user.Active {
			respond(w, "", http.StatusNotFound, "User not found")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, d.maxBodyBytes+1))
	if err != nil {
		log.Warn().Err(err).Msg("Inbox: failed to read body")
		respond(w, "", http.StatusBadRequest, "Failed to read body")
		return
	}
	if int64(len(body)) > d.maxBodyBytes {
		respond(w, "", http.StatusRequestEntityTooLarge, "Activity too large")
		return
	}

	activity, err := ParseActivity(body)
	if err != nil {
		log.Debug().Err(err).Msg("Inbox: failed to parse activity")
		respond(w, "", http.StatusBadRequest, "Invalid activity")
		return
	}

	if host, err := extractDomain(activity.Actor); err == nil {
		server, err := d.db.ReadServerByName(ctx, host)
		if err == nil && server.Blocked() {
			log.Info().Str("server", host).Str("type", activity.Type).Msg("Inbox: refusing activity from blocked server")
			respond(w, activity.Type, http.StatusForbidden, "Server blocked")
			return
		}
	}

	if err := d.verifier.Verify(ctx, r, body, activity); err != nil {
		// Deleted actors can no longer be fetched to check their signature.
		if activity.Type == "Delete" {
			log.Debug().Err(err).Str("actor", activity.Actor).Msg("Inbox: ignoring unverifiable Delete")
			respond(w, activity.Type, http.StatusOK, "")
			return
		}
		log.Warn().Err(err).Str("actor", activity.Actor).Str("type", activity.Type).Msg("Inbox: signature verification failed")
		respond(w, activity.Type, http.StatusUnauthorized, "Invalid signature")
		return
	}

	route, ok := d.registry.Lookup(activity.Type, activity.ObjectType())
	if !ok {
		log.Debug().Str("type", activity.Type).Str("object", activity.ObjectType()).Msg("Inbox: unsupported activity")
		respond(w, activity.Type, http.StatusNotFound, "Unsupported activity")
		return
	}

	if _, err := d.jobs.Enqueue(ctx, jobs.InboxActivity, InboxJob{Route: route.Key, Activity: body}); err != nil {
		log.Error().Err(err).Str("type", activity.Type).Msg("Inbox: failed to enqueue activity")
		respond(w, activity.Type, http.StatusInternalServerError, "Failed to queue activity")
		return
	}

	log.Info().Str("type", route.Key).Str("actor", activity.Actor).Msg("Inbox: activity queued")
	respond(w, activity.Type, http.StatusOK, "")
}

// InboxProcessor runs inbox.activity jobs: it resolves the actor, applies
// the routed handler and then its effects.
type InboxProcessor struct {
	registry *Registry
	resolver ActorResolver
	effects  *EffectRunner
}

func NewInboxProcessor(registry *Registry, resolver ActorResolver, effects *EffectRunner) *InboxProcessor {
	return &InboxProcessor{registry: registry, resolver: resolver, effects: effects}
}

func (p *InboxProcessor) Process(ctx context.Context, payload []byte) error {
	var job InboxJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return jobs.Permanent(fmt.Errorf("decode inbox job: %w", err))
	}
	route, ok := p.registry.ByKey(job.Route)
	if !ok {
		return jobs.Permanent(fmt.Errorf("%w: route %q", ErrUnsupportedActivity, job.Route))
	}
	activity, err := ParseActivity(job.Activity)
	if err != nil {
		return jobs.Permanent(err)
	}

	actor, err := p.resolver.Resolve(ctx, activity.Actor)
	if err != nil {
		if errors.Is(err, ErrServerBlocked) || errors.Is(err, ErrActorIdentityMismatch) {
			return jobs.Permanent(err)
		}
		return err
	}
	if !actor.Active {
		log.Debug().Str("actor", actor.ActorURI).Msg("Inbox: ignoring activity of inactive actor")
		return nil
	}

	effects, err := route.Handle(ctx, activity, actor)
	if err != nil {
		return fmt.Errorf("%s: %w", route.Key, err)
	}
	p.effects.Run(ctx, effects)
	return nil
}
