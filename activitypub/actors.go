package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/bookfed/backoff"
	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/jobs"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

// ImportOutboxPayload is the payload of an actor.import_outbox job.
type ImportOutboxPayload struct {
	ActorURI string `json:"actor_uri"`
}

type ResolverOptions struct {
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
	UserAgent string
	// Scheme is used for webfinger lookups, where only a domain is known.
	Scheme string
}

// Resolver turns actor, server and book URIs into stored records, fetching
// them from their origin when they are not known yet.
type Resolver struct {
	db      *db.DB
	jobs    jobs.Enqueuer
	tracker *backoff.Tracker
	client  *resty.Client
	actors  *expirable.LRU[string, domain.Actor]
	scheme  string
}

// NewResolver builds a Resolver. Fetches share the tracker with delivery, so
// a host that keeps failing is left alone until its backoff runs out.
func NewResolver(database *db.DB, enqueuer jobs.Enqueuer, tracker *backoff.Tracker, opts ResolverOptions) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "bookfed"
	}
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent)

	return &Resolver{
		db:      database,
		jobs:    enqueuer,
		tracker: tracker,
		client:  client,
		actors:  expirable.NewLRU[string, domain.Actor](opts.CacheSize, nil, opts.CacheTTL),
		scheme:  opts.Scheme,
	}
}

// getJSON fetches url and decodes the response into v. Transport errors and
// 5xx responses count against the host; any other answer counts as success.
func (r *Resolver) getJSON(ctx context.Context, url, accept string, v any) error {
	host, err := extractDomain(url)
	if err != nil {
		return err
	}
	if r.tracker.ShouldSkip(ctx, host) {
		log.Debug().Str("url", url).Msg("Resolver: host in backoff, skipping")
		return fmt.Errorf("%w: %s", ErrHostBackingOff, host)
	}

	start := time.Now()
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Accept", accept).
		Get(url)
	latency := time.Since(start)
	if err != nil {
		r.recordFailure(ctx, host, errorType(err), latency)
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() >= 500 {
		r.recordFailure(ctx, host, backoff.ErrTypeHTTPStatus, latency)
	} else if err := r.tracker.RecordSuccess(ctx, host, latency); err != nil {
		log.Warn().Err(err).Str("host", host).Msg("Resolver: failed to record success")
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("fetch %s failed with status: %d", url, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", url, err)
	}
	return nil
}

func (r *Resolver) recordFailure(ctx context.Context, host, errType string, latency time.Duration) {
	if err := r.tracker.RecordFailure(ctx, host, errType, latency); err != nil {
		log.Warn().Err(err).Str("host", host).Msg("Resolver: failed to record failure")
	}
}

func (r *Resolver) remember(a *domain.Actor) {
	r.actors.Add(a.ActorURI, *a)
}

// Forget drops the actor from the in-memory cache.
func (r *Resolver) Forget(uri string) {
	r.actors.Remove(uri)
}

// Resolve returns the actor with the given URI from the cache, the store, or
// its origin, in that order. Fetched actors of blocked servers are refused.
func (r *Resolver) Resolve(ctx context.Context, uri string) (*domain.Actor, error) {
	if cached, ok := r.actors.Get(uri); ok {
		cacheRequests.WithLabelValues("actor", "hit").Inc()
		return &cached, nil
	}
	cacheRequests.WithLabelValues("actor", "miss").Inc()

	stored, err := r.db.ReadActorByURI(ctx, uri)
	if err == nil {
		r.remember(stored)
		return stored, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	doc, err := r.fetchPerson(ctx, uri)
	if err != nil {
		actorFetches.WithLabelValues("error").Inc()
		return nil, err
	}

	server, err := r.ResolveServer(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if server.Blocked() {
		actorFetches.WithLabelValues("blocked").Inc()
		return nil, fmt.Errorf("%w: %s", ErrServerBlocked, server.ServerName)
	}

	actor := personToActor(doc, server.ServerName)
	if err := r.db.UpsertRemoteActor(ctx, actor); err != nil {
		return nil, fmt.Errorf("failed to store remote actor: %w", err)
	}
	actorFetches.WithLabelValues("success").Inc()
	r.remember(actor)
	log.Info().Str("actor", actor.ActorURI).Msg("Resolver: stored new remote actor")

	if actor.BookwyrmUser && actor.OutboxURI != "" && r.jobs != nil {
		if _, err := r.jobs.Enqueue(ctx, jobs.ActorImportOutbox, ImportOutboxPayload{ActorURI: actor.ActorURI}); err != nil {
			log.Warn().Err(err).Str("actor", actor.ActorURI).Msg("Resolver: failed to schedule outbox import")
		}
	}
	return actor, nil
}

// Refresh re-fetches a known remote actor and overwrites its mutable fields.
// The id and canonical URI never change.
func (r *Resolver) Refresh(ctx context.Context, actor *domain.Actor) (*domain.Actor, error) {
	if actor.Local {
		return nil, fmt.Errorf("%w: refusing to refresh local actor %s", ErrActorUnreachable, actor.ActorURI)
	}
	doc, err := r.fetchPerson(ctx, actor.ActorURI)
	if err != nil {
		actorFetches.WithLabelValues("error").Inc()
		return nil, err
	}
	actorFetches.WithLabelValues("refresh").Inc()

	refreshed := *actor
	applyPerson(&refreshed, doc)
	if err := r.db.UpsertRemoteActor(ctx, &refreshed); err != nil {
		return nil, fmt.Errorf("failed to store remote actor: %w", err)
	}
	r.remember(&refreshed)
	log.Debug().Str("actor", refreshed.ActorURI).Msg("Resolver: refreshed remote actor")
	return &refreshed, nil
}

// Store persists profile changes received through an Update and re-caches the actor.
func (r *Resolver) Store(ctx context.Context, actor *domain.Actor, doc *Person) (*domain.Actor, error) {
	updated := *actor
	applyPerson(&updated, doc)
	if err := r.db.UpsertRemoteActor(ctx, &updated); err != nil {
		return nil, err
	}
	r.remember(&updated)
	return &updated, nil
}

func (r *Resolver) fetchPerson(ctx context.Context, uri string) (*Person, error) {
	var doc Person
	if err := r.getJSON(ctx, uri, ContentTypeActivityJSON, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrActorUnreachable, err)
	}
	if doc.ID != uri {
		return nil, fmt.Errorf("%w: requested %s, got %s", ErrActorIdentityMismatch, uri, doc.ID)
	}
	if doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("%w: actor %s missing required fields", ErrActorUnreachable, uri)
	}
	return &doc, nil
}

func personToActor(doc *Person, serverName string) *domain.Actor {
	a := &domain.Actor{
		ActorURI: doc.ID,
		Domain:   serverName,
	}
	applyPerson(a, doc)
	return a
}

// applyPerson copies the mutable fields of doc onto a.
func applyPerson(a *domain.Actor, doc *Person) {
	a.Username = doc.PreferredUsername
	if a.Username == "" {
		a.Username = extractUsername(doc.ID)
	}
	a.DisplayName = doc.Name
	a.Summary = doc.Summary
	a.InboxURI = doc.Inbox
	a.OutboxURI = doc.Outbox
	a.SharedInboxURI = ""
	if doc.Endpoints != nil {
		a.SharedInboxURI = doc.Endpoints.SharedInbox
	}
	a.PublicKeyPem = doc.PublicKey.PublicKeyPem
	a.ManuallyApprovesFollowers = doc.ManuallyApprovesFollowers
	a.BookwyrmUser = doc.BookwyrmUser
	a.LastFetchedAt = time.Now().UTC()
}

// extractDomain extracts the host from a URI
// Example: "https://books.example/user/alice" -> "books.example"
func extractDomain(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid uri: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid uri: %q has no host", uri)
	}
	return parsed.Host, nil
}

// extractUsername extracts username from various URI formats
// Examples:
// - "https://example.com/user/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func extractUsername(uri string) string {
	parts := strings.Split(strings.TrimRight(uri, "/"), "/")
	if len(parts) > 0 {
		return strings.TrimPrefix(parts[len(parts)-1], "@")
	}
	return ""
}
