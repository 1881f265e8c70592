package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/deemkeen/bookfed/backoff"
	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type BroadcastOptions struct {
	// Direct recipients, typically mentions. They receive the activity at
	// every privacy level.
	Direct []*domain.Actor
	// Software restricts recipients to servers running it, e.g. "bookwyrm".
	Software string
	// IgnoreBlocks reaches recipients blocked by the sender. Only a Block
	// activity needs this.
	IgnoreBlocks bool
}

// DeliveryPayload is the payload of an outbox.deliver job. One job exists
// per physical inbox.
type DeliveryPayload struct {
	SenderId uuid.UUID       `json:"sender_id"`
	Inbox    string          `json:"inbox"`
	Server   string          `json:"server"`
	Activity json.RawMessage `json:"activity"`
}

// Broadcaster fans an outbound activity out to the inboxes of its recipients.
type Broadcaster struct {
	db      *db.DB
	tracker *backoff.Tracker
	jobs    jobs.Enqueuer
}

func NewBroadcaster(database *db.DB, tracker *backoff.Tracker, enqueuer jobs.Enqueuer) *Broadcaster {
	return &Broadcaster{db: database, tracker: tracker, jobs: enqueuer}
}

// Broadcast enqueues one delivery per distinct inbox and returns how many
// were queued.
func (b *Broadcaster) Broadcast(ctx context.Context, sender *domain.Actor, activity *Activity, privacy domain.Privacy, opts BroadcastOptions) (int, error) {
	if !sender.Local {
		return 0, fmt.Errorf("cannot broadcast on behalf of remote actor %s", sender.ActorURI)
	}
	raw, err := json.Marshal(activity)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal activity: %w", err)
	}

	recipients, err := b.recipients(ctx, sender, privacy, opts.Direct)
	if err != nil {
		return 0, err
	}

	servers := make(map[string]*domain.FederatedServer)
	inboxes := make(map[string]bool)
	queued := 0
	for _, r := range recipients {
		inbox := r.DeliveryInbox()
		if inbox == "" || inboxes[inbox] {
			continue
		}

		ok, err := b.deliverable(ctx, sender, r, opts, servers)
		if err != nil {
			return queued, err
		}
		if !ok {
			continue
		}
		inboxes[inbox] = true

		host, err := extractDomain(inbox)
		if err != nil {
			log.Warn().Err(err).Str("inbox", inbox).Msg("Outbox: skipping invalid inbox")
			continue
		}
		if b.tracker.ShouldSkip(ctx, host) {
			log.Debug().Str("host", host).Msg("Outbox: skipping host in backoff")
			continue
		}

		payload := DeliveryPayload{SenderId: sender.Id, Inbox: inbox, Server: r.Domain, Activity: raw}
		if _, err := b.jobs.Enqueue(ctx, jobs.OutboxDeliver, payload); err != nil {
			return queued, err
		}
		queued++
	}

	log.Debug().Str("type", activity.Type).Str("sender", sender.ActorURI).Int("deliveries", queued).Msg("Outbox: broadcast queued")
	return queued, nil
}

func (b *Broadcaster) recipients(ctx context.Context, sender *domain.Actor, privacy domain.Privacy, direct []*domain.Actor) ([]*domain.Actor, error) {
	var recipients []*domain.Actor
	if privacy != domain.PrivacyDirect {
		followers, err := b.db.ReadFollowers(ctx, sender.Id)
		if err != nil {
			return nil, err
		}
		for i := range followers {
			recipients = append(recipients, &followers[i])
		}
	}
	return append(recipients, direct...), nil
}

// deliverable filters out local, inactive and blocked recipients, and those
// on servers not running the wanted software.
func (b *Broadcaster) deliverable(ctx context.Context, sender, r *domain.Actor, opts BroadcastOptions, servers map[string]*domain.FederatedServer) (bool, error) {
	if r.Local || !r.Active {
		return false, nil
	}
	if !opts.IgnoreBlocks {
		blocked, err := b.db.IsBlocked(ctx, sender.Id, r.Id)
		if err != nil || blocked {
			return false, err
		}
	}

	server, seen := servers[r.Domain]
	if !seen {
		var err error
		server, err = b.db.ReadServerByName(ctx, r.Domain)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return false, err
		}
		servers[r.Domain] = server
	}
	if server.Blocked() {
		return false, nil
	}
	if opts.Software != "" && (server == nil || !strings.EqualFold(server.ApplicationType, opts.Software)) {
		return false, nil
	}
	return true, nil
}
