package activitypub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deemkeen/bookfed/jobs"
	"github.com/rs/zerolog/log"
)

// importTypes are the statuses worth pulling from a newly discovered
// BookWyrm user. Plain notes are conversational and are skipped.
var importTypes = map[string]bool{
	"Review":    true,
	"Comment":   true,
	"Quotation": true,
}

const importLimit = 20

type orderedCollection struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	First        json.RawMessage   `json:"first"`
	OrderedItems []json.RawMessage `json:"orderedItems"`
}

// Importer pulls the recent book statuses of a remote actor from its outbox.
type Importer struct {
	resolver *Resolver
	handlers *Handlers
}

func NewImporter(resolver *Resolver, handlers *Handlers) *Importer {
	return &Importer{resolver: resolver, handlers: handlers}
}

// Handle runs an actor.import_outbox job.
func (i *Importer) Handle(ctx context.Context, payload []byte) error {
	var p ImportOutboxPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return jobs.Permanent(fmt.Errorf("decode import: %w", err))
	}
	_, err := i.Import(ctx, p.ActorURI)
	return err
}

// Import stores up to importLimit reviews, comments and quotations from the
// first page of the actor's outbox and returns how many were stored.
// Historic statuses do not notify anyone.
func (i *Importer) Import(ctx context.Context, actorURI string) (int, error) {
	actor, err := i.resolver.Resolve(ctx, actorURI)
	if err != nil {
		return 0, err
	}
	if actor.Local || actor.OutboxURI == "" {
		return 0, nil
	}

	var outbox orderedCollection
	if err := i.resolver.getJSON(ctx, actor.OutboxURI, ContentTypeActivityJSON, &outbox); err != nil {
		return 0, fmt.Errorf("fetch outbox of %s: %w", actor.ActorURI, err)
	}
	items := outbox.OrderedItems
	if len(items) == 0 {
		page, err := i.firstPage(ctx, &outbox)
		if err != nil {
			return 0, err
		}
		items = page.OrderedItems
	}

	imported := 0
	for _, raw := range items {
		if imported >= importLimit {
			break
		}
		note, ok := outboxNote(raw)
		if !ok || !importTypes[note.Type] {
			continue
		}
		if _, err := i.handlers.storeStatus(ctx, actor, note); err != nil {
			log.Debug().Err(err).Str("status", note.ID).Msg("Import: skipping outbox item")
			continue
		}
		// storeStatus ignores statuses it does not accept.
		if _, err := i.handlers.db.ReadStatusByURI(ctx, note.ID); err != nil {
			continue
		}
		imported++
	}
	log.Info().Str("actor", actor.ActorURI).Int("statuses", imported).Msg("Import: imported outbox")
	return imported, nil
}

func (i *Importer) firstPage(ctx context.Context, outbox *orderedCollection) (*orderedCollection, error) {
	if isJSONObject(outbox.First) {
		var page orderedCollection
		if err := json.Unmarshal(outbox.First, &page); err != nil {
			return nil, jobs.Permanent(fmt.Errorf("decode outbox page: %w", err))
		}
		if len(page.OrderedItems) > 0 {
			return &page, nil
		}
	}
	pageURI := refID(outbox.First)
	if pageURI == "" {
		return &orderedCollection{}, nil
	}
	var page orderedCollection
	if err := i.resolver.getJSON(ctx, pageURI, ContentTypeActivityJSON, &page); err != nil {
		return nil, fmt.Errorf("fetch outbox page: %w", err)
	}
	return &page, nil
}

// outboxNote extracts the status from an outbox item, which is either a
// Create activity or the status itself.
func outboxNote(raw json.RawMessage) (*Note, bool) {
	if !isJSONObject(raw) {
		return nil, false
	}
	var item struct {
		Type   string          `json:"type"`
		Object json.RawMessage `json:"object"`
	}
	if json.Unmarshal(raw, &item) != nil {
		return nil, false
	}
	if item.Type == "Create" {
		if !isJSONObject(item.Object) {
			return nil, false
		}
		raw = item.Object
	}
	var note Note
	if json.Unmarshal(raw, &note) != nil || note.ID == "" {
		return nil, false
	}
	return &note, true
}
