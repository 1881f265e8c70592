package activitypub

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/deemkeen/bookfed/domain"
	"github.com/google/uuid"
)

func rawJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// newID mints an id for an outbound activity: "{actor}#{kind}/{uuid}".
func newID(actor *domain.Actor, kind string) string {
	return actor.ActorURI + "#" + kind + "/" + uuid.NewString()
}

func newActivity(actor *domain.Actor, activityType, id string, object any) *Activity {
	return &Activity{
		Context: ContextActivityStreams,
		ID:      id,
		Type:    activityType,
		Actor:   actor.ActorURI,
		Object:  rawJSON(object),
	}
}

// addressing returns to/cc for privacy, BookWyrm style.
func addressing(actor *domain.Actor, privacy domain.Privacy, mentions []*domain.Actor) (StringList, StringList) {
	followers := actor.ActorURI + "/followers"
	var to, cc StringList
	switch privacy {
	case domain.PrivacyPublic:
		to, cc = StringList{PublicCollection}, StringList{followers}
	case domain.PrivacyUnlisted:
		to, cc = StringList{followers}, StringList{PublicCollection}
	case domain.PrivacyFollowers:
		to = StringList{followers}
	}
	for _, m := range mentions {
		if privacy == domain.PrivacyDirect {
			to = append(to, m.ActorURI)
		} else {
			cc = append(cc, m.ActorURI)
		}
	}
	return to, cc
}

func isPublic(s string) bool {
	return s == PublicCollection || s == "as:Public" || s == "Public"
}

// privacyFrom derives the privacy of an inbound status from its addressing.
func privacyFrom(to, cc StringList) domain.Privacy {
	for _, s := range to {
		if isPublic(s) {
			return domain.PrivacyPublic
		}
	}
	for _, s := range cc {
		if isPublic(s) {
			return domain.PrivacyUnlisted
		}
	}
	for _, s := range append(append(StringList{}, to...), cc...) {
		if strings.HasSuffix(s, "/followers") {
			return domain.PrivacyFollowers
		}
	}
	return domain.PrivacyDirect
}

func NewFollow(follower, target *domain.Actor, id string) *Activity {
	return newActivity(follower, "Follow", id, target.ActorURI)
}

// NewAccept accepts follow on behalf of the followed local actor.
func NewAccept(local *domain.Actor, follow *Activity) *Activity {
	return newActivity(local, "Accept", newID(local, "accepts"), follow)
}

func NewReject(local *domain.Actor, follow *Activity) *Activity {
	return newActivity(local, "Reject", newID(local, "rejects"), follow)
}

func NewUndo(actor *domain.Actor, inner *Activity) *Activity {
	return newActivity(actor, "Undo", inner.ID+"/undo", inner)
}

func NewCreate(actor *domain.Actor, note *Note) *Activity {
	a := newActivity(actor, "Create", note.ID+"/activity", note)
	a.To, a.Cc = note.To, note.Cc
	return a
}

func NewDelete(actor *domain.Actor, status *domain.Status) *Activity {
	tombstone := Tombstone{ID: status.URI, Type: "Tombstone", Deleted: time.Now().UTC().Format(time.RFC3339)}
	a := newActivity(actor, "Delete", status.URI+"/activity", tombstone)
	a.To = StringList{PublicCollection}
	return a
}

func NewLike(actor *domain.Actor, status *domain.Status, id string) *Activity {
	return newActivity(actor, "Like", id, status.URI)
}

func NewAnnounce(actor *domain.Actor, status *domain.Status, id string) *Activity {
	a := newActivity(actor, "Announce", id, status.URI)
	a.To, a.Cc = addressing(actor, domain.PrivacyPublic, nil)
	return a
}

func NewBlock(actor, target *domain.Actor, id string) *Activity {
	return newActivity(actor, "Block", id, target.ActorURI)
}

// NewAdd adds object to the collection at target.
func NewAdd(actor *domain.Actor, object any, target string) *Activity {
	a := newActivity(actor, "Add", newID(actor, "add"), object)
	a.Target = rawJSON(target)
	return a
}

// StatusNote renders a stored status as its ActivityPub object.
func StatusNote(author *domain.Actor, status *domain.Status, parent *domain.Status, book *domain.Book, mentions []*domain.Actor) *Note {
	to, cc := addressing(author, status.Privacy, mentions)
	note := &Note{
		ID:           status.URI,
		Type:         string(status.Type),
		AttributedTo: author.ActorURI,
		Name:         status.Name,
		Content:      status.Content,
		Quote:        status.Quote,
		Rating:       status.Rating,
		Published:    status.Published.UTC().Format(time.RFC3339),
		To:           to,
		Cc:           cc,
	}
	if parent != nil {
		note.InReplyTo = parent.URI
	}
	if book != nil {
		note.InReplyToBook = book.URI
	}
	for _, m := range mentions {
		note.Tag = append(note.Tag, Link{Type: "Mention", Href: m.ActorURI, Name: "@" + m.Username + "@" + m.Domain})
	}
	return note
}
