package activitypub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	ContextActivityStreams = "https://www.w3.org/ns/activitystreams"
	ContextSecurity        = "https://w3id.org/security/v1"
	PublicCollection       = "https://www.w3.org/ns/activitystreams#Public"

	ContentTypeActivityJSON = "application/activity+json"
	ContentTypeLDJSON       = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

// ErrInvalidActivity is returned by ParseActivity for structurally broken payloads.
var ErrInvalidActivity = errors.New("invalid activity")

// StringList is an addressing field that may be a single string or an array.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// Activity is the envelope of every inbound and outbound activity. Object and
// Target are kept raw: either a URI string or an embedded object.
type Activity struct {
	Context any             `json:"@context,omitempty"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object"`
	Target  json.RawMessage `json:"target,omitempty"`
	To      StringList      `json:"to,omitempty"`
	Cc      StringList      `json:"cc,omitempty"`
}

type wireActivity struct {
	Context any             `json:"@context"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   json.RawMessage `json:"actor"`
	Object  json.RawMessage `json:"object"`
	Target  json.RawMessage `json:"target"`
	To      StringList      `json:"to"`
	Cc      StringList      `json:"cc"`
}

// ParseActivity decodes an inbound payload. type, actor and object are required.
func ParseActivity(body []byte) (*Activity, error) {
	var w wireActivity
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActivity, err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidActivity)
	}
	actor := refID(w.Actor)
	if actor == "" {
		return nil, fmt.Errorf("%w: missing actor", ErrInvalidActivity)
	}
	if len(w.Object) == 0 || bytes.Equal(bytes.TrimSpace(w.Object), []byte("null")) {
		return nil, fmt.Errorf("%w: missing object", ErrInvalidActivity)
	}
	return &Activity{
		Context: w.Context,
		ID:      w.ID,
		Type:    w.Type,
		Actor:   actor,
		Object:  w.Object,
		Target:  w.Target,
		To:      w.To,
		Cc:      w.Cc,
	}, nil
}

// ObjectID returns the id of the object, whether embedded or referenced.
func (a *Activity) ObjectID() string {
	return refID(a.Object)
}

// ObjectType returns the type of an embedded object, or "" for a bare reference.
func (a *Activity) ObjectType() string {
	var head struct {
		Type string `json:"type"`
	}
	if !isJSONObject(a.Object) || json.Unmarshal(a.Object, &head) != nil {
		return ""
	}
	return head.Type
}

// TargetID returns the id of the target, whether embedded or referenced.
func (a *Activity) TargetID() string {
	return refID(a.Target)
}

// DecodeObject decodes an embedded object into v. It fails for bare references.
func (a *Activity) DecodeObject(v any) error {
	if !isJSONObject(a.Object) {
		return fmt.Errorf("%w: object is not embedded", ErrInvalidActivity)
	}
	return json.Unmarshal(a.Object, v)
}

func isJSONObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// refID extracts an id from a reference that is either a string or an object with an id.
func refID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	case '{':
		var head struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(raw, &head) == nil {
			return head.ID
		}
	}
	return ""
}

// splitKeyID returns the actor part of a key id ("https://x/user/a#main-key" -> "https://x/user/a").
func splitKeyID(keyID string) string {
	actor, _, _ := strings.Cut(keyID, "#")
	return actor
}

// PublicKey is the publicKey block of an actor document.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// Person is an actor document, served for local users and fetched for remote ones.
type Person struct {
	Context                   any        `json:"@context,omitempty"`
	ID                        string     `json:"id"`
	Type                      string     `json:"type"`
	PreferredUsername         string     `json:"preferredUsername"`
	Name                      string     `json:"name,omitempty"`
	Summary                   string     `json:"summary,omitempty"`
	Inbox                     string     `json:"inbox"`
	Outbox                    string     `json:"outbox,omitempty"`
	Followers                 string     `json:"followers,omitempty"`
	Endpoints                 *Endpoints `json:"endpoints,omitempty"`
	PublicKey                 PublicKey  `json:"publicKey"`
	ManuallyApprovesFollowers bool       `json:"manuallyApprovesFollowers"`
	BookwyrmUser              bool       `json:"bookwyrmUser"`
	Discoverable              bool       `json:"discoverable,omitempty"`
}

// Link is an entry of a status' tag list.
type Link struct {
	Type string `json:"type"`
	Href string `json:"href,omitempty"`
	Name string `json:"name,omitempty"`
}

// Note covers every status type: Note, GeneratedNote, Comment, Quotation and Review.
type Note struct {
	Context       any        `json:"@context,omitempty"`
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	AttributedTo  string     `json:"attributedTo"`
	Name          string     `json:"name,omitempty"`
	Content       string     `json:"content"`
	Quote         string     `json:"quote,omitempty"`
	Rating        float64    `json:"rating,omitempty"`
	InReplyTo     string     `json:"inReplyTo,omitempty"`
	InReplyToBook string     `json:"inReplyToBook,omitempty"`
	Published     string     `json:"published,omitempty"`
	To            StringList `json:"to,omitempty"`
	Cc            StringList `json:"cc,omitempty"`
	Tag           []Link     `json:"tag,omitempty"`
}

// Tombstone replaces a deleted object.
type Tombstone struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Deleted string `json:"deleted,omitempty"`
}

// BookDocument is an Edition or Work.
type BookDocument struct {
	Context     any    `json:"@context,omitempty"`
	ID          string `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle,omitempty"`
	Description string `json:"description,omitempty"`
	Isbn13      string `json:"isbn13,omitempty"`
}

// ShelfDocument is a user's shelf collection.
type ShelfDocument struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

// TagObject is the object of an Add activity that tags a book.
type TagObject struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	Name string `json:"name"`
}
