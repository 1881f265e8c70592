package activitypub

import (
	"context"
	"strings"

	"github.com/deemkeen/bookfed/domain"
)

// HandlerFunc applies one inbound activity. Handlers must be idempotent:
// the same activity may be delivered more than once.
type HandlerFunc func(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error)

// Route is a registry entry. Key is stable across restarts ("Follow",
// "Undo.Follow") and is what inbox jobs carry.
type Route struct {
	Key    string
	Handle HandlerFunc
}

// Registry maps activity types, and for some types the embedded object type,
// to handlers.
type Registry struct {
	routes map[string]map[string]Route
}

const anyObject = ""

func NewRegistry(h *Handlers) *Registry {
	r := &Registry{routes: make(map[string]map[string]Route)}

	r.add("Follow", anyObject, h.Follow)
	r.add("Accept", anyObject, h.Accept)
	r.add("Reject", anyObject, h.Reject)
	r.add("Create", anyObject, h.Create)
	r.add("Delete", anyObject, h.Delete)
	r.add("Like", anyObject, h.Like)
	r.add("Announce", anyObject, h.Announce)

	r.add("Undo", "Follow", h.UndoFollow)
	r.add("Undo", "Like", h.UndoLike)
	r.add("Undo", "Announce", h.UndoAnnounce)

	r.add("Add", "Tag", h.AddTag)
	r.add("Add", "Edition", h.AddBook)
	r.add("Add", "Work", h.AddBook)

	r.add("Update", "Person", h.UpdatePerson)
	r.add("Update", "Document", h.UpdateBook)
	r.add("Update", "Edition", h.UpdateBook)
	r.add("Update", "Work", h.UpdateBook)

	return r
}

func (r *Registry) add(activityType, objectType string, h HandlerFunc) {
	key := activityType
	if objectType != anyObject {
		key += "." + objectType
	}
	if r.routes[activityType] == nil {
		r.routes[activityType] = make(map[string]Route)
	}
	r.routes[activityType][objectType] = Route{Key: key, Handle: h}
}

// Lookup finds the route for an activity type and its embedded object type.
func (r *Registry) Lookup(activityType, objectType string) (Route, bool) {
	subs, ok := r.routes[activityType]
	if !ok {
		return Route{}, false
	}
	if route, ok := subs[anyObject]; ok {
		return route, true
	}
	if objectType == anyObject {
		return Route{}, false
	}
	route, ok := subs[objectType]
	return route, ok
}

// ByKey finds a route by its key.
func (r *Registry) ByKey(key string) (Route, bool) {
	activityType, objectType, _ := strings.Cut(key, ".")
	route, ok := r.Lookup(activityType, objectType)
	if !ok || route.Key != key {
		return Route{}, false
	}
	return route, true
}
