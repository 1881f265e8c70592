package web

import (
	"context"
	"fmt"

	"github.com/deemkeen/bookfed/activitypub"
	"github.com/deemkeen/bookfed/db"
)

// GetActor returns the Person document of an active local user.
func GetActor(ctx context.Context, database *db.DB, username string) (*activitypub.Person, error) {
	acc, err := database.ReadLocalActorByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !acc.Active {
		return nil, fmt.Errorf("user %s is inactive", username)
	}
	return activitypub.ActorDocument(acc), nil
}
