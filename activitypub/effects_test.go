package activitypub

import (
	"context"
	"errors"
	"testing"

	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectRunner(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.localActor(t, "alice", false)
	bob := env.remoteActor(t, "remote.test", "bob", "")
	status := env.status(t, alice, "https://local.test/user/alice/note/1")
	runner := NewEffectRunner(env.db, env.broadcaster, env.queue)

	n := domain.Notification{UserId: alice.Id, Kind: domain.NotifyFavorite, RelatedActorId: bob.Id, RelatedStatusId: status.Id}
	runner.Run(ctx, []Effect{
		Notify{Notification: n},
		ImportOutbox{ActorURI: bob.ActorURI},
	})

	notifications, err := env.db.ReadNotifications(ctx, alice.Id, 10)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, domain.NotifyFavorite, notifications[0].Kind)
	assert.Len(t, env.queue.named(jobs.ActorImportOutbox), 1)

	runner.Run(ctx, []Effect{Unnotify{Notification: n}})
	notifications, err = env.db.ReadNotifications(ctx, alice.Id, 10)
	require.NoError(t, err)
	assert.Empty(t, notifications)
}

func TestEffectRunnerContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.localActor(t, "alice", false)
	bob := env.remoteActor(t, "remote.test", "bob", "")
	env.queue.err = errors.New("queue down")
	runner := NewEffectRunner(env.db, env.broadcaster, env.queue)

	runner.Run(ctx, []Effect{
		ImportOutbox{ActorURI: bob.ActorURI},
		Notify{Notification: domain.Notification{UserId: alice.Id, Kind: domain.NotifyFollow, RelatedActorId: bob.Id}},
	})

	notifications, err := env.db.ReadNotifications(ctx, alice.Id, 10)
	require.NoError(t, err)
	assert.Len(t, notifications, 1)
}
