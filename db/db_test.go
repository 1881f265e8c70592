package db

import (
	"context"
	"testing"
	"time"

	"github.com/deemkeen/bookfed/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestLocalActor(t *testing.T, db *DB, username string) *domain.Actor {
	t.Helper()
	a := &domain.Actor{
		Username:      username,
		Domain:        "books.example",
		ActorURI:      "https://books.example/user/" + username,
		InboxURI:      "https://books.example/user/" + username + "/inbox",
		PublicKeyPem:  "public",
		PrivateKeyPem: "private",
	}
	require.NoError(t, db.CreateLocalActor(context.Background(), a))
	return a
}

func createTestRemoteActor(t *testing.T, db *DB, domainName, username string) *domain.Actor {
	t.Helper()
	a := &domain.Actor{
		Username:       username,
		Domain:         domainName,
		ActorURI:       "https://" + domainName + "/user/" + username,
		InboxURI:       "https://" + domainName + "/user/" + username + "/inbox",
		SharedInboxURI: "https://" + domainName + "/inbox",
		PublicKeyPem:   "remote-public",
		LastFetchedAt:  time.Now().UTC(),
	}
	require.NoError(t, db.UpsertRemoteActor(context.Background(), a))
	return a
}

func TestOpenRunsMigrationsTwice(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.RunMigrations())
}

func TestCreateLocalActorAndRead(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	a := createTestLocalActor(t, db, "alice")

	byName, err := db.ReadLocalActorByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, a.Id, byName.Id)
	assert.True(t, byName.Local)
	assert.True(t, byName.Active)
	assert.Equal(t, "private", byName.PrivateKeyPem)

	byURI, err := db.ReadActorByURI(ctx, a.ActorURI)
	require.NoError(t, err)
	assert.Equal(t, a.Id, byURI.Id)

	byId, err := db.ReadActorById(ctx, a.Id)
	require.NoError(t, err)
	assert.Equal(t, "alice", byId.Username)

	n, err := db.CountLocalActors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReadActorNotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.ReadActorByURI(context.Background(), "https://nowhere.example/user/x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = db.ReadLocalActorByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpsertRemoteActorKeepsIdentity(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	a := createTestRemoteActor(t, db, "remote.example", "bob")
	originalId := a.Id

	refreshed := &domain.Actor{
		Username:     "bob",
		Domain:       "remote.example",
		ActorURI:     a.ActorURI,
		DisplayName:  "Bob Reader",
		InboxURI:     a.InboxURI,
		PublicKeyPem: "rotated",
	}
	require.NoError(t, db.UpsertRemoteActor(ctx, refreshed))
	assert.Equal(t, originalId, refreshed.Id)

	stored, err := db.ReadActorByURI(ctx, a.ActorURI)
	require.NoError(t, err)
	assert.Equal(t, originalId, stored.Id)
	assert.Equal(t, "rotated", stored.PublicKeyPem)
	assert.Equal(t, "Bob Reader", stored.DisplayName)
	assert.False(t, stored.Local)
}

func TestDeactivateActor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	a := createTestRemoteActor(t, db, "remote.example", "bob")
	require.NoError(t, db.DeactivateActor(ctx, a.Id))

	stored, err := db.ReadActorById(ctx, a.Id)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestServers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s, err := db.GetOrCreateServer(ctx, &domain.FederatedServer{ServerName: "remote.example", ApplicationType: "bookwyrm"})
	require.NoError(t, err)
	assert.Equal(t, domain.ServerFederated, s.Status)
	assert.False(t, s.Blocked())

	again, err := db.GetOrCreateServer(ctx, &domain.FederatedServer{ServerName: "remote.example", ApplicationType: "other"})
	require.NoError(t, err)
	assert.Equal(t, s.Id, again.Id)
	assert.Equal(t, "bookwyrm", again.ApplicationType)

	require.NoError(t, db.SetServerStatus(ctx, "remote.example", domain.ServerBlocked))
	blocked, err := db.ReadServerByName(ctx, "remote.example")
	require.NoError(t, err)
	assert.True(t, blocked.Blocked())

	require.NoError(t, db.SetServerStatus(ctx, "never-seen.example", domain.ServerBlocked))
	fresh, err := db.ReadServerByName(ctx, "never-seen.example")
	require.NoError(t, err)
	assert.True(t, fresh.Blocked())

	_, err = db.ReadServerByName(ctx, "unknown.example")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFollowRequestApproval(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	local := createTestLocalActor(t, db, "alice")
	remote := createTestRemoteActor(t, db, "remote.example", "bob")

	fr := &domain.FollowRequest{URI: "https://remote.example/follows/1", SubjectId: remote.Id, ObjectId: local.Id}
	created, err := db.CreateFollowRequest(ctx, fr)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &domain.FollowRequest{URI: "https://remote.example/follows/1", SubjectId: remote.Id, ObjectId: local.Id}
	created, err = db.CreateFollowRequest(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	follow, err := db.ApproveFollowRequest(ctx, fr)
	require.NoError(t, err)
	assert.Equal(t, fr.URI, follow.URI)

	_, err = db.ReadFollowRequestByPair(ctx, remote.Id, local.Id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := db.ReadFollowByPair(ctx, remote.Id, local.Id)
	require.NoError(t, err)
	assert.Equal(t, follow.Id, stored.Id)

	// Approving a request that is gone fails without touching the follow.
	_, err = db.ApproveFollowRequest(ctx, fr)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	followers, err := db.ReadFollowers(ctx, local.Id)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, remote.Id, followers[0].Id)
}

func TestBlockRemovesRelationships(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	local := createTestLocalActor(t, db, "alice")
	remote := createTestRemoteActor(t, db, "remote.example", "bob")

	_, err := db.CreateFollow(ctx, &domain.Follow{URI: "f1", SubjectId: remote.Id, ObjectId: local.Id})
	require.NoError(t, err)
	_, err = db.CreateFollow(ctx, &domain.Follow{URI: "f2", SubjectId: local.Id, ObjectId: remote.Id})
	require.NoError(t, err)

	created, err := db.CreateBlock(ctx, &domain.Block{URI: "b1", SubjectId: local.Id, ObjectId: remote.Id})
	require.NoError(t, err)
	assert.True(t, created)

	blocked, err := db.IsBlocked(ctx, remote.Id, local.Id)
	require.NoError(t, err)
	assert.True(t, blocked)

	_, err = db.ReadFollowByPair(ctx, remote.Id, local.Id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = db.ReadFollowByPair(ctx, local.Id, remote.Id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteRelationshipsOfActor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	local := createTestLocalActor(t, db, "alice")
	remote := createTestRemoteActor(t, db, "remote.example", "bob")

	_, err := db.CreateFollow(ctx, &domain.Follow{URI: "f1", SubjectId: remote.Id, ObjectId: local.Id})
	require.NoError(t, err)
	_, err = db.CreateFollowRequest(ctx, &domain.FollowRequest{URI: "r1", SubjectId: local.Id, ObjectId: remote.Id})
	require.NoError(t, err)

	require.NoError(t, db.DeleteRelationshipsOfActor(ctx, remote.Id))

	followers, err := db.ReadFollowers(ctx, local.Id)
	require.NoError(t, err)
	assert.Empty(t, followers)
	_, err = db.ReadFollowRequestByURI(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatusesAreUniqueByURI(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	remote := createTestRemoteActor(t, db, "remote.example", "bob")

	s := &domain.Status{URI: "https://remote.example/status/1", ActorId: remote.Id, Type: domain.StatusReview,
		Name: "Great", Content: "<p>loved it</p>", Rating: 4.5, Published: time.Now().UTC()}
	created, err := db.CreateStatus(ctx, s)
	require.NoError(t, err)
	assert.True(t, created)

	again := &domain.Status{URI: s.URI, ActorId: remote.Id, Type: domain.StatusReview}
	created, err = db.CreateStatus(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, uuid.Nil, again.Id)

	stored, err := db.ReadStatusByURI(ctx, s.URI)
	require.NoError(t, err)
	assert.Equal(t, s.Id, stored.Id)
	assert.Equal(t, domain.PrivacyPublic, stored.Privacy)
	assert.Equal(t, 4.5, stored.Rating)
	assert.False(t, stored.IsReply())
	assert.Equal(t, uuid.Nil, stored.BookId)
}

func TestSoftDeleteStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	remote := createTestRemoteActor(t, db, "remote.example", "bob")
	s := &domain.Status{URI: "https://remote.example/status/1", ActorId: remote.Id, Type: domain.StatusNote, Content: "hi"}
	_, err := db.CreateStatus(ctx, s)
	require.NoError(t, err)

	deleted, err := db.SoftDeleteStatus(ctx, s.Id)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = db.SoftDeleteStatus(ctx, s.Id)
	require.NoError(t, err)
	assert.False(t, deleted)

	stored, err := db.ReadStatusById(ctx, s.Id)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)
	require.NotNil(t, stored.DeletedAt)
	assert.Empty(t, stored.Content)

	list, err := db.ReadStatusesByActor(ctx, remote.Id, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFavoritesAndBoosts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	local := createTestLocalActor(t, db, "alice")
	remote := createTestRemoteActor(t, db, "remote.example", "bob")
	s := &domain.Status{URI: "https://books.example/status/1", ActorId: local.Id, Type: domain.StatusNote, Local: true}
	_, err := db.CreateStatus(ctx, s)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := db.CreateFavorite(ctx, &domain.Favorite{URI: "https://remote.example/like/1", ActorId: remote.Id, StatusId: s.Id})
		require.NoError(t, err)
		_, err = db.CreateBoost(ctx, &domain.Boost{URI: "https://remote.example/boost/1", ActorId: remote.Id, StatusId: s.Id})
		require.NoError(t, err)
	}

	favs, err := db.CountFavorites(ctx, s.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, favs)
	boosts, err := db.CountBoosts(ctx, s.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, boosts)

	removed, err := db.DeleteFavoriteByPair(ctx, remote.Id, s.Id)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = db.DeleteBoostByPair(ctx, remote.Id, s.Id)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = db.DeleteBoostByPair(ctx, remote.Id, s.Id)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestNotificationsAreUnique(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	local := createTestLocalActor(t, db, "alice")
	remote := createTestRemoteActor(t, db, "remote.example", "bob")

	n := func() *domain.Notification {
		return &domain.Notification{UserId: local.Id, Kind: domain.NotifyFollow, RelatedActorId: remote.Id}
	}
	created, err := db.CreateNotification(ctx, n())
	require.NoError(t, err)
	assert.True(t, created)
	created, err = db.CreateNotification(ctx, n())
	require.NoError(t, err)
	assert.False(t, created)

	list, err := db.ReadNotifications(ctx, local.Id, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.NotifyFollow, list[0].Kind)
	assert.Equal(t, uuid.Nil, list[0].RelatedStatusId)

	unread, err := db.CountUnreadNotifications(ctx, local.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	removed, err := db.DeleteNotification(ctx, n())
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestBooksShelvesAndTags(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	remote := createTestRemoteActor(t, db, "remote.example", "bob")

	book, err := db.CreateBook(ctx, &domain.Book{URI: "https://remote.example/book/1", Type: domain.BookEdition,
		Title: "Dune", Sync: true})
	require.NoError(t, err)
	assert.True(t, book.Sync)

	same, err := db.CreateBook(ctx, &domain.Book{URI: "https://remote.example/book/1", Type: domain.BookEdition, Title: "Other"})
	require.NoError(t, err)
	assert.Equal(t, book.Id, same.Id)
	assert.Equal(t, "Dune", same.Title)

	book.Title = "Dune Messiah"
	require.NoError(t, db.UpdateBook(ctx, book))
	stored, err := db.ReadBookByURI(ctx, book.URI)
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", stored.Title)

	shelf := &domain.Shelf{URI: "https://remote.example/user/bob/shelf/to-read", ActorId: remote.Id, Name: "To Read", Identifier: "to-read"}
	_, err = db.CreateShelf(ctx, shelf)
	require.NoError(t, err)
	readShelf, err := db.ReadShelfByURI(ctx, shelf.URI)
	require.NoError(t, err)

	added, err := db.AddBookToShelf(ctx, readShelf, book.Id)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = db.AddBookToShelf(ctx, readShelf, book.Id)
	require.NoError(t, err)
	assert.False(t, added)

	books, err := db.ReadShelfBooks(ctx, shelf.Id)
	require.NoError(t, err)
	require.Len(t, books, 1)

	tag, err := db.GetOrCreateTag(ctx, "scifi")
	require.NoError(t, err)
	tagAgain, err := db.GetOrCreateTag(ctx, "scifi")
	require.NoError(t, err)
	assert.Equal(t, tag.Id, tagAgain.Id)

	_, err = db.AddUserTag(ctx, remote.Id, book.Id, tag.Id)
	require.NoError(t, err)
	tags, err := db.ReadTagsForBook(ctx, remote.Id, book.Id)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "scifi", tags[0].Name)
}

func TestJobLeasing(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	job := &domain.Job{Name: "outbox.deliver", Payload: []byte(`{"inbox":"x"}`)}
	require.NoError(t, db.EnqueueJob(ctx, job, now))
	require.NoError(t, db.EnqueueJob(ctx, &domain.Job{Name: "later", Payload: []byte(`{}`)}, now.Add(time.Hour)))

	claimed, err := db.ClaimJobs(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, job.Id, claimed[0].Id)
	assert.Equal(t, `{"inbox":"x"}`, string(claimed[0].Payload))

	// Leased jobs are not handed out twice.
	claimed, err = db.ClaimJobs(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// An expired lease makes the job due again.
	claimed, err = db.ClaimJobs(ctx, now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, db.RescheduleJob(ctx, job.Id, now.Add(5*time.Minute)))
	claimed, err = db.ClaimJobs(ctx, now.Add(6*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempts)

	require.NoError(t, db.DeleteJob(ctx, job.Id))
	n, err := db.CountJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
