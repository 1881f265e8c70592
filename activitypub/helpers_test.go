package activitypub

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/bookfed/backoff"
	"github.com/deemkeen/bookfed/cache"
	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testKeys = sync.OnceValue(func() []*rsa.PrivateKey {
	keys := make([]*rsa.PrivateKey, 2)
	for i := range keys {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		keys[i] = key
	}
	return keys
})

// privateKeyToPEM converts private key to PEM string
func privateKeyToPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

// publicKeyToPEM converts public key to PEM string
func publicKeyToPEM(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: keyBytes}))
}

type queuedJob struct {
	Name    string
	Payload []byte
}

// recordingQueue is a jobs.Enqueuer that keeps jobs in memory.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []queuedJob
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, name string, payload any) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, queuedJob{Name: name, Payload: raw})
	return uuid.NewString(), nil
}

func (q *recordingQueue) named(name string) []queuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queuedJob
	for _, j := range q.jobs {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}

func (q *recordingQueue) deliveries(t *testing.T) []DeliveryPayload {
	t.Helper()
	var out []DeliveryPayload
	for _, j := range q.named("outbox.deliver") {
		var p DeliveryPayload
		require.NoError(t, json.Unmarshal(j.Payload, &p))
		out = append(out, p)
	}
	return out
}

type testEnv struct {
	db          *db.DB
	queue       *recordingQueue
	tracker     *backoff.Tracker
	resolver    *Resolver
	handlers    *Handlers
	broadcaster *Broadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	queue := &recordingQueue{}
	tracker := backoff.NewTracker(cache.NewMemoryStore(1000, time.Hour))
	resolver := NewResolver(database, queue, tracker, ResolverOptions{Timeout: 2 * time.Second, Scheme: "http"})
	return &testEnv{
		db:          database,
		queue:       queue,
		tracker:     tracker,
		resolver:    resolver,
		handlers:    NewHandlers(database, resolver),
		broadcaster: NewBroadcaster(database, tracker, queue),
	}
}

func (e *testEnv) localActor(t *testing.T, username string, manual bool) *domain.Actor {
	t.Helper()
	key := testKeys()[0]
	uri := "https://local.test/user/" + username
	a := &domain.Actor{
		Username:                  username,
		Domain:                    "local.test",
		ActorURI:                  uri,
		InboxURI:                  uri + "/inbox",
		OutboxURI:                 uri + "/outbox",
		SharedInboxURI:            "https://local.test/inbox",
		PublicKeyPem:              publicKeyToPEM(t, &key.PublicKey),
		PrivateKeyPem:             privateKeyToPEM(key),
		ManuallyApprovesFollowers: manual,
	}
	require.NoError(t, e.db.CreateLocalActor(context.Background(), a))
	return a
}

// remoteActor stores a remote actor at host/user/name. An empty shared inbox
// means the actor only has a personal inbox.
func (e *testEnv) remoteActor(t *testing.T, host, name, sharedInbox string) *domain.Actor {
	t.Helper()
	key := testKeys()[1]
	uri := "https://" + host + "/user/" + name
	a := &domain.Actor{
		Username:       name,
		Domain:         host,
		ActorURI:       uri,
		InboxURI:       uri + "/inbox",
		OutboxURI:      uri + "/outbox",
		SharedInboxURI: sharedInbox,
		PublicKeyPem:   publicKeyToPEM(t, &key.PublicKey),
	}
	require.NoError(t, e.db.UpsertRemoteActor(context.Background(), a))
	return a
}

func (e *testEnv) status(t *testing.T, author *domain.Actor, uri string) *domain.Status {
	t.Helper()
	s := &domain.Status{
		URI:       uri,
		ActorId:   author.Id,
		Type:      domain.StatusNote,
		Content:   "hello",
		Privacy:   domain.PrivacyPublic,
		Local:     author.Local,
		Published: time.Now().UTC(),
	}
	created, err := e.db.CreateStatus(context.Background(), s)
	require.NoError(t, err)
	require.True(t, created)
	return s
}

func (e *testEnv) follow(t *testing.T, follower, target *domain.Actor) {
	t.Helper()
	_, err := e.db.CreateFollow(context.Background(), &domain.Follow{
		URI:       follower.ActorURI + "#follows/" + uuid.NewString(),
		SubjectId: follower.Id,
		ObjectId:  target.Id,
	})
	require.NoError(t, err)
}

func mustParse(t *testing.T, body string) *Activity {
	t.Helper()
	a, err := ParseActivity([]byte(body))
	require.NoError(t, err)
	return a
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
