package web

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deemkeen/bookfed/activitypub"
	"github.com/deemkeen/bookfed/backoff"
	"github.com/deemkeen/bookfed/cache"
	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/jobs"
	"github.com/deemkeen/bookfed/util"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerEnv struct {
	db     *db.DB
	key    *rsa.PrivateKey
	router *gin.Engine
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	conf := &util.AppConfig{}
	conf.Conf.SslDomain = "books.example"
	conf.Conf.MaxBodyBytes = 1 << 20
	conf.Conf.InboxRate = 100
	conf.Conf.InboxBurst = 100

	keys, err := util.GeneratePemKeypair()
	require.NoError(t, err)
	alice := activitypub.NewLocalActor(conf.BaseURL(), "alice", "Alice", keys.Public, keys.Private)
	require.NoError(t, database.CreateLocalActor(context.Background(), alice))

	remoteKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubBytes, err := x509.MarshalPKIXPublicKey(&remoteKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, database.UpsertRemoteActor(context.Background(), &domain.Actor{
		Username:     "bob",
		Domain:       "remote.test",
		ActorURI:     "https://remote.test/user/bob",
		InboxURI:     "https://remote.test/user/bob/inbox",
		OutboxURI:    "https://remote.test/user/bob/outbox",
		PublicKeyPem: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})),
	}))

	resolver := activitypub.NewResolver(database, jobs.NewQueue(database), backoff.NewTracker(cache.NewMemoryStore(100, time.Hour)), activitypub.ResolverOptions{Timeout: time.Second})
	registry := activitypub.NewRegistry(activitypub.NewHandlers(database, resolver))
	dispatcher := activitypub.NewDispatcher(database, activitypub.NewVerifier(resolver), registry, jobs.NewQueue(database), conf.Conf.MaxBodyBytes)

	return &routerEnv{db: database, key: remoteKey, router: NewRouter(conf, database, dispatcher)}
}

func (e *routerEnv) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func (e *routerEnv) postInbox(t *testing.T, path, body string, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://books.example"+path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", activitypub.ContentTypeActivityJSON)
	if signed {
		require.NoError(t, activitypub.SignRequest(req, e.key, "https://remote.test/user/bob#main-key", []byte(body)))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

const routerFollow = `{
	"@context": "https://www.w3.org/ns/activitystreams",
	"id": "https://remote.test/user/bob#follows/7",
	"type": "Follow",
	"actor": "https://remote.test/user/bob",
	"object": "https://books.example/user/alice"
}`

func TestActorDocument(t *testing.T) {
	env := newRouterEnv(t)

	w := env.get("/user/alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), activitypub.ContentTypeActivityJSON))

	var person activitypub.Person
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &person))
	assert.Equal(t, "https://books.example/user/alice", person.ID)
	assert.Equal(t, "https://books.example/user/alice/inbox", person.Inbox)
	assert.Equal(t, "https://books.example/user/alice#main-key", person.PublicKey.ID)
	require.NotNil(t, person.Endpoints)
	assert.Equal(t, "https://books.example/inbox", person.Endpoints.SharedInbox)

	assert.Equal(t, http.StatusNotFound, env.get("/user/nobody").Code)
}

func TestInactiveActorIsHidden(t *testing.T) {
	env := newRouterEnv(t)
	alice, err := env.db.ReadLocalActorByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NoError(t, env.db.DeactivateActor(context.Background(), alice.Id))

	assert.Equal(t, http.StatusNotFound, env.get("/user/alice").Code)
	assert.Equal(t, http.StatusNotFound, env.get("/.well-known/webfinger?resource=acct:alice@books.example").Code)
}

func TestWebfingerEndpoint(t *testing.T) {
	env := newRouterEnv(t)

	w := env.get("/.well-known/webfinger?resource=acct:alice@books.example")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/jrd+json")

	var resp activitypub.WebfingerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "acct:alice@books.example", resp.Subject)
	assert.Equal(t, "https://books.example/user/alice", resp.SelfLink())

	tests := []string{
		"/.well-known/webfinger?resource=acct:nobody@books.example",
		"/.well-known/webfinger?resource=acct:alice@elsewhere.example",
		"/.well-known/webfinger?resource=alice@books.example",
		"/.well-known/webfinger",
	}
	for _, path := range tests {
		w := env.get(path)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.JSONEq(t, `{"detail":"Not Found"}`, w.Body.String(), path)
	}
}

func TestNodeInfoEndpoints(t *testing.T) {
	env := newRouterEnv(t)

	w := env.get("/.well-known/nodeinfo")
	require.Equal(t, http.StatusOK, w.Code)
	var links activitypub.NodeInfoLinks
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &links))
	require.Len(t, links.Links, 1)
	assert.Equal(t, "https://books.example/nodeinfo/2.0", links.Links[0].Href)

	w = env.get("/nodeinfo/2.0")
	require.Equal(t, http.StatusOK, w.Code)
	var info activitypub.NodeInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, util.Name, info.Software.Name)
	assert.Equal(t, 1, info.Usage.Users.Total)
}

func TestInboxEndpoint(t *testing.T) {
	env := newRouterEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.postInbox(t, "/inbox", routerFollow, false).Code)
	assert.Equal(t, http.StatusNotFound, env.postInbox(t, "/user/nobody/inbox", routerFollow, true).Code)

	assert.Equal(t, http.StatusOK, env.postInbox(t, "/inbox", routerFollow, true).Code)
	assert.Equal(t, http.StatusOK, env.postInbox(t, "/user/alice/inbox", routerFollow, true).Code)

	queued, err := env.db.CountJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
}

func TestInboxRejectsLargeBody(t *testing.T) {
	env := newRouterEnv(t)

	body := `{"type":"Create","actor":"https://remote.test/user/bob","content":"` + strings.Repeat("x", 2<<20) + `"}`
	assert.Equal(t, http.StatusRequestEntityTooLarge, env.postInbox(t, "/inbox", body, false).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newRouterEnv(t)

	w := env.get("/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","version":"`+util.GetVersion()+`","queued_jobs":0}`, w.Body.String())

	w = env.get("/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
