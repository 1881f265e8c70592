package activitypub

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyID = "https://remote.test/user/bob#main-key"

func signedRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://local.test/inbox", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", ContentTypeActivityJSON)
	require.NoError(t, SignRequest(req, testKeys()[1], testKeyID, body))
	return req
}

func TestParsePrivateKey(t *testing.T) {
	key := testKeys()[0]

	parsed, err := ParsePrivateKey(privateKeyToPEM(key))
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.N.Cmp(key.N))

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	parsed, err = ParsePrivateKey(string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})))
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.N.Cmp(key.N))
}

func TestParsePrivateKeyInvalidPEM(t *testing.T) {
	_, err := ParsePrivateKey("not a valid PEM")
	assert.Error(t, err)

	_, err = ParsePrivateKey("")
	assert.Error(t, err)
}

func TestParsePublicKey(t *testing.T) {
	key := testKeys()[0]

	parsed, err := ParsePublicKey(publicKeyToPEM(t, &key.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.N.Cmp(key.N))

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})
	parsed, err = ParsePublicKey(string(pkcs1))
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.N.Cmp(key.N))

	_, err = ParsePublicKey("not a valid PEM")
	assert.Error(t, err)
}

func TestParseSignatureHeader(t *testing.T) {
	sig, err := ParseSignatureHeader(`keyId="https://remote.test/user/bob#main-key",algorithm="rsa-sha256",headers="(request-target) host date digest",signature="YWJj"`)
	require.NoError(t, err)
	assert.Equal(t, testKeyID, sig.KeyID)
	assert.Equal(t, "rsa-sha256", sig.Algorithm)
	assert.Equal(t, []string{"(request-target)", "host", "date", "digest"}, sig.Headers)
	assert.Equal(t, "YWJj", sig.Signature)
	assert.True(t, sig.Covers("Digest"))
	assert.False(t, sig.Covers("content-type"))
}

func TestParseSignatureHeaderMalformed(t *testing.T) {
	tests := map[string]string{
		"empty":             "",
		"missing keyId":     `algorithm="rsa-sha256",headers="date",signature="YWJj"`,
		"missing signature": `keyId="https://remote.test/user/bob#main-key",headers="date"`,
		"missing headers":   `keyId="https://remote.test/user/bob#main-key",signature="YWJj"`,
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSignatureHeader(header)
			assert.ErrorIs(t, err, ErrMalformedSignature)
		})
	}
}

func TestDigest(t *testing.T) {
	body := []byte(`{"type":"Follow"}`)
	digest := Digest(body)
	assert.True(t, strings.HasPrefix(digest, "SHA-256="))
	assert.True(t, digestMatches(digest, body))
	assert.True(t, digestMatches("SHA-512=abc,"+digest, body))
	assert.False(t, digestMatches(digest, []byte(`{"type":"Like"}`)))
}

func TestSignRequestSetsHeaders(t *testing.T) {
	body := []byte(`{"type":"Follow"}`)
	req := signedRequest(t, body)

	assert.NotEmpty(t, req.Header.Get("Date"))
	assert.Equal(t, "local.test", req.Header.Get("Host"))
	assert.Equal(t, Digest(body), req.Header.Get("Digest"))

	sig, err := ParseSignatureHeader(req.Header.Get("Signature"))
	require.NoError(t, err)
	assert.Equal(t, testKeyID, sig.KeyID)
	assert.True(t, sig.Covers("(request-target)"))
	assert.True(t, sig.Covers("digest"))
}

func TestSignAndVerifyRoundtrip(t *testing.T) {
	body := []byte(`{"type":"Follow"}`)
	req := signedRequest(t, body)

	assert.NoError(t, verifyWithKey(req, publicKeyToPEM(t, &testKeys()[1].PublicKey)))
}

func TestVerifyDetectsTampering(t *testing.T) {
	pub := publicKeyToPEM(t, &testKeys()[1].PublicKey)

	t.Run("date", func(t *testing.T) {
		req := signedRequest(t, []byte(`{}`))
		req.Header.Set("Date", "Mon, 02 Jan 2006 15:04:05 GMT")
		assert.ErrorIs(t, verifyWithKey(req, pub), ErrInvalidSignature)
	})
	t.Run("path", func(t *testing.T) {
		req := signedRequest(t, []byte(`{}`))
		req.URL.Path = "/user/alice/inbox"
		assert.ErrorIs(t, verifyWithKey(req, pub), ErrInvalidSignature)
	})
	t.Run("wrong key", func(t *testing.T) {
		req := signedRequest(t, []byte(`{}`))
		other := publicKeyToPEM(t, &testKeys()[0].PublicKey)
		assert.ErrorIs(t, verifyWithKey(req, other), ErrInvalidSignature)
	})
	t.Run("invalid pem", func(t *testing.T) {
		req := signedRequest(t, []byte(`{}`))
		assert.ErrorIs(t, verifyWithKey(req, "garbage"), ErrInvalidSignature)
	})
}
