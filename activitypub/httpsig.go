package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
)

// SignedHeaders are the headers covered by outgoing signatures.
var SignedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}

// Signature is a parsed Signature header.
type Signature struct {
	KeyID     string
	Algorithm string
	Headers   []string
	Signature string
}

// Covers reports whether the named header is part of the signed string.
func (s *Signature) Covers(header string) bool {
	for _, h := range s.Headers {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

// ParseSignatureHeader parses `keyId="...",algorithm="...",headers="...",signature="..."`.
func ParseSignatureHeader(header string) (*Signature, error) {
	if header == "" {
		return nil, fmt.Errorf("%w: missing Signature header", ErrMalformedSignature)
	}

	params := make(map[string]string)
	for _, part := range splitParams(header) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		params[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}

	sig := &Signature{
		KeyID:     params["keyId"],
		Algorithm: params["algorithm"],
		Signature: params["signature"],
	}
	if h := params["headers"]; h != "" {
		sig.Headers = strings.Fields(strings.ToLower(h))
	}
	switch {
	case sig.KeyID == "":
		return nil, fmt.Errorf("%w: missing keyId", ErrMalformedSignature)
	case sig.Signature == "":
		return nil, fmt.Errorf("%w: missing signature", ErrMalformedSignature)
	case len(sig.Headers) == 0:
		return nil, fmt.Errorf("%w: missing headers", ErrMalformedSignature)
	}
	return sig, nil
}

// splitParams splits on commas outside of quoted values.
func splitParams(s string) []string {
	var parts []string
	inQuotes := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// Digest returns the Digest header value for body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// digestMatches checks a Digest header, which may list several algorithms, against body.
func digestMatches(header string, body []byte) bool {
	want := strings.TrimPrefix(Digest(body), "SHA-256=")
	for _, part := range strings.Split(header, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(algo, "SHA-256") && value == want {
			return true
		}
	}
	return false
}

// SignRequest signs an outgoing request with rsa-sha256 over
// (request-target) host date digest, adding the Date, Host and Digest headers.
// keyId format: "https://example.com/user/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyID string, body []byte) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	req.Header.Set("Host", req.URL.Host)
	if body == nil {
		body = []byte{}
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		SignedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	return signer.SignRequest(privateKey, keyID, req, body)
}

// verifyWithKey checks the request's signature against a PEM encoded public key.
func verifyWithKey(r *http.Request, publicKeyPem string) error {
	pub, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if r.Header.Get("Host") == "" {
		r.Header.Set("Host", r.Host)
	}
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if err := verifier.Verify(pub, httpsig.RSA_SHA256); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// ParsePrivateKey converts a PKCS#1 or PKCS#8 PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return rsaKey, nil
}

// ParsePublicKey converts a PKIX or PKCS#1 PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if block.Type == "RSA PUBLIC KEY" {
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		return key, nil
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
