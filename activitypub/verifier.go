package activitypub

import (
	"context"
	"fmt"
	"net/http"

	"github.com/deemkeen/bookfed/domain"
	"github.com/rs/zerolog/log"
)

// ActorResolver is what signature verification needs from the Resolver.
type ActorResolver interface {
	Resolve(ctx context.Context, uri string) (*domain.Actor, error)
	Refresh(ctx context.Context, actor *domain.Actor) (*domain.Actor, error)
}

// Verifier authenticates inbound requests by their HTTP signature.
type Verifier struct {
	resolver ActorResolver
}

func NewVerifier(resolver ActorResolver) *Verifier {
	return &Verifier{resolver: resolver}
}

// Verify checks that the request was signed by the activity's actor. A
// signature that fails against the stored key is retried once against a
// freshly fetched key, to cover key rotation.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, body []byte, activity *Activity) error {
	sig, err := ParseSignatureHeader(r.Header.Get("Signature"))
	if err != nil {
		return err
	}

	keyActor := splitKeyID(sig.KeyID)
	if keyActor != activity.Actor {
		return fmt.Errorf("%w: key %s, actor %s", ErrActorMismatch, sig.KeyID, activity.Actor)
	}

	actor, err := v.resolver.Resolve(ctx, keyActor)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrActorUnreachable, err)
	}

	if len(body) > 0 {
		digest := r.Header.Get("Digest")
		switch {
		case digest == "":
			return fmt.Errorf("%w: missing Digest header", ErrInvalidSignature)
		case !sig.Covers("digest"):
			return fmt.Errorf("%w: Digest header is not signed", ErrInvalidSignature)
		case !digestMatches(digest, body):
			return fmt.Errorf("%w: body does not match Digest", ErrInvalidSignature)
		}
	}

	return v.attemptInitial(ctx, r, actor)
}

func (v *Verifier) attemptInitial(ctx context.Context, r *http.Request, actor *domain.Actor) error {
	err := verifyWithKey(r, actor.PublicKeyPem)
	if err == nil {
		return nil
	}
	log.Debug().Err(err).Str("actor", actor.ActorURI).Msg("Inbox: signature failed with stored key, refreshing actor")

	refreshed, err := v.resolver.Refresh(ctx, actor)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrActorUnreachable, err)
	}
	return v.attemptAfterRefresh(r, actor.PublicKeyPem, refreshed)
}

// attemptAfterRefresh is the last attempt. An unchanged key cannot verify a
// signature it already rejected.
func (v *Verifier) attemptAfterRefresh(r *http.Request, previousKey string, actor *domain.Actor) error {
	if actor.PublicKeyPem == previousKey {
		return fmt.Errorf("%w: key unchanged after refresh", ErrInvalidSignature)
	}
	return verifyWithKey(r, actor.PublicKeyPem)
}
