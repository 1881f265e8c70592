package activitypub

import "errors"

var (
	ErrMalformedSignature    = errors.New("malformed signature")
	ErrActorMismatch         = errors.New("signing key does not belong to the activity actor")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrActorUnreachable      = errors.New("actor unreachable")
	ErrHostBackingOff        = errors.New("host is in backoff")
	ErrActorIdentityMismatch = errors.New("fetched document id does not match the requested uri")
	ErrServerBlocked         = errors.New("server is blocked")
	ErrUnsupportedActivity   = errors.New("unsupported activity")
)
