package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job is a persisted unit of background work. Payload is handler specific JSON.
type Job struct {
	Id          uuid.UUID
	Name        string
	Payload     []byte
	Attempts    int
	NextRunAt   time.Time
	LockedUntil time.Time
	CreatedAt   time.Time
}
