package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a service credential for callers of the pipeline API: the
// product backend enqueueing runs, or admin tooling reading status. The raw
// key is shown once at creation; only its bcrypt hash and the clear-text
// lookup prefix are stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
}

// Active reports whether the key may still authenticate.
func (k *APIKey) Active() bool {
	return k.RevokedAt == nil
}
