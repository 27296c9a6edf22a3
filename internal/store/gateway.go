// Package store provides the persistence gateway: a write-behind mirror of
// the in-memory world state. The simulation never waits on it and never
// trusts it over its own registries; it is a cold-start seed source and a
// best-effort durable copy.
package store

import "context"

// Kind names an entity table in the gateway.
type Kind string

const (
	KindBeacon   Kind = "beacon"
	KindWarmth   Kind = "warmth"
	KindEvent    Kind = "event"
	KindGuardian Kind = "guardian"
	KindProgress Kind = "progress"
)

// Record is one persisted entity: an opaque JSON snapshot keyed by id.
type Record struct {
	ID       string `db:"id"`
	Snapshot []byte `db:"snapshot"`
}

// Gateway is the save/load contract the simulation consumes. Errors are
// logged by callers, never propagated into a tick path.
type Gateway interface {
	LoadAll(ctx context.Context, kind Kind) ([]Record, error)
	Upsert(ctx context.Context, kind Kind, id string, snapshot []byte) error
	Delete(ctx context.Context, kind Kind, id string) error
	Close() error
}
