package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/wellness-sync-engine/internal/types"
)

// Kind classifies a sync failure so the presentation layer can react
// appropriately: transient failures wait for the next natural trigger, auth
// failures prompt re-authentication, the rest are surfaced as-is.
type Kind int

const (
	KindTransient Kind = iota
	KindAuth
	KindSerialization
	KindLocalStorage
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindSerialization:
		return "serialization"
	case KindLocalStorage:
		return "local_storage"
	default:
		return "unknown"
	}
}

// ErrUnauthorized marks a remote rejection of the current identity. Stores
// wrap it so the engine can classify without knowing the transport.
var ErrUnauthorized = errors.New("remote store rejected identity")

// SyncError is the value form every collection failure is converted into.
// It is returned, never thrown upward, so one collection's outage cannot
// prevent the other collections from completing their cycles.
type SyncError struct {
	Collection types.Collection
	Kind       Kind
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %s: %v", e.Collection, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// classifyRemote maps an error from a remote store operation onto the
// taxonomy. Auth rejections take precedence; everything else from the wire
// is treated as transient and retried on the next natural sync trigger.
func classifyRemote(err error) Kind {
	if errors.Is(err, ErrUnauthorized) {
		return KindAuth
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28000", // invalid_authorization_specification
			"28P01", // invalid_password
			"42501": // insufficient_privilege
			return KindAuth
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return KindSerialization
	}

	return KindTransient
}

// DecodeError marks a malformed remote payload. List implementations skip
// the offending row and keep going; this type only reaches the engine when
// an entire response is undecodable.
type DecodeError struct {
	Collection types.Collection
	ID         types.RecordID
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s/%s: %v", e.Collection, e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
