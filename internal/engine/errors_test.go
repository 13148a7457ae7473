package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/wellness-sync-engine/internal/types"
)

func TestClassifyRemote(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"unauthorized", ErrUnauthorized, KindAuth},
		{"wrapped unauthorized", fmt.Errorf("list profiles: %w", ErrUnauthorized), KindAuth},
		{"pg invalid authorization", &pgconn.PgError{Code: "28000"}, KindAuth},
		{"pg invalid password", &pgconn.PgError{Code: "28P01"}, KindAuth},
		{"pg insufficient privilege", &pgconn.PgError{Code: "42501"}, KindAuth},
		{"pg serialization failure", &pgconn.PgError{Code: "40001"}, KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"cancellation", context.Canceled, KindTransient},
		{"decode failure", &DecodeError{Collection: types.CollectionProfiles, ID: "p-1", Err: errors.New("bad json")}, KindSerialization},
		{"anything else", errors.New("connection refused"), KindTransient},
	}
	for _, tc := range cases {
		if got := classifyRemote(tc.err); got != tc.want {
			t.Fatalf("%s: classified as %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestSyncErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	syncErr := &SyncError{Collection: types.CollectionDailyLogs, Kind: KindTransient, Err: cause}

	if !errors.Is(syncErr, cause) {
		t.Fatal("SyncError must unwrap to its cause")
	}
	msg := syncErr.Error()
	if msg == "" || msg == cause.Error() {
		t.Fatalf("error message should carry collection and kind: %q", msg)
	}
}
