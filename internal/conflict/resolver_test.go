package conflict

import (
	"testing"
	"time"

	"github.com/example/wellness-sync-engine/internal/types"
)

func rec(payload string, at time.Time) types.Record {
	return types.Record{
		ID:        "r-1",
		Owner:     "user-1",
		UpdatedAt: at,
		Payload:   []byte(payload),
	}
}

func TestResolveNewerRemoteWins(t *testing.T) {
	base := time.Now().UTC()
	local := rec(`{"v":"local"}`, base)
	remote := rec(`{"v":"remote"}`, base.Add(time.Second))

	winner := Resolve(local, remote)
	if string(winner.Payload) != `{"v":"remote"}` {
		t.Fatalf("expected remote to win, got %s", winner.Payload)
	}
}

func TestResolveNewerLocalWins(t *testing.T) {
	base := time.Now().UTC()
	local := rec(`{"v":"local"}`, base.Add(time.Second))
	remote := rec(`{"v":"remote"}`, base)

	winner := Resolve(local, remote)
	if string(winner.Payload) != `{"v":"local"}` {
		t.Fatalf("expected local to win, got %s", winner.Payload)
	}
}

func TestResolveTieKeepsLocal(t *testing.T) {
	at := time.Now().UTC()
	local := rec(`{"v":"local"}`, at)
	remote := rec(`{"v":"remote"}`, at)

	winner := Resolve(local, remote)
	if string(winner.Payload) != `{"v":"local"}` {
		t.Fatalf("tie must keep the local copy, got %s", winner.Payload)
	}

	// Same decision on every evaluation.
	for i := 0; i < 10; i++ {
		if again := Resolve(local, remote); string(again.Payload) != string(winner.Payload) {
			t.Fatal("tie-break is not deterministic")
		}
	}
}

func TestResolveWholeRecord(t *testing.T) {
	base := time.Now().UTC()
	local := rec(`{"a":1,"b":2}`, base)
	remote := rec(`{"a":9,"b":9}`, base.Add(time.Minute))

	winner := Resolve(local, remote)
	if string(winner.Payload) != `{"a":9,"b":9}` {
		t.Fatal("resolution must replace the whole record, not merge fields")
	}
	if !winner.UpdatedAt.Equal(remote.UpdatedAt) {
		t.Fatal("winner must keep its own timestamp")
	}
}

func TestResolveSentinelTimestampLoses(t *testing.T) {
	local := rec(`{"v":"local"}`, time.Time{})
	remote := rec(`{"v":"remote"}`, time.Now().UTC())

	winner := Resolve(local, remote)
	if string(winner.Payload) != `{"v":"remote"}` {
		t.Fatal("a record with the unparseable-timestamp sentinel must lose")
	}
}
