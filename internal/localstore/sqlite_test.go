package localstore

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/wellness-sync-engine/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := types.Record{
		ID:      types.NewRecordID(),
		Owner:   "user-1",
		Payload: types.EncodePayload(types.ProfilePayload{DisplayName: "Ada"}),
	}

	saved, err := s.Save(ctx, types.CollectionProfiles, rec)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.UpdatedAt.IsZero() {
		t.Fatal("save must stamp UpdatedAt")
	}

	got, err := s.Get(ctx, types.CollectionProfiles, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Owner != "user-1" || got.Deleted {
		t.Fatalf("unexpected record: %+v", got)
	}

	payload, err := types.DecodePayload[types.ProfilePayload](got)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.DisplayName != "Ada" {
		t.Fatalf("payload drifted: %+v", payload)
	}
}

func TestUpsertPreservesTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 2, 1, 8, 30, 0, 250000000, time.UTC)
	rec := types.Record{
		ID:        "d-1",
		Owner:     "user-1",
		UpdatedAt: at,
		Payload:   []byte(`{"notes":"as synced"}`),
	}
	if err := s.Upsert(ctx, types.CollectionDailyLogs, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Get(ctx, types.CollectionDailyLogs, "d-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Fatalf("upsert refreshed the timestamp: %v != %v", got.UpdatedAt, at)
	}
}

func TestSaveOverwritesExistingRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := types.Record{ID: "c-1", Owner: "user-1", Payload: []byte(`{"name":"vitamin d"}`)}
	first, err := s.Save(ctx, types.CollectionCabinet, rec)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}

	rec.Payload = []byte(`{"name":"vitamin d3"}`)
	second, err := s.Save(ctx, types.CollectionCabinet, rec)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if second.UpdatedAt.Before(first.UpdatedAt) {
		t.Fatal("successive saves must not move the timestamp backwards")
	}

	got, err := s.Get(ctx, types.CollectionCabinet, "c-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Payload) != `{"name":"vitamin d3"}` {
		t.Fatalf("row not overwritten: %s", got.Payload)
	}
}

func TestDeleteLeavesTombstone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := types.Record{ID: "e-1", Owner: "user-1", Payload: []byte(`{"program_id":"p"}`)}
	saved, err := s.Save(ctx, types.CollectionEnrollments, rec)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.Delete(ctx, types.CollectionEnrollments, "e-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := s.Get(ctx, types.CollectionEnrollments, "e-1")
	if err != nil {
		t.Fatalf("tombstone must remain readable: %v", err)
	}
	if !got.Deleted {
		t.Fatal("delete must mark the row, not remove it")
	}
	if got.UpdatedAt.Before(saved.UpdatedAt) {
		t.Fatal("delete must restamp the row")
	}

	// And the tombstone still lists.
	records, err := s.List(ctx, types.CollectionEnrollments)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || !records[0].Deleted {
		t.Fatalf("tombstone missing from listing: %+v", records)
	}
}

func TestPurgeLocalDataClearsEveryCollection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, collection := range types.Collections() {
		rec := types.Record{ID: types.NewRecordID(), Owner: "user-1", Payload: []byte(`{}`)}
		if _, err := s.Save(ctx, collection, rec); err != nil {
			t.Fatalf("seed %s: %v", collection, err)
		}
	}

	before, err := s.CountAll(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if before != len(types.Collections()) {
		t.Fatalf("expected %d seeded rows, got %d", len(types.Collections()), before)
	}

	if err := s.PurgeLocalData(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}

	after, err := s.CountAll(ctx)
	if err != nil {
		t.Fatalf("count after purge: %v", err)
	}
	if after != 0 {
		t.Fatalf("purge left %d rows behind", after)
	}
}

func TestListEmptyCollection(t *testing.T) {
	s := openTestStore(t)

	records, err := s.List(context.Background(), types.CollectionProgress)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty listing, got %d rows", len(records))
	}
}
