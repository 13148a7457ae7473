package broadcast

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeFanout struct {
	owners  []string
	skipped []string
	payload []byte
}

func (f *fakeFanout) Notify(owner string, payload []byte, skipDeviceID string) int {
	f.owners = append(f.owners, owner)
	f.skipped = append(f.skipped, skipDeviceID)
	f.payload = payload
	return 1
}

func TestProcessHandsNoticeToFanout(t *testing.T) {
	fanout := &fakeFanout{}
	s := NewSubscriber(nil, fanout, zerolog.New(io.Discard))

	notice := Message{
		Owner:      "user-1",
		Collection: "daily_logs",
		DeviceID:   "device-a",
		EnqueuedAt: time.Now().UTC().UnixNano(),
	}
	encoded, err := json.Marshal(notice)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := s.process(&redis.Message{Payload: string(encoded)}); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(fanout.owners) != 1 || fanout.owners[0] != "user-1" {
		t.Fatalf("wrong owner routed: %v", fanout.owners)
	}
	if fanout.skipped[0] != "device-a" {
		t.Fatalf("originating device not passed through: %v", fanout.skipped)
	}
	if string(fanout.payload) != string(encoded) {
		t.Fatal("payload must be forwarded verbatim")
	}
}

func TestProcessRejectsMalformedNotice(t *testing.T) {
	fanout := &fakeFanout{}
	s := NewSubscriber(nil, fanout, zerolog.New(io.Discard))

	if err := s.process(&redis.Message{Payload: "not json"}); err == nil {
		t.Fatal("malformed payload must be rejected")
	}
	if err := s.process(&redis.Message{Payload: `{"collection":"daily_logs"}`}); err == nil {
		t.Fatal("notice without an owner must be rejected")
	}
	if len(fanout.owners) != 0 {
		t.Fatalf("rejected notices must not reach the fanout: %v", fanout.owners)
	}
}

func TestPublisherTopicIsOwnerScoped(t *testing.T) {
	p := NewPublisher(nil, "device-a", zerolog.New(io.Discard))
	if got := p.topic("user-1"); got != "sync:owner:user-1" {
		t.Fatalf("unexpected topic: %s", got)
	}
}
