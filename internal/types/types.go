package types

import (
	"bytes"
	"encoding/json"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Identity is the authenticated principal that owns a set of records. All
// remote access is scoped to exactly one identity.
type Identity string

// RecordID identifies a record within its collection. IDs are generated
// locally with enough entropy that two devices of the same owner never
// collide; they are never reassigned.
type RecordID string

// Collection names one independently synchronized record family.
type Collection string

const (
	CollectionProfiles    Collection = "profiles"
	CollectionDailyLogs   Collection = "daily_logs"
	CollectionProgress    Collection = "progress_records"
	CollectionCabinet     Collection = "cabinet_items"
	CollectionEnrollments Collection = "program_enrollments"
)

// Collections lists every synchronized collection in the order the
// orchestrator visits them.
func Collections() []Collection {
	return []Collection{
		CollectionProfiles,
		CollectionDailyLogs,
		CollectionProgress,
		CollectionCabinet,
		CollectionEnrollments,
	}
}

// NewRecordID returns a fresh collision-resistant record identifier.
func NewRecordID() RecordID {
	return RecordID(uuid.NewString())
}

// Record is the envelope shared by all five collections. The sync engine
// treats Payload opaquely; only ID, Owner, UpdatedAt and Deleted drive the
// algorithm. Deletions travel as tombstones so they propagate instead of
// being resurrected by the other side.
type Record struct {
	ID        RecordID        `json:"id"`
	Owner     Identity        `json:"owner_identity"`
	UpdatedAt time.Time       `json:"updated_at"`
	Deleted   bool            `json:"deleted,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// EqualState reports whether two versions of the same record carry the same
// synchronized state. Used to skip writes that would be no-ops. Payloads are
// compared by JSON value, not by bytes: the remote store holds payload in a
// jsonb column that re-spaces and re-orders keys, so the text read back
// never byte-matches what was written.
func (r Record) EqualState(other Record) bool {
	return r.UpdatedAt.Equal(other.UpdatedAt) &&
		r.Deleted == other.Deleted &&
		equalPayload(r.Payload, other.Payload)
}

func equalPayload(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

// ProfilePayload is the mutable body of a profile record.
type ProfilePayload struct {
	DisplayName   string   `json:"display_name"`
	BirthYear     int      `json:"birth_year,omitempty"`
	SkinType      string   `json:"skin_type,omitempty"`
	Goals         []string `json:"goals,omitempty"`
	Sensitivities []string `json:"sensitivities,omitempty"`
}

// DailyLogPayload captures one day's self-reported log entry.
type DailyLogPayload struct {
	Date      string   `json:"date"`
	MoodScore int      `json:"mood_score,omitempty"`
	SleepHrs  float64  `json:"sleep_hours,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	Completed []string `json:"completed_steps,omitempty"`
}

// ProgressPayload is a dated measurement or photo checkpoint.
type ProgressPayload struct {
	Date      string  `json:"date"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	PhotoPath string  `json:"photo_path,omitempty"`
}

// CabinetItemPayload describes one product in the user's cabinet.
type CabinetItemPayload struct {
	Name        string   `json:"name"`
	Brand       string   `json:"brand,omitempty"`
	Category    string   `json:"category,omitempty"`
	Ingredients []string `json:"ingredients,omitempty"`
	OpenedAt    string   `json:"opened_at,omitempty"`
	Rating      int      `json:"rating,omitempty"`
}

// EnrollmentPayload tracks participation in a guided program.
type EnrollmentPayload struct {
	ProgramID   string `json:"program_id"`
	StartedAt   string `json:"started_at"`
	CurrentWeek int    `json:"current_week"`
	Paused      bool   `json:"paused,omitempty"`
}

// EncodePayload marshals a typed payload into the opaque form stored on a
// Record. It never fails for the payload types defined in this package.
func EncodePayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// DecodePayload unmarshals a record payload into the provided typed value.
func DecodePayload[P any](r Record) (P, error) {
	var p P
	err := json.Unmarshal(r.Payload, &p)
	return p, err
}
