package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Reserved record keys. Client payloads never set these.
const (
	KeyType      = "type"
	KeyUser      = "user"
	KeyTS        = "ts"
	KeySessionID = "session_id"
)

// ErrInvalidRecord is returned when a JSON object is not a valid record.
var ErrInvalidRecord = errors.New("invalid event record")

// IsReserved reports whether key is owned by the record envelope.
func IsReserved(key string) bool {
	switch key {
	case KeyType, KeyUser, KeyTS, KeySessionID:
		return true
	default:
		return false
	}
}

// Record is one immutable fact in the event log.
type Record struct {
	Type      Kind
	User      string
	TS        float64 // seconds since epoch, fractional
	SessionID string  // set on connect and disconnect only

	// Extra holds client-supplied fields, never a reserved key.
	Extra map[string]any
}

// New builds a canonical record. Reserved keys in payload are dropped so a
// client can never forge identity, kind or time.
func New(kind Kind, user string, at time.Time, payload map[string]any) Record {
	rec := Record{
		Type: kind,
		User: user,
		TS:   Timestamp(at),
	}
	for k, v := range payload {
		if IsReserved(k) {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]any, len(payload))
		}
		rec.Extra[k] = v
	}
	return rec
}

// Timestamp converts t to fractional seconds since the epoch.
func Timestamp(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

// Time converts the record timestamp back to a time.Time.
// Sub-microsecond precision is not preserved.
func (r Record) Time() time.Time {
	sec := math.Floor(r.TS)
	nsec := math.Round((r.TS-sec)*1e6) * 1e3
	return time.Unix(int64(sec), int64(nsec))
}

// MarshalJSON writes the record as a single flat object.
// Keys are sorted and HTML escaping is disabled so the same record always
// produces the same bytes.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Extra)+4)
	for k, v := range r.Extra {
		if IsReserved(k) {
			continue
		}
		m[k] = v
	}
	m[KeyType] = string(r.Type)
	m[KeyUser] = r.User
	m[KeyTS] = r.TS
	if r.SessionID != "" {
		m[KeySessionID] = r.SessionID
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON parses a flat record object.
// Numbers in extra fields are kept as json.Number to avoid float rounding.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if m == nil {
		return fmt.Errorf("%w: not an object", ErrInvalidRecord)
	}

	kind, ok := m[KeyType].(string)
	if !ok || kind == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidRecord)
	}
	user, ok := m[KeyUser].(string)
	if !ok || user == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidRecord)
	}
	num, ok := m[KeyTS].(json.Number)
	if !ok {
		return fmt.Errorf("%w: missing ts", ErrInvalidRecord)
	}
	ts, err := num.Float64()
	if err != nil {
		return fmt.Errorf("%w: ts: %v", ErrInvalidRecord, err)
	}

	out := Record{Type: Kind(kind), User: user, TS: ts}
	if sid, ok := m[KeySessionID].(string); ok {
		out.SessionID = sid
	}
	for k, v := range m {
		if IsReserved(k) {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]any)
		}
		out.Extra[k] = v
	}
	*r = out
	return nil
}
