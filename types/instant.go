package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Instant is a point in time that is always held in UTC.
// The only way to build one is through At or Now, so a zone-less or
// local-zone timestamp can never be compared against a UTC one.
type Instant struct {
	t time.Time
}

// At converts t into an Instant.
func At(t time.Time) Instant {
	if t.IsZero() {
		return Instant{}
	}
	return Instant{t: t.UTC()}
}

// Now returns the current Instant.
func Now() Instant {
	return At(time.Now())
}

// Unix returns the Instant for the given unix seconds.
func Unix(sec int64) Instant {
	return At(time.Unix(sec, 0))
}

// Time returns the UTC time.Time.
func (i Instant) Time() time.Time {
	return i.t
}

func (i Instant) IsZero() bool {
	return i.t.IsZero()
}

func (i Instant) Before(other Instant) bool {
	return i.t.Before(other.t)
}

func (i Instant) After(other Instant) bool {
	return i.t.After(other.t)
}

func (i Instant) Equal(other Instant) bool {
	return i.t.Equal(other.t)
}

func (i Instant) Add(d time.Duration) Instant {
	return Instant{t: i.t.Add(d)}
}

func (i Instant) Sub(other Instant) time.Duration {
	return i.t.Sub(other.t)
}

func (i Instant) Unix() int64 {
	return i.t.Unix()
}

func (i Instant) String() string {
	if i.IsZero() {
		return ""
	}
	return i.t.Format(time.RFC3339Nano)
}

// ParseInstant parses an RFC 3339 timestamp. Offsets are honoured and the
// result is normalised to UTC.
func ParseInstant(value string) (Instant, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return Instant{}, err
	}
	return At(t), nil
}

func (i Instant) MarshalJSON() ([]byte, error) {
	if i.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(i.t.Format(time.RFC3339Nano))
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*i = Instant{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseInstant(raw)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer.
func (i Instant) Value() (driver.Value, error) {
	if i.IsZero() {
		return nil, nil
	}
	return i.t, nil
}

// Scan implements sql.Scanner. Drivers that hand back timestamps without a
// zone are read as UTC.
func (i *Instant) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Instant{}
	case time.Time:
		*i = At(v)
	case string:
		return i.scanText(v)
	case []byte:
		return i.scanText(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Instant", src)
	}
	return nil
}

func (i *Instant) scanText(value string) error {
	parsed, err := ParseInstant(value)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
