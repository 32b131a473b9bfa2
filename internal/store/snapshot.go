package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Entry holds the identifiers of one source. Flat sources use Flat; grouped
// sources keep one sequence per sub-key in Groups.
type Entry struct {
	Flat   []string
	Groups map[string][]string
}

// Grouped reports whether the entry tracks sub-keys.
func (e Entry) Grouped() bool {
	return e.Groups != nil
}

// MarshalJSON encodes flat entries as arrays and grouped entries as objects.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Groups != nil {
		return json.Marshal(e.Groups)
	}
	if e.Flat == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e.Flat)
}

// UnmarshalJSON accepts either form written by MarshalJSON.
func (e *Entry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*e = Entry{}
		return nil
	case data[0] == '{':
		groups := map[string][]string{}
		if err := json.Unmarshal(data, &groups); err != nil {
			return fmt.Errorf("decode grouped entry: %w", err)
		}
		*e = Entry{Groups: groups}
		return nil
	default:
		var flat []string
		if err := json.Unmarshal(data, &flat); err != nil {
			return fmt.Errorf("decode flat entry: %w", err)
		}
		*e = Entry{Flat: flat}
		return nil
	}
}

func (e Entry) clone() Entry {
	out := Entry{}
	if e.Flat != nil {
		out.Flat = append([]string(nil), e.Flat...)
	}
	if e.Groups != nil {
		out.Groups = make(map[string][]string, len(e.Groups))
		for k, v := range e.Groups {
			out.Groups[k] = append([]string(nil), v...)
		}
	}
	return out
}

// Snapshot maps source keys to their recorded identifiers.
type Snapshot map[string]Entry

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, e := range s {
		out[k] = e.clone()
	}
	return out
}

// Subscribers maps chat ids to display names; a nil name is allowed.
type Subscribers map[string]*string

// Clone returns a copy that shares no maps with s.
func (s Subscribers) Clone() Subscribers {
	out := make(Subscribers, len(s))
	for k, v := range s {
		if v != nil {
			name := *v
			v = &name
		}
		out[k] = v
	}
	return out
}
