package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is fixed width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Timestamp formats t for storage.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Fields splits a document into its top-level members, keeping each value
// as raw JSON.
func Fields(doc json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	return fields, nil
}

// StringField reads a top-level string member, "" when absent.
func StringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Stamp assigns an id and created_date to a new document when missing.
func Stamp(doc json.RawMessage, now time.Time) (json.RawMessage, map[string]json.RawMessage, error) {
	fields, err := Fields(doc)
	if err != nil {
		return nil, nil, err
	}
	if StringField(fields, "id") == "" {
		fields["id"] = mustRaw(uuid.NewString())
	}
	if StringField(fields, "created_date") == "" {
		fields["created_date"] = mustRaw(Timestamp(now))
	}
	out, err := json.Marshal(fields)
	return out, fields, err
}

// Merge overlays patch onto doc member by member and refreshes
// updated_date. The id and created_date members cannot be patched.
func Merge(doc json.RawMessage, patch Patch, now time.Time) (json.RawMessage, error) {
	fields, err := Fields(doc)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		if k == "id" || k == "created_date" {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		fields[k] = raw
	}
	fields["updated_date"] = mustRaw(Timestamp(now))
	return json.Marshal(fields)
}

// Matches reports whether every filter member equals the document member.
func Matches(fields map[string]json.RawMessage, f Filter) bool {
	for k, want := range f {
		raw, ok := fields[k]
		if !ok {
			return false
		}
		var got any
		if err := json.Unmarshal(raw, &got); err != nil {
			return false
		}
		if !reflect.DeepEqual(got, normalize(want)) {
			return false
		}
	}
	return true
}

// normalize round-trips v through JSON so Go values compare like decoded ones.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// SortSpec is a parsed sort expression such as "-created_date".
type SortSpec struct {
	Field string
	Desc  bool
}

// ParseSort parses "field" or "-field"; "" means insertion order.
func ParseSort(s string) SortSpec {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return SortSpec{Field: s[1:], Desc: true}
	}
	return SortSpec{Field: s}
}

// Doc pairs a raw document with its decoded members.
type Doc struct {
	Raw    json.RawMessage
	Fields map[string]json.RawMessage
}

// SortDocs orders docs by one member; numbers compare numerically, anything
// else as its JSON text. The sort is stable.
func SortDocs(docs []Doc, spec SortSpec) {
	if spec.Field == "" {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		c := compareRaw(docs[i].Fields[spec.Field], docs[j].Fields[spec.Field])
		if spec.Desc {
			return c > 0
		}
		return c < 0
	})
}

func compareRaw(a, b json.RawMessage) int {
	var fa, fb float64
	if json.Unmarshal(a, &fa) == nil && json.Unmarshal(b, &fb) == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return bytes.Compare(a, b)
}

// Limit truncates docs to n entries when n > 0.
func Limit(docs []Doc, n int) []Doc {
	if n > 0 && len(docs) > n {
		return docs[:n]
	}
	return docs
}

// Raws returns the raw documents of docs.
func Raws(docs []Doc) []json.RawMessage {
	out := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		out[i] = d.Raw
	}
	return out
}

func mustRaw(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
