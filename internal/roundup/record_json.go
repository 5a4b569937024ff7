package roundup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidStory marks a story whose bias categories are not lists of strings.
var ErrInvalidStory = errors.New("invalid story")

const (
	fieldKey      = "key"
	fieldHeadline = "headline"
	fieldSummary  = "summary"
	fieldStory    = "story"
	fieldSource   = "source"
)

// IsBias reports whether name is one of the processed bias categories.
func IsBias(name string) bool {
	for _, b := range Biases {
		if string(b) == name {
			return true
		}
	}
	return false
}

type recordHead struct {
	Key      string                     `json:"key,omitempty"`
	Headline string                     `json:"headline"`
	Summary  string                     `json:"summary"`
	Story    map[string]json.RawMessage `json:"story"`
	Source   string                     `json:"source,omitempty"`
}

// MarshalJSON writes the known fields first, then Extra members in name order.
// Story members are written in name order with StoryExtra values untouched.
func (r Record) MarshalJSON() ([]byte, error) {
	head := recordHead{Key: r.Key, Headline: r.Headline, Summary: r.Summary, Source: r.Source}
	if r.Story != nil || r.StoryExtra != nil {
		head.Story = make(map[string]json.RawMessage, len(r.Story)+len(r.StoryExtra))
		for name, raw := range r.StoryExtra {
			head.Story[name] = rawOrNull(raw)
		}
		for name, entries := range r.Story {
			if entries == nil {
				entries = []string{}
			}
			raw, err := json.Marshal(entries)
			if err != nil {
				return nil, fmt.Errorf("story.%s: %w", name, err)
			}
			head.Story[name] = raw
		}
	}
	data, err := json.Marshal(head)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(r.Extra))
	for name := range r.Extra {
		switch name {
		case fieldKey, fieldHeadline, fieldSummary, fieldStory, fieldSource:
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return data, nil
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.Write(data[:len(data)-1])
	for _, name := range names {
		quoted, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(quoted)
		buf.WriteByte(':')
		buf.Write(rawOrNull(r.Extra[name]))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes bias categories strictly: each must be a list of
// strings, and an explicit null is rejected rather than read as empty. Other
// members are kept raw. A missing or null story leaves Story nil.
func (r *Record) UnmarshalJSON(data []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	var out Record
	for name, raw := range members {
		var err error
		switch name {
		case fieldKey:
			err = json.Unmarshal(raw, &out.Key)
		case fieldHeadline:
			err = json.Unmarshal(raw, &out.Headline)
		case fieldSummary:
			err = json.Unmarshal(raw, &out.Summary)
		case fieldSource:
			err = json.Unmarshal(raw, &out.Source)
		case fieldStory:
			err = out.decodeStory(raw)
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[name] = raw
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	*r = out
	return nil
}

func (r *Record) decodeStory(raw json.RawMessage) error {
	if isNull(raw) {
		return nil
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return fmt.Errorf("%w: must be an object", ErrInvalidStory)
	}
	r.Story = make(map[string][]string, len(Biases))
	for name, value := range members {
		if !IsBias(name) {
			if r.StoryExtra == nil {
				r.StoryExtra = make(map[string]json.RawMessage)
			}
			r.StoryExtra[name] = value
			continue
		}
		links, err := decodeLinks(value)
		if err != nil {
			return fmt.Errorf("%w: %s %w", ErrInvalidStory, name, err)
		}
		r.Story[name] = links
	}
	return nil
}

func decodeLinks(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, errors.New("is null")
	}
	var entries []*string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.New("must be a list of strings")
	}
	links := make([]string, len(entries))
	for i, entry := range entries {
		if entry == nil {
			return nil, fmt.Errorf("entry %d is null", i)
		}
		links[i] = *entry
	}
	return links, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
