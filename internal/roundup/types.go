package roundup

import (
	"encoding/json"
	"strings"
	"time"
)

// Bias names an editorial slant group inside a roundup story.
type Bias string

// Bias categories processed by the pipeline, in processing order.
const (
	BiasLeft   Bias = "left"
	BiasCenter Bias = "center"
	BiasRight  Bias = "right"
)

// Biases lists the categories in the order links are fetched.
var Biases = []Bias{BiasLeft, BiasCenter, BiasRight}

// FailurePrefix marks a story entry whose article could not be fetched.
const FailurePrefix = "ARTICLE_FETCH_FAILED: "

// FailureSentinel returns the placeholder stored for a link that never yielded content.
func FailureSentinel(link string) string {
	return FailurePrefix + link
}

// IsFailureSentinel reports whether entry is a failure placeholder.
func IsFailureSentinel(entry string) bool {
	return strings.HasPrefix(entry, FailurePrefix)
}

// Record is a single roundup document. Before processing every bias entry is
// a URL; afterwards each entry holds article text or a failure sentinel.
//
// Story holds only the bias categories present in the document. Any other
// story member lands in StoryExtra and any other top-level member in Extra;
// both are written back byte for byte (see MarshalJSON).
type Record struct {
	Key        string
	Headline   string
	Summary    string
	Story      map[string][]string
	StoryExtra map[string]json.RawMessage
	Extra      map[string]json.RawMessage
	Source     string
}

// Clone returns a deep copy so processing never mutates the loaded original.
func (r Record) Clone() Record {
	out := r
	if r.Story != nil {
		out.Story = make(map[string][]string, len(r.Story))
		for k, v := range r.Story {
			out.Story[k] = append([]string{}, v...)
		}
	}
	out.StoryExtra = cloneRaw(r.StoryExtra)
	out.Extra = cloneRaw(r.Extra)
	return out
}

func cloneRaw(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// LinkCount returns the number of entries across the bias categories.
func (r Record) LinkCount() int {
	total := 0
	for _, bias := range Biases {
		total += len(r.Story[string(bias)])
	}
	return total
}

// ErrorRecord is the terminal outcome of a record that could not be processed.
type ErrorRecord struct {
	Path     string    `json:"path"`
	Key      string    `json:"key,omitempty"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Ref points at one input document.
type Ref struct {
	Key  string
	Path string
}

// Outcome classifies a single fetch attempt.
type Outcome int

// Fetch outcomes. SoftFailure is link-specific and retryable; FatalFailure
// means the worker itself can no longer be used.
const (
	OutcomeSuccess Outcome = iota
	OutcomeSoftFailure
	OutcomeFatalFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSoftFailure:
		return "soft_failure"
	case OutcomeFatalFailure:
		return "fatal_failure"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a fetch. Attempts is filled in by RetryPolicy.
type Result struct {
	Outcome  Outcome
	Text     string
	Err      error
	Attempts int
}

// Success wraps extracted text.
func Success(text string) Result {
	return Result{Outcome: OutcomeSuccess, Text: text}
}

// SoftFailure wraps a retryable, link-specific failure.
func SoftFailure(err error) Result {
	if err == nil {
		err = ErrNoContent
	}
	return Result{Outcome: OutcomeSoftFailure, Err: err}
}

// FatalFailure wraps a failure of the worker itself.
func FatalFailure(err error) Result {
	return Result{Outcome: OutcomeFatalFailure, Err: err}
}
