package roundup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := Record{
		Key:   "k",
		Story: map[string][]string{"left": {"http://a"}, "right": {"http://b"}},
	}
	clone := orig.Clone()
	clone.Story["left"][0] = "Text A"
	clone.Story["center"] = []string{}

	require.Equal(t, "http://a", orig.Story["left"][0])
	_, hasCenter := orig.Story["center"]
	require.False(t, hasCenter)
	require.Equal(t, 2, orig.LinkCount())
}

func TestFailureSentinel(t *testing.T) {
	t.Parallel()

	s := FailureSentinel("https://example.com/x")
	require.Equal(t, "ARTICLE_FETCH_FAILED: https://example.com/x", s)
	require.True(t, IsFailureSentinel(s))
	require.False(t, IsFailureSentinel("Some article text"))
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "success", OutcomeSuccess.String())
	require.Equal(t, "soft_failure", OutcomeSoftFailure.String())
	require.Equal(t, "fatal_failure", OutcomeFatalFailure.String())
	require.Equal(t, "unknown", Outcome(42).String())
	require.ErrorIs(t, SoftFailure(nil).Err, ErrNoContent)
}
