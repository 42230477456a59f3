package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetKeyIsSymmetric(t *testing.T) {
	assert.Equal(t, TargetKey(TargetUser, "a", "b"), TargetKey(TargetUser, "b", "a"))
	assert.Equal(t, "g;group", TargetKey(TargetGroup, "g", "a"))
	assert.Equal(t, "g;group", TargetKey(TargetGroup, "g", ""))
}

// TestStoreQuerySymmetry checks both participants see the same conversation.
func TestStoreQuerySymmetry(t *testing.T) {
	s := NewStore()
	s.Append(Message{From: "a", To: "b", Body: "1", TargetType: TargetUser})
	s.Append(Message{From: "b", To: "a", Body: "2", TargetType: TargetUser})
	s.Append(Message{From: "a", To: "c", Body: "other", TargetType: TargetUser})
	s.Append(Message{From: "a", To: "b", Body: "3", TargetType: TargetUser})

	ab := s.Query("a", "b", TargetUser)
	ba := s.Query("b", "a", TargetUser)

	require.Len(t, ab, 3)
	assert.Equal(t, ab, ba)
	assert.Equal(t, []string{"1", "2", "3"}, bodies(ab))
}

func TestStoreQueryDoesNotMatchSubstrings(t *testing.T) {
	s := NewStore()
	s.Append(Message{From: "ab", To: "c", Body: "x", TargetType: TargetUser})

	assert.Empty(t, s.Query("a", "c", TargetUser))
	assert.Len(t, s.Query("c", "ab", TargetUser), 1)
}

func TestStoreGroupQuery(t *testing.T) {
	s := NewStore()
	s.Append(Message{From: "a", To: "g", Body: "hello team", TargetType: TargetGroup})
	s.Append(Message{From: "b", To: "g", Body: "hi", TargetType: TargetGroup})
	s.Append(Message{From: "a", To: "g", Body: "direct", TargetType: TargetUser})
	s.Append(Message{From: "a", To: "h", Body: "elsewhere", TargetType: TargetGroup})

	got := s.Query("g", "", TargetGroup)
	assert.Equal(t, []string{"hello team", "hi"}, bodies(got))
	assert.Equal(t, got, s.Query("g", "someone", TargetGroup))
}

func TestStoreQueryEmptyIsNotNil(t *testing.T) {
	got := NewStore().Query("a", "b", TargetUser)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStoreLast(t *testing.T) {
	s := NewStore()
	assert.Nil(t, s.Last("a", "b", TargetUser))

	s.Append(Message{From: "a", To: "b", Body: "first", TargetType: TargetUser})
	s.Append(Message{From: "b", To: "a", Body: "second", TargetType: TargetUser})
	s.Append(Message{From: "a", To: "c", Body: "unrelated", TargetType: TargetUser})

	last := s.Last("b", "a", TargetUser)
	require.NotNil(t, last)
	assert.Equal(t, "second", last.Body)
	assert.Equal(t, 3, s.Len())
}

func bodies(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}
