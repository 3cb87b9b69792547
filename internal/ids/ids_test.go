package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	id := New(Task)
	prefix, err := Parse(id)
	require.NoError(t, err)
	assert.Equal(t, Task, prefix)
	assert.NoError(t, ParseExpect(id, Task))
	assert.Error(t, ParseExpect(id, Milestone))
}

func TestParseRejectsBadFormat(t *testing.T) {
	cases := []string{"", "task", "task_short", "unknownprefix_" + "01ARZ3NDEKTSV4RRFFQ69G5FAV", "task_not-a-valid-ulid-000000"}
	for _, c := range cases {
		_, err := Parse(c)
		assert.Error(t, err, c)
	}
}

func TestOrderingByCreationTime(t *testing.T) {
	earlier := NewAt(Task, time.Unix(1000, 0))
	later := NewAt(Task, time.Unix(2000, 0))
	assert.Less(t, earlier, later)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "implement_widget", Slugify("Implement the Widget"))
	assert.Equal(t, "untitled", Slugify(""))
}
