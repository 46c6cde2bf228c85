package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	original := Cursor{CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC), ID: uuid.New()}

	parsed, err := ParseCursor(EncodeCursor(original))
	require.NoError(t, err)
	require.True(t, parsed.CreatedAt.Equal(original.CreatedAt))
	require.Equal(t, original.ID, parsed.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	cursor, err := ParseCursor("")
	require.NoError(t, err)
	require.Nil(t, cursor)

	_, err = ParseCursor("!!!")
	require.Error(t, err)
}

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, MaxLimit, NormalizeLimit(10_000))
	require.Equal(t, 7, NormalizeLimit(7))
	require.Equal(t, 8, LimitWithBuffer(7))
}

func TestBuildTrimsBufferAndSetsCursor(t *testing.T) {
	type row struct {
		id uuid.UUID
		at time.Time
	}
	now := time.Now().UTC()
	rows := []row{{uuid.New(), now}, {uuid.New(), now.Add(-time.Minute)}, {uuid.New(), now.Add(-2 * time.Minute)}}
	key := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page := Build(rows, 2, key)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	next, err := ParseCursor(page.NextCursor)
	require.NoError(t, err)
	require.Equal(t, rows[1].id, next.ID)

	last := Build(rows[:1], 2, key)
	require.Len(t, last.Items, 1)
	require.Empty(t, last.NextCursor)

	empty := Build[row](nil, 2, key)
	require.NotNil(t, empty.Items)
}
