package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{ID: 42, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	token, err := EncodeCursor(in)
	require.NoError(t, err)

	out, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)

	cursor, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	assert.Equal(t, 3, Pagination{PageSize: 3}.Limit())
}

func TestTrim(t *testing.T) {
	rows := []int64{5, 4, 3}
	extract := func(v int64) Cursor { return Cursor{ID: v} }

	page, info, err := Trim(rows, 2, extract)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4}, page)
	assert.True(t, info.HasMore)

	next, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.ID)

	page, info, err = Trim(rows, 3, extract)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}
