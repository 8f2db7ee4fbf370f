package pagination

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, MaxLimit, NormalizeLimit(500))
	assert.Equal(t, 10, NormalizeLimit(10))
	assert.Equal(t, 11, LimitWithBuffer(10))
}

func TestCursorRoundTripKeepsNanoseconds(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 5, 1, 9, 30, 0, 123456789, time.UTC), ID: uuid.New()}

	out, err := ParseCursor(EncodeCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
	assert.NotContains(t, EncodeCursor(in), "=")
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	c, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, c)

	for _, token := range []string{"%%%", "bm9kb3Q", "YWJjLnh5eg"} {
		_, err := ParseCursor(token)
		assert.True(t, errors.Is(err, ErrInvalidCursor), token)
	}
}

func TestTrim(t *testing.T) {
	rows := []int{5, 4, 3}
	key := func(v int) Cursor { return Cursor{CreatedAt: time.Unix(int64(v), 0)} }

	page, next := Trim(rows, 2, key)
	assert.Equal(t, []int{5, 4}, page)
	require.NotNil(t, next)
	assert.Equal(t, int64(4), next.CreatedAt.Unix())

	page, next = Trim(rows[:2], 2, key)
	assert.Len(t, page, 2)
	assert.Nil(t, next)
}
