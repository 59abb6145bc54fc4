package patterns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetSlotRoundTrip(t *testing.T) {
	s := newTestStore(t)

	geom := Geometry{X: 100, Y: 200, Width: 300, Height: 150, CenterX: 250, CenterY: 275}
	require.NoError(t, s.PutSlot("editor_spread", "slot_1", 1366, 768, geom, 0.92))

	p, err := s.GetSlot("editor_spread", "slot_1", 1366, 768)
	require.NoError(t, err)
	assert.Equal(t, geom, p.Geometry)
	assert.Equal(t, 0.92, p.Confidence)
	assert.Equal(t, "editor_spread", p.LayoutName)
}

func TestGetSlotUnknownKey(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSlot("editor_spread", "missing", 1366, 768)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSlotViewportIsolation(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutSlot("editor_spread", "slot_1", 1366, 768, FromPoint(100, 100), 1.0))

	// Same slot at a different viewport is a distinct entry
	_, err := s.GetSlot("editor_spread", "slot_1", 1920, 1080)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutSlot("editor_spread", "slot_1", 1920, 1080, FromPoint(140, 130), 1.0))

	small, err := s.GetSlot("editor_spread", "slot_1", 1366, 768)
	require.NoError(t, err)
	large, err := s.GetSlot("editor_spread", "slot_1", 1920, 1080)
	require.NoError(t, err)
	assert.NotEqual(t, small.Geometry.CenterX, large.Geometry.CenterX)
}

func TestSlotHitAccounting(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutSlot("editor_spread", "slot_1", 1366, 768, FromPoint(50, 60), 1.0))

	var prevUsed time.Time
	for i := 1; i <= 5; i++ {
		p, err := s.GetSlot("editor_spread", "slot_1", 1366, 768)
		require.NoError(t, err)
		assert.Equal(t, i, p.HitCount)
		assert.False(t, p.LastUsed.Before(prevUsed), "last_used must be monotonic")
		prevUsed = p.LastUsed
	}
}

func TestPutSlotUpsertLastWriteWins(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutSlot("editor_spread", "slot_1", 1366, 768, FromPoint(10, 10), 0.5))
	require.NoError(t, s.PutSlot("editor_spread", "slot_1", 1366, 768, FromPoint(99, 99), 0.9))

	p, err := s.GetSlot("editor_spread", "slot_1", 1366, 768)
	require.NoError(t, err)
	assert.Equal(t, 99.0, p.Geometry.CenterX)
	assert.Equal(t, 0.9, p.Confidence)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalPatterns)
}

func TestDeleteSlot(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutSlot("editor_spread", "slot_1", 1366, 768, FromPoint(10, 10), 1.0))
	require.NoError(t, s.DeleteSlot("editor_spread", "slot_1", 1366, 768))

	_, err := s.GetSlot("editor_spread", "slot_1", 1366, 768)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteSlot("editor_spread", "slot_1", 1366, 768), ErrNotFound)
}

func TestElementRoundTripWithSelector(t *testing.T) {
	s := newTestStore(t)

	geom := Geometry{X: 10, Y: 20, Width: 80, Height: 30, CenterX: 50, CenterY: 35}
	require.NoError(t, s.PutElement("login_button", 1366, 768, geom, 0.88, "button[type=submit]"))

	p, err := s.GetElement("login_button", 1366, 768)
	require.NoError(t, err)
	assert.Equal(t, geom, p.Geometry)
	assert.Equal(t, "button[type=submit]", p.Selector)
	assert.Equal(t, 1, p.HitCount)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalPatterns)
	assert.Equal(t, 0, st.TotalHits)

	require.NoError(t, s.PutSlot("l", "s1", 1366, 768, FromPoint(1, 1), 0.8))
	require.NoError(t, s.PutElement("e1", 1366, 768, FromPoint(2, 2), 0.6, ""))

	_, err = s.GetSlot("l", "s1", 1366, 768)
	require.NoError(t, err)

	st, err = s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalPatterns)
	assert.Equal(t, 1, st.TotalHits)
	assert.InDelta(t, 0.7, st.AvgConfidence, 1e-9)
}

func TestEvictStale(t *testing.T) {
	s := newTestStore(t)

	// Eviction on an empty store must not fail
	n, err := s.EvictStale(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.PutSlot("l", "old", 1366, 768, FromPoint(1, 1), 1.0))
	require.NoError(t, s.PutSlot("l", "fresh", 1366, 768, FromPoint(2, 2), 1.0))

	// Backdate one entry past the staleness window
	_, err = s.db.Exec(`UPDATE slot_patterns SET last_used = ? WHERE slot_id = 'old'`,
		time.Now().UTC().Add(-48*time.Hour).Format(time.RFC3339Nano))
	require.NoError(t, err)

	n, err = s.EvictStale(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetSlot("l", "old", 1366, 768)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSlot("l", "fresh", 1366, 768)
	assert.NoError(t, err)
}
