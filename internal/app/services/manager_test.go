package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionManager(t *testing.T) {
	fake := newFakeDify(t)
	m := NewSessionManager(func() *Widget {
		return NewWidget(fake.client(), WidgetOptions{})
	})

	w := m.Create()
	got, err := m.Get(w.ID())
	require.NoError(t, err)
	assert.Same(t, w, got)
	assert.Equal(t, 1, m.Len())

	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.True(t, m.Remove(w.ID()))
	assert.False(t, m.Remove(w.ID()))
	assert.Zero(t, m.Len())
}

func TestSessionManagerCleanupIdle(t *testing.T) {
	fake := newFakeDify(t)
	m := NewSessionManager(func() *Widget {
		return NewWidget(fake.client(), WidgetOptions{})
	})
	old := m.Create()
	fresh := m.Create()

	old.mu.Lock()
	old.lastActive = time.Now().Add(-time.Hour)
	old.mu.Unlock()

	assert.Equal(t, 1, m.CleanupIdle(30*time.Minute))
	_, err := m.Get(old.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(fresh.ID())
	assert.NoError(t, err)
}
