package session

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindease/client/internal/kvstore"
)

type fakeBackend struct {
	started  int
	ended    []string
	startErr error
	endErr   error
}

func (f *fakeBackend) StartSession(context.Context) (string, error) {
	f.started++
	if f.startErr != nil {
		return "", f.startErr
	}
	return "sess-1", nil
}

func (f *fakeBackend) EndSession(_ context.Context, id string) error {
	f.ended = append(f.ended, id)
	return f.endErr
}

func TestEnsureStartsOnceAndPersists(t *testing.T) {
	backend := &fakeBackend{}
	store := kvstore.NewMemory()
	c := NewCoordinator(backend, store, zerolog.Nop())

	id, err := c.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", id)

	id, err = c.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", id)
	assert.Equal(t, 1, backend.started)

	stored, err := store.Get(kvstore.KeySessionID)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", stored)
}

func TestEnsureReusesPersistedID(t *testing.T) {
	backend := &fakeBackend{}
	store := kvstore.NewMemory()
	require.NoError(t, store.Set(kvstore.KeySessionID, "existing"))

	id, err := NewCoordinator(backend, store, zerolog.Nop()).Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "existing", id)
	assert.Zero(t, backend.started)
}

func TestRequireWithoutSession(t *testing.T) {
	c := NewCoordinator(&fakeBackend{}, kvstore.NewMemory(), zerolog.Nop())
	_, err := c.Require()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestEndRemovesIDEvenWhenCallFails(t *testing.T) {
	backend := &fakeBackend{endErr: errors.New("offline")}
	store := kvstore.NewMemory()
	require.NoError(t, store.Set(kvstore.KeySessionID, "sess-9"))
	c := NewCoordinator(backend, store, zerolog.Nop())

	err := c.End(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"sess-9"}, backend.ended)
	assert.Empty(t, c.Current())
}

func TestEndWithoutSessionIsNoop(t *testing.T) {
	backend := &fakeBackend{}
	c := NewCoordinator(backend, kvstore.NewMemory(), zerolog.Nop())
	require.NoError(t, c.End(context.Background()))
	assert.Empty(t, backend.ended)
}

func TestForgetOnlyClearsCurrentSession(t *testing.T) {
	backend := &fakeBackend{}
	store := kvstore.NewMemory()
	c := NewCoordinator(backend, store, zerolog.Nop())
	_, err := c.Ensure(context.Background())
	require.NoError(t, err)

	forgot, err := c.Forget("other")
	require.NoError(t, err)
	assert.False(t, forgot)
	assert.Equal(t, "sess-1", c.Current())

	forgot, err = c.Forget("sess-1")
	require.NoError(t, err)
	assert.True(t, forgot)
	assert.Empty(t, c.Current())
	assert.Empty(t, backend.ended)
}
