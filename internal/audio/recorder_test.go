package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	permErr error
	chunks  [][]byte
	opened  int
}

func (s *fakeSource) Permission(context.Context) error { return s.permErr }

func (s *fakeSource) Open(context.Context) (Capture, error) {
	s.opened++
	c := &fakeCapture{ch: make(chan []byte, len(s.chunks))}
	for _, chunk := range s.chunks {
		c.ch <- chunk
	}
	return c, nil
}

type fakeCapture struct {
	ch   chan []byte
	once sync.Once
}

func (c *fakeCapture) Chunks() <-chan []byte { return c.ch }
func (c *fakeCapture) Format() Format        { return FormatWebM }
func (c *fakeCapture) Stop() error {
	c.once.Do(func() { close(c.ch) })
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRecorder(src Source, dec Decoder) (*Recorder, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := &Pipeline{MinDuration: time.Second, MinBytes: 100, Decoders: NewRegistry(dec), Log: zerolog.Nop()}
	r := NewRecorder(src, p)
	r.now = clock.Now
	return r, clock
}

func TestRecorderPermissionDenied(t *testing.T) {
	src := &fakeSource{permErr: ErrPermissionDenied}
	r, _ := newTestRecorder(src, &countingDecoder{})

	err := r.Start(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, src.opened)
	assert.False(t, r.Recording())
}

func TestRecorderPermissionErrorMapsToDenied(t *testing.T) {
	r, _ := newTestRecorder(&fakeSource{permErr: errors.New("no device")}, &countingDecoder{})
	assert.ErrorIs(t, r.Start(context.Background()), ErrPermissionDenied)
}

func TestRecorderBusyWhileRecording(t *testing.T) {
	r, _ := newTestRecorder(&fakeSource{}, &countingDecoder{})
	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrBusy)
}

func TestRecorderHalfSecondIsTooShort(t *testing.T) {
	dec := &countingDecoder{pcm: sine(16000, 1, 2*time.Second)}
	r, clock := newTestRecorder(&fakeSource{chunks: [][]byte{make([]byte, 4096)}}, dec)

	require.NoError(t, r.Start(context.Background()))
	clock.Advance(500 * time.Millisecond)

	_, err := r.Stop(context.Background())
	require.ErrorIs(t, err, ErrTooShort)
	assert.Zero(t, dec.calls)
	assert.False(t, r.Recording())

	// 失败后可以重新开始
	require.NoError(t, r.Start(context.Background()))
}

func TestRecorderAcceptsValidRecording(t *testing.T) {
	dec := &countingDecoder{pcm: sine(16000, 1, 2*time.Second)}
	r, clock := newTestRecorder(&fakeSource{chunks: [][]byte{make([]byte, 2048), make([]byte, 2048)}}, dec)

	require.NoError(t, r.Start(context.Background()))
	clock.Advance(2300 * time.Millisecond)
	assert.Equal(t, 2*time.Second, r.Elapsed())

	rec, err := r.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2300*time.Millisecond, rec.Elapsed)
	assert.Equal(t, 1, dec.calls)
}

func TestRecorderStopWithoutStart(t *testing.T) {
	r, _ := newTestRecorder(&fakeSource{}, &countingDecoder{})
	_, err := r.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "0:00", FormatElapsed(0))
	assert.Equal(t, "0:09", FormatElapsed(9*time.Second+900*time.Millisecond))
	assert.Equal(t, "1:05", FormatElapsed(65*time.Second))
	assert.Equal(t, "12:00", FormatElapsed(12*time.Minute))
}
