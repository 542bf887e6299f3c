// Package audio 实现录音采集、校验与 WAV 转码。
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type recorderState int

const (
	stateIdle recorderState = iota
	stateRecording
	stateFinalizing
)

// Recorder 一次只允许一段录音。
type Recorder struct {
	mu       sync.Mutex
	source   Source
	pipeline *Pipeline
	now      func() time.Time

	state     recorderState
	capture   Capture
	buf       *RecordingBuffer
	started   time.Time
	collected chan struct{}
	ticks     chan time.Duration
	stopTicks chan struct{}
}

// NewRecorder 创建录音器。
func NewRecorder(source Source, pipeline *Pipeline) *Recorder {
	return &Recorder{source: source, pipeline: pipeline, now: time.Now}
}

// Start 检查权限并开始采集。
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateIdle {
		return ErrBusy
	}

	if err := r.source.Permission(ctx); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	capture, err := r.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}

	r.capture = capture
	r.buf = NewRecordingBuffer(capture.Format())
	r.started = r.now()
	r.collected = make(chan struct{})
	r.ticks = make(chan time.Duration, 1)
	r.stopTicks = make(chan struct{})
	r.state = stateRecording

	go collect(capture.Chunks(), r.buf, r.collected)
	go r.tick(r.ticks, r.stopTicks)
	return nil
}

func collect(chunks <-chan []byte, buf *RecordingBuffer, done chan<- struct{}) {
	defer close(done)
	for chunk := range chunks {
		buf.Write(chunk)
	}
}

// tick 每秒推送一次已录制时长，接收方跟不上时丢弃旧值。
func (r *Recorder) tick(out chan time.Duration, stop <-chan struct{}) {
	defer close(out)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			elapsed := r.Elapsed()
			select {
			case out <- elapsed:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- elapsed:
				default:
				}
			}
		}
	}
}

// Ticks 返回当前录音的秒级计时通道，录音结束后关闭。
func (r *Recorder) Ticks() <-chan time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

// Elapsed 返回当前录音已经进行的整秒数。
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRecording {
		return 0
	}
	return r.now().Sub(r.started).Truncate(time.Second)
}

// Recording 表示是否正在录音。
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRecording
}

// Stop 结束采集并校验录音。
func (r *Recorder) Stop(ctx context.Context) (*Recording, error) {
	r.mu.Lock()
	if r.state != stateRecording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	elapsed := r.now().Sub(r.started)
	r.state = stateFinalizing
	capture, buf, collected := r.capture, r.buf, r.collected
	close(r.stopTicks)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.state = stateIdle
		r.capture = nil
		r.buf = nil
		r.mu.Unlock()
	}()

	stopErr := capture.Stop()
	select {
	case <-collected:
	case <-ctx.Done():
		buf.Discard()
		return nil, ctx.Err()
	}
	if stopErr != nil {
		r.pipeline.Log.Warn().Err(stopErr).Msg("capture stop")
	}

	return r.pipeline.Finalize(ctx, buf, elapsed)
}

// FormatElapsed 把时长渲染为 m:ss。
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
