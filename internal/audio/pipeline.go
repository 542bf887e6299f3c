package audio

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Recording 是通过校验、可上传的 WAV 录音。
type Recording struct {
	WAV        []byte
	Duration   time.Duration
	Elapsed    time.Duration
	SampleRate int
	Channels   int
}

// Pipeline 负责录音结束后的校验与转码。
type Pipeline struct {
	MinDuration time.Duration
	MinBytes    int
	Decoders    *Registry
	Prober      Prober
	Log         zerolog.Logger
}

// Finalize 依次执行时长、内容、大小、转码、探测五步校验。任何一步失败都会丢弃缓冲。
func (p *Pipeline) Finalize(ctx context.Context, buf *RecordingBuffer, elapsed time.Duration) (*Recording, error) {
	rec, err := p.finalize(ctx, buf, elapsed)
	buf.Discard()
	if err != nil {
		p.Log.Info().Err(err).Dur("elapsed", elapsed).Msg("recording rejected")
		return nil, err
	}
	p.Log.Debug().
		Dur("duration", rec.Duration).
		Int("sample_rate", rec.SampleRate).
		Int("channels", rec.Channels).
		Int("bytes", len(rec.WAV)).
		Msg("recording accepted")
	return rec, nil
}

func (p *Pipeline) finalize(ctx context.Context, buf *RecordingBuffer, elapsed time.Duration) (*Recording, error) {
	minDuration := p.MinDuration
	if minDuration <= 0 {
		minDuration = time.Second
	}
	minBytes := p.MinBytes
	if minBytes <= 0 {
		minBytes = 100
	}

	if elapsed < minDuration {
		return nil, reject(ErrTooShort, nil, "elapsed %s", elapsed)
	}
	if buf.Chunks() == 0 {
		return nil, reject(ErrNoAudioDetected, nil, "no chunks")
	}
	if size := buf.Size(); size < minBytes {
		return nil, reject(ErrTooSmall, nil, "%d bytes", size)
	}

	decoder, err := p.Decoders.Lookup(buf.Format())
	if err != nil {
		return nil, reject(ErrTranscodeFailure, err, "format %q", buf.Format())
	}
	pcm, err := decoder.Decode(ctx, buf.Bytes())
	if err != nil {
		return nil, reject(ErrTranscodeFailure, err, "format %q", buf.Format())
	}
	wavData := EncodeWAV(pcm)

	prober := p.Prober
	if prober == nil {
		prober = WAVProber{}
	}
	probe, err := prober.Probe(wavData)
	if err != nil {
		return nil, reject(ErrSilentOrCorrupt, err, "probe")
	}
	if probe.Duration < minDuration {
		return nil, reject(ErrDurationTooShort, nil, "decoded %s", probe.Duration)
	}
	if probe.Silent {
		return nil, reject(ErrSilentOrCorrupt, nil, "all samples are zero")
	}

	return &Recording{
		WAV:        wavData,
		Duration:   probe.Duration,
		Elapsed:    elapsed,
		SampleRate: probe.SampleRate,
		Channels:   probe.Channels,
	}, nil
}

// LoadFile 把已有的音频文件当作一次录音校验。录音时长取解码后的媒体时长；无法解码时交给转码步骤报告。
func (p *Pipeline) LoadFile(ctx context.Context, path string) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	format := DetectFormat(data, path)
	buf := NewRecordingBuffer(format)
	const chunkSize = 16 * 1024
	for off := 0; off < len(data); off += chunkSize {
		end := min(off+chunkSize, len(data))
		buf.Write(data[off:end])
	}

	elapsed := p.MinDuration
	if elapsed <= 0 {
		elapsed = time.Second
	}
	if d, err := p.Decoders.Lookup(format); err == nil {
		if pcm, err := d.Decode(ctx, data); err == nil {
			elapsed = pcm.Duration()
		}
	}
	return p.Finalize(ctx, buf, elapsed)
}
