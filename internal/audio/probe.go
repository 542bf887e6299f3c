package audio

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

// ProbeResult 是对 WAV 文件的检查结果。
type ProbeResult struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
	Silent     bool
}

// Prober 在上传前检查转码后的 WAV 是否可以播放。
type Prober interface {
	Probe(data []byte) (ProbeResult, error)
}

// WAVProber 用 go-audio 读取文件头与采样。
type WAVProber struct{}

func (WAVProber) Probe(data []byte) (ProbeResult, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return ProbeResult{}, errors.New("not a playable wav file")
	}

	duration, err := dec.Duration()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("read duration: %w", err)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("read samples: %w", err)
	}

	silent := true
	for _, v := range buf.Data {
		if v != 0 {
			silent = false
			break
		}
	}

	return ProbeResult{
		Duration:   duration,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		Silent:     silent,
	}, nil
}
