package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// PCM 是解码后的交错浮点采样，取值范围 [-1, 1]。
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames 返回每个声道的采样数。
func (p *PCM) Frames() int {
	if p == nil || p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Duration 返回音频时长。
func (p *PCM) Duration() time.Duration {
	if p == nil || p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

// Decoder 把某种容器格式解码为 PCM。
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*PCM, error)
}

// Registry 按容器格式选择解码器。
type Registry struct {
	decoders map[Format]Decoder
	fallback Decoder
}

// NewRegistry 创建注册表，fallback 处理没有专门解码器的格式。
func NewRegistry(fallback Decoder) *Registry {
	return &Registry{decoders: make(map[Format]Decoder), fallback: fallback}
}

// DefaultRegistry 注册 WAV 与 MP3 的纯 Go 解码器，其余格式交给 ffmpeg。
func DefaultRegistry(ffmpeg *FFmpegDecoder) *Registry {
	var fallback Decoder
	if ffmpeg != nil {
		fallback = ffmpeg
	}
	r := NewRegistry(fallback)
	r.Register(FormatWAV, WAVDecoder{})
	r.Register(FormatMP3, MP3Decoder{})
	return r
}

func (r *Registry) Register(format Format, d Decoder) {
	r.decoders[format] = d
}

// Lookup 返回该格式的解码器。
func (r *Registry) Lookup(format Format) (Decoder, error) {
	if d, ok := r.decoders[format]; ok {
		return d, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no decoder for format %q", format)
}

// WAVDecoder 用 go-audio 解码 PCM WAV。
type WAVDecoder struct{}

func (WAVDecoder) Decode(_ context.Context, data []byte) (*PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav pcm: %w", err)
	}
	return fromIntBuffer(buf, int(dec.BitDepth))
}

func fromIntBuffer(buf *goaudio.IntBuffer, bitDepth int) (*PCM, error) {
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, errors.New("wav has no audio format")
	}
	if bitDepth <= 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		// 8 位 WAV 是无符号采样
		if bitDepth == 8 {
			v -= 128
		}
		samples[i] = float32(v) / scale
	}
	return &PCM{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels, Samples: samples}, nil
}

// MP3Decoder 用 go-mp3 解码，输出固定为 16 位双声道。
type MP3Decoder struct{}

func (MP3Decoder) Decode(_ context.Context, data []byte) (*PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("read mp3: %w", err)
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}
	return &PCM{SampleRate: dec.SampleRate(), Channels: 2, Samples: samples}, nil
}

// FFmpegDecoder 通过 ffmpeg 子进程解码 webm/ogg 等格式，并重采样到固定的采样率与声道数。
type FFmpegDecoder struct {
	Path       string
	SampleRate int
	Channels   int
}

func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte) (*PCM, error) {
	path := d.Path
	if path == "" {
		path = "ffmpeg"
	}
	rate := d.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	channels := d.Channels
	if channels <= 0 {
		channels = 1
	}

	cmd := exec.CommandContext(ctx, path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "f32le",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(rate),
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	raw := stdout.Bytes()
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	if len(samples) == 0 {
		return nil, errors.New("ffmpeg produced no samples")
	}
	return &PCM{SampleRate: rate, Channels: channels, Samples: samples}, nil
}
