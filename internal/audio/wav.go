package audio

import (
	"bytes"
	"encoding/binary"
)

const wavHeaderSize = 44

// EncodeWAV 把 PCM 编码为 16 位 RIFF/WAVE，采样截断到 [-1, 1] 后乘以 0x7FFF。
func EncodeWAV(p *PCM) []byte {
	channels := p.Channels
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(p.Samples) * 2

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataSize))
	le := binary.LittleEndian

	buf.WriteString("RIFF")
	_ = binary.Write(buf, le, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, le, uint32(16))
	_ = binary.Write(buf, le, uint16(1)) // PCM
	_ = binary.Write(buf, le, uint16(channels))
	_ = binary.Write(buf, le, uint32(p.SampleRate))
	_ = binary.Write(buf, le, uint32(p.SampleRate*blockAlign))
	_ = binary.Write(buf, le, uint16(blockAlign))
	_ = binary.Write(buf, le, uint16(bitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(buf, le, uint32(dataSize))

	sample := make([]byte, 2)
	for _, s := range p.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		le.PutUint16(sample, uint16(int16(s*0x7FFF)))
		buf.Write(sample)
	}
	return buf.Bytes()
}
