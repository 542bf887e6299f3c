package audio

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format 是录音的容器格式。
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatWebM    Format = "webm"
	FormatOgg     Format = "ogg"
	FormatUnknown Format = ""
)

// DetectFormat 根据文件头判断容器格式，无法识别时退回扩展名。
func DetectFormat(data []byte, name string) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatWebM
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("OggS")):
		return FormatOgg
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}

	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "wav", "wave":
		return FormatWAV
	case "mp3":
		return FormatMP3
	case "webm", "weba":
		return FormatWebM
	case "ogg", "oga", "opus":
		return FormatOgg
	}
	return FormatUnknown
}
