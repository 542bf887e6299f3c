package mood

import "strings"

// Label 是后端返回的情绪类别（不含表情后缀）。
type Label string

const (
	Neutral  Label = "Neutral"
	Happy    Label = "Happy"
	Sad      Label = "Sad"
	Angry    Label = "Angry"
	Tired    Label = "Tired"
	Stressed Label = "Stressed"
)

// Labels 按展示顺序列出全部情绪类别。
var Labels = []Label{Happy, Sad, Angry, Tired, Stressed, Neutral}

var emoji = map[Label]string{
	Neutral:  "🙂",
	Happy:    "😊",
	Sad:      "😔",
	Angry:    "😡",
	Tired:    "😴",
	Stressed: "😟",
}

// Emoji 返回类别对应的表情。
func (l Label) Emoji() string {
	if e, ok := emoji[l]; ok {
		return e
	}
	return emoji[Neutral]
}

// Display 返回后端使用的完整标签，例如 "Sad 😔"。
func (l Label) Display() string {
	return string(l) + " " + l.Emoji()
}

// ParseLabel 取标签的第一个词并忽略大小写，未知或空值视为 Neutral。
func ParseLabel(raw string) Label {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return Neutral
	}
	word := strings.ToLower(fields[0])
	for _, l := range Labels {
		if strings.ToLower(string(l)) == word {
			return l
		}
	}
	return Neutral
}

// Voice 是朗读时使用的语速与音调。
type Voice struct {
	Rate  float32
	Pitch float32
}

var voices = map[Label]Voice{
	Sad:      {Rate: 0.8, Pitch: 0.9},
	Angry:    {Rate: 0.9, Pitch: 1.0},
	Happy:    {Rate: 1.1, Pitch: 1.2},
	Tired:    {Rate: 0.8, Pitch: 0.9},
	Stressed: {Rate: 0.85, Pitch: 0.95},
}

// VoiceFor 把情绪标签（带不带 emoji 都可以）映射为朗读参数。
func VoiceFor(raw string) Voice {
	if v, ok := voices[ParseLabel(raw)]; ok {
		return v
	}
	return Voice{Rate: 1, Pitch: 1}
}
