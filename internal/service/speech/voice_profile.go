package speech

import (
	"strings"

	"github.com/zhouzirui/mindease/client/internal/analysis/mood"
)

// 支持情绪参数的音色才会带上 emotion 字段
var moodEmotions = map[mood.Label]string{
	mood.Happy:    "happy",
	mood.Sad:      "sad",
	mood.Angry:    "angry",
	mood.Tired:    "tender",
	mood.Stressed: "comfort",
}

var emotionVoiceWhitelist = map[string]struct{}{
	"en_female_candice_emo_v2_mars_bigtts": {},
	"en_female_skye_emo_v2_mars_bigtts":    {},
	"en_male_glen_emo_v2_mars_bigtts":      {},
	"en_male_sylus_emo_v2_mars_bigtts":     {},
	"en_male_corey_emo_v2_mars_bigtts":     {},
}

// ComputeEmotionParameters 根据音色与情绪识别结果计算合成时的情绪参数。
func ComputeEmotionParameters(voice string, decision mood.Decision) (enable bool, label string, scale float32) {
	if decision.Label == mood.Neutral || decision.Label == "" {
		return false, "", 0
	}
	if !supportsEmotion(voice) {
		return false, "", 0
	}
	mapped, ok := moodEmotions[decision.Label]
	if !ok {
		return false, "", 0
	}

	scale = decision.Scale
	if scale <= 0 {
		scale = 3
	}
	scale = max(1, min(5, scale))
	return true, mapped, scale
}

func supportsEmotion(voice string) bool {
	normalized := strings.ToLower(strings.TrimSpace(voice))
	if normalized == "" {
		return false
	}
	if _, ok := emotionVoiceWhitelist[normalized]; ok {
		return true
	}
	return strings.Contains(normalized, "_emo")
}
