package mood

import (
	"math"
	"strings"
)

// Decision 给出情绪识别结果以及推荐的朗读情绪强度。
type Decision struct {
	Label Label
	Scale float32
	Score int
}

var keywordBuckets = map[Label][]string{
	Happy: {
		"happy", "great", "glad", "good", "amazing", "awesome", "wonderful", "excited", "joy",
		"thanks", "thank you", "love", "grateful", "fantastic", "better", "proud", "lol", "yay",
	},
	Sad: {
		"sad", "unhappy", "cry", "crying", "depressed", "lonely", "alone", "upset", "hurt",
		"sorrow", "miserable", "hopeless", "down", "heartbroken", "lost", "grief", "empty",
	},
	Angry: {
		"angry", "furious", "rage", "mad", "annoyed", "pissed", "outraged", "hate", "irritated",
		"frustrated", "sick of", "fed up", "livid",
	},
	Tired: {
		"tired", "exhausted", "sleepy", "drained", "worn out", "fatigue", "burned out", "burnt out",
		"no energy", "can't sleep", "insomnia", "weary",
	},
	Stressed: {
		"stressed", "stress", "anxious", "anxiety", "overwhelmed", "pressure", "worried", "worry",
		"nervous", "panic", "deadline", "exam", "tense", "scared", "afraid",
	},
}

// negations 出现在关键词前时，正向情绪降为中性。
var negations = []string{"not ", "n't ", "never ", "no longer "}

// Analyze 根据用户输入推断情绪类别。
func Analyze(text string) Decision {
	scored := scoreText(text)
	if scored.Score == 0 {
		return Decision{Label: Neutral, Scale: 3, Score: 0}
	}

	scale := 2 + float32(scored.Score)/4
	if scored.Label == Tired || scored.Label == Sad {
		scale = float32(math.Min(3.5, float64(scale)))
	}
	if scale < 1 {
		scale = 1
	}
	if scale > 5 {
		scale = 5
	}

	return Decision{Label: scored.Label, Scale: scale, Score: scored.Score}
}

func scoreText(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Label: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			idx := strings.Index(normalized, word)
			if idx < 0 {
				continue
			}
			if label == Happy && negated(normalized[:idx]) {
				scores[Sad] += 2
				continue
			}
			scores[label] += 3
		}
	}

	if exclamations := strings.Count(text, "!"); exclamations > 0 && scores[Happy] > 0 {
		scores[Happy] += exclamations
	}

	best := Neutral
	bestScore := 0
	// 按固定顺序遍历，得分相同时结果稳定
	for _, label := range Labels {
		if s := scores[label]; s > bestScore {
			bestScore = s
			best = label
		}
	}

	return Decision{Label: best, Score: bestScore}
}

func negated(prefix string) bool {
	words := strings.Fields(prefix)
	if len(words) > 2 {
		words = words[len(words)-2:]
	}
	tail := strings.Join(words, " ") + " "
	for _, n := range negations {
		if strings.Contains(tail, n) {
			return true
		}
	}
	return false
}
