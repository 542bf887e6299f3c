package companion

import (
	analysis "github.com/zhouzirui/mindease/client/internal/analysis/mood"
	"github.com/zhouzirui/mindease/client/internal/model/chat"
)

// NoResourcesTitle 表示该情绪没有推荐资源。
const NoResourcesTitle = "No resources available at the moment."

var resourcesByMood = map[analysis.Label][]chat.Resource{
	analysis.Sad: {
		{Title: "Coping with sadness", Link: "https://www.mind.org.uk/information-support/types-of-mental-health-problems/depression/self-care/"},
		{Title: "Guided self-compassion break", Link: "https://self-compassion.org/exercises/"},
	},
	analysis.Angry: {
		{Title: "Controlling anger before it controls you", Link: "https://www.apa.org/topics/anger/control"},
		{Title: "Box breathing in four steps", Link: "https://www.healthline.com/health/box-breathing"},
	},
	analysis.Tired: {
		{Title: "Sleep hygiene tips", Link: "https://www.sleepfoundation.org/sleep-hygiene"},
		{Title: "Beating fatigue", Link: "https://www.nhs.uk/live-well/sleep-and-tiredness/self-help-tips-to-fight-fatigue/"},
	},
	analysis.Stressed: {
		{Title: "Five-minute breathing exercise", Link: "https://www.nhs.uk/mental-health/self-help/guides-tools-and-activities/breathing-exercises-for-stress/"},
		{Title: "Managing stress", Link: "https://www.who.int/news-room/questions-and-answers/item/stress"},
	},
	analysis.Happy: {
		{Title: "Keep a gratitude journal", Link: "https://greatergood.berkeley.edu/article/item/tips_for_keeping_a_gratitude_journal"},
	},
}

// Resources 返回某个情绪的自助资源；没有时返回一条占位资源。
func Resources(label analysis.Label) []chat.Resource {
	list, ok := resourcesByMood[label]
	if !ok || len(list) == 0 {
		return []chat.Resource{{Title: NoResourcesTitle}}
	}
	return append([]chat.Resource(nil), list...)
}
