package chatlog

import (
	"time"

	"github.com/zhouzirui/mindease/client/internal/model/chat"
)

// Bucket 是同一天的一组消息。
type Bucket struct {
	Label    string
	Day      time.Time
	Messages []chat.Message
}

// Group 按 loc 中的日历日把连续的消息分组，标签为 Today、Yesterday 或完整日期。
func Group(messages []chat.Message, now time.Time, loc *time.Location) []Bucket {
	if loc == nil {
		loc = time.Local
	}

	var buckets []Bucket
	for _, msg := range messages {
		day := startOfDay(msg.Timestamp, loc)
		if n := len(buckets); n > 0 && buckets[n-1].Day.Equal(day) {
			buckets[n-1].Messages = append(buckets[n-1].Messages, msg)
			continue
		}
		buckets = append(buckets, Bucket{
			Label:    DateLabel(msg.Timestamp, now, loc),
			Day:      day,
			Messages: []chat.Message{msg},
		})
	}
	return buckets
}

// DateLabel 按相对 now 的日期生成分组标题。
func DateLabel(t, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	day := startOfDay(t, loc)
	today := startOfDay(now, loc)
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return t.In(loc).Format("January 2, 2006")
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
