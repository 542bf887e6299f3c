package main

import (
	"fmt"
	"io"
	"time"

	"github.com/zhouzirui/mindease/client/internal/api"
	"github.com/zhouzirui/mindease/client/internal/chatlog"
	"github.com/zhouzirui/mindease/client/internal/model/chat"
	chatservice "github.com/zhouzirui/mindease/client/internal/service/chat"
)

const timeLayout = "15:04"

func speaker(m chat.Message) string {
	if m.Sender == chat.SenderUser {
		return "You"
	}
	return "MindEase"
}

// printMessage 打印一条消息；n 是 /play 使用的编号。
func printMessage(w io.Writer, n int, m chat.Message) {
	fmt.Fprintf(w, "[%d] %s %s: %s", n, m.Timestamp.Local().Format(timeLayout), speaker(m), m.Text)
	if m.Sender == chat.SenderAssistant && m.MoodLabel != "" {
		fmt.Fprintf(w, "  (%s)", chatservice.MoodDisplay(m.MoodLabel))
	}
	fmt.Fprintln(w)
}

// printSince 打印下标 from 之后新增的消息。
func printSince(w io.Writer, messages []chat.Message, from int) {
	for i := from; i < len(messages); i++ {
		printMessage(w, i+1, messages[i])
	}
}

// printGroups 按日期分组打印整段记录。
func printGroups(w io.Writer, groups []chatlog.Bucket) {
	n := 0
	for _, g := range groups {
		fmt.Fprintf(w, "── %s ──\n", g.Label)
		for _, m := range g.Messages {
			n++
			printMessage(w, n, m)
		}
	}
}

func printRecord(w io.Writer, r chat.Record) {
	when := r.Timestamp.Local().Format("2006-01-02 " + timeLayout)
	fmt.Fprintf(w, "%s  You: %s\n", when, r.Message)
	fmt.Fprintf(w, "%s  MindEase: %s", when, r.Response)
	if r.MoodLabel != "" {
		fmt.Fprintf(w, "  (%s)", chatservice.MoodDisplay(r.MoodLabel))
	}
	fmt.Fprintln(w)
}

// printSessionGroups 按会话分组打印，组的先后跟随记录的排序。
func printSessionGroups(w io.Writer, records []chat.Record) {
	var order []string
	groups := make(map[string][]chat.Record)
	for _, r := range records {
		if _, ok := groups[r.SessionID]; !ok {
			order = append(order, r.SessionID)
		}
		groups[r.SessionID] = append(groups[r.SessionID], r)
	}
	for _, id := range order {
		group := groups[id]
		label := "Session " + id
		if started := group[0].SessionStartTime; started != nil {
			label += " · " + started.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "── %s ──\n", label)
		for _, r := range group {
			printRecord(w, r)
		}
	}
}

func printSessions(w io.Writer, sessions []api.SessionSummary, current string) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions yet.")
		return
	}
	for _, s := range sessions {
		marker := " "
		if s.SessionID == current {
			marker = "*"
		}
		status := "active"
		if s.EndTime != nil {
			status = "ended " + s.EndTime.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s %s  started %s  %s\n", marker, s.SessionID, s.StartTime.Local().Format(time.DateTime), status)
	}
}

func printMoods(w io.Writer, history []chat.MoodEntry) {
	if len(history) == 0 {
		fmt.Fprintln(w, "No mood history yet.")
		return
	}
	for _, e := range history {
		fmt.Fprintf(w, "%s  %s\n", e.Timestamp.Local().Format(time.DateTime), chatservice.MoodDisplay(e.MoodLabel))
	}
}

func printSelfHelp(w io.Writer, help chatservice.SelfHelp) {
	if help.Mood == "" {
		fmt.Fprintln(w, "No mood detected yet. Tell me how you feel first.")
		return
	}
	fmt.Fprintf(w, "Self-help resources for %s:\n", chatservice.MoodDisplay(help.Mood))
	if len(help.Resources) == 0 {
		fmt.Fprintln(w, "  No resources available at the moment.")
		return
	}
	for _, r := range help.Resources {
		if r.Link == "" {
			fmt.Fprintf(w, "  - %s\n", r.Title)
			continue
		}
		fmt.Fprintf(w, "  - %s: %s\n", r.Title, r.Link)
	}
}
