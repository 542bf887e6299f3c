package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/zhouzirui/mindease/client/internal/api"
	"github.com/zhouzirui/mindease/client/internal/kvstore"
	"github.com/zhouzirui/mindease/client/internal/model/chat"
)

func handleLogin(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(stderr)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	in := bufio.NewReader(stdin)
	if *email == "" {
		*email = prompt(in, stdout, "Email: ")
	}
	if *password == "" {
		*password = prompt(in, stdout, "Password: ")
	}
	if *email == "" || *password == "" {
		fmt.Fprintln(stderr, "email and password are required")
		return 2
	}

	a, err := newApp(stdout, stderr, false)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer a.Close()

	auth, err := a.client.Login(context.Background(), api.Credentials{Email: *email, Password: *password})
	if err != nil {
		fmt.Fprintln(stderr, "Login failed. Please check your email and password.")
		a.logger.Debug().Err(err).Msg("login")
		return 1
	}
	if err := a.saveAuth(auth); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	fmt.Fprintln(stdout, "Logged in.")
	return 0
}

func handleRegister(args []string, _ io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "full name")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	confirm := fs.String("confirm", "", "password confirmation, defaults to --password")
	dob := fs.String("dob", "", "date of birth (YYYY-MM-DD)")
	gender := fs.String("gender", "", "gender")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" || *email == "" || *password == "" {
		fmt.Fprintln(stderr, "register requires --name, --email and --password")
		fs.Usage()
		return 2
	}
	if *confirm == "" {
		*confirm = *password
	}

	a, err := newApp(stdout, stderr, false)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer a.Close()

	auth, err := a.client.Register(context.Background(), api.Registration{
		FullName:        *name,
		Email:           *email,
		Password:        *password,
		ConfirmPassword: *confirm,
		DateOfBirth:     *dob,
		Gender:          *gender,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Registration failed: %v\n", err)
		return 1
	}
	if err := a.saveAuth(auth); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	fmt.Fprintf(stdout, "Welcome to MindEase, %s.\n", *name)
	return 0
}

func (a *app) saveAuth(auth api.Auth) error {
	if auth.AccessToken == "" {
		return fmt.Errorf("backend returned no access token")
	}
	if err := a.store.Set(kvstore.KeyToken, auth.AccessToken); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if auth.UserID != "" {
		if err := a.store.Set(kvstore.KeyUserID, auth.UserID); err != nil {
			return fmt.Errorf("save user id: %w", err)
		}
	}
	return nil
}

func handleLogout(_ []string, _ io.Reader, stdout, stderr io.Writer) int {
	a, err := newApp(stdout, stderr, false)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer a.Close()

	if err := a.chat.Logout(context.Background()); err != nil {
		return a.report(stderr, err)
	}
	fmt.Fprintln(stdout, "Logged out.")
	return 0
}

func handleWhoami(_ []string, _ io.Reader, stdout, stderr io.Writer) int {
	a, err := newApp(stdout, stderr, false)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer a.Close()
	if err := a.requireLogin(); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	user, err := a.client.Profile(context.Background())
	if err != nil {
		return a.report(stderr, err)
	}
	fmt.Fprintf(stdout, "%s <%s>\n", user.FullName, user.Email)
	if user.DateOfBirth != "" {
		fmt.Fprintf(stdout, "born %s\n", user.DateOfBirth)
	}
	return 0
}

func handleSend(args []string, _ io.Reader, stdout, stderr io.Writer) int {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		fmt.Fprintln(stderr, "send requires <text>")
		return 2
	}

	a, err := newApp(stdout, stderr, false)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer a.Close()
	if err := a.requireLogin(); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	ctx := context.Background()
	if err := a.chat.Bootstrap(ctx); err != nil {
		return a.report(stderr, err)
	}
	before := a.chatlog.Len()
	if _, err := a.chat.SendText(ctx, text); err != nil {
		return a.report(stderr, err)
	}
	printSince(stdout, a.chat.Messages(), before)
	return 0
}

func handleVoice(args []string, _ io.Reader, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "voice requires <file>")
		return 2
	}

	a, err := newApp(stdout, stderr, false)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer a.Close()
	if err := a.requireLogin(); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	ctx := context.Background()
	if err := a.chat.Bootstrap(ctx); err != nil {
		return a.report(stderr, err)
	}
	before := a.chatlog.Len()
	if err := a.sendVoiceFile(ctx, args[0]); err != nil {
		return a.report(stderr, err)
	}
	printSince(stdout, a.chat.Messages(), before)
	return 0
}

// sendVoiceFile 校验文件后上传；校验失败时追加一条本地提示而不是报错。
func (a *app) sendVoiceFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	rec, err := a.pipeline.LoadFile(ctx, path)
	if err != nil {
		_, err = a.chat.ReportRecordingFailure(err)
		return err
	}
	_, err = a.chat.SendVoice(ctx, rec)
	return err
}

func handleHistory(args []string, _ io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	search := fs.String("search", "", "only show exchanges containing this text")
	order := fs.String("sort", "desc", "sort by time: asc or desc")
	bySession := fs.Bool("by-session", false, "group exchanges under the session they belong to")
	listSessions := fs.Bool("sessions", false, "list sessions instead of exchanges")
	deleteID := fs.String("delete", "", "delete a session and all of its exchanges")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *order != "asc" && *order != "desc" {
		fmt.Fprintln(stderr, "--sort must be asc or desc")
		return 2
	}

	a, err := newApp(stdout, stderr, false)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer a.Close()
	if err := a.requireLogin(); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	ctx := context.Background()
	switch {
	case *deleteID != "":
		return a.deleteSession(ctx, stdout, stderr, *deleteID)
	case *listSessions:
		sessions, err := a.client.GetSessions(ctx)
		if err != nil {
			return a.report(stderr, err)
		}
		printSessions(stdout, sessions, a.sessions.Current())
		return 0
	}

	var records []chat.Record
	if *bySession {
		records, err = a.client.GetUserChatHistory(ctx)
	} else {
		records, err = a.client.GetAllChats(ctx)
	}
	if err != nil {
		return a.report(stderr, err)
	}
	records = filterHistory(records, *search, *order == "asc")
	if len(records) == 0 {
		fmt.Fprintln(stdout, "No conversations found.")
		return 0
	}
	if *bySession {
		printSessionGroups(stdout, records)
		return 0
	}
	for _, r := range records {
		printRecord(stdout, r)
	}
	return 0
}

// deleteSession 删除服务端会话；删除的是当前会话时一并清空本地记录。
func (a *app) deleteSession(ctx context.Context, stdout, stderr io.Writer, id string) int {
	if err := a.client.DeleteSession(ctx, id); err != nil {
		return a.report(stderr, err)
	}
	current, err := a.sessions.Forget(id)
	if err != nil {
		a.logger.Warn().Err(err).Str("session_id", id).Msg("forget deleted session")
	}
	if current {
		if err := a.chatlog.Clear(); err != nil {
			return a.report(stderr, err)
		}
	}
	fmt.Fprintln(stdout, "Session deleted.")
	return 0
}

func filterHistory(records []chat.Record, query string, ascending bool) []chat.Record {
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]chat.Record, 0, len(records))
	for _, r := range records {
		if query != "" &&
			!strings.Contains(strings.ToLower(r.Message), query) &&
			!strings.Contains(strings.ToLower(r.Response), query) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func handleMoods(_ []string, _ io.Reader, stdout, stderr io.Writer) int {
	a, err := newApp(stdout, stderr, false)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer a.Close()
	if err := a.requireLogin(); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	history, err := a.client.GetMoodHistory(context.Background())
	if err != nil {
		if !a.expired {
			// 离线时退回上次缓存的情绪历史
			var cached []chat.MoodEntry
			if cacheErr := kvstore.GetJSON(a.store, kvstore.KeyMoodHistory, &cached); cacheErr == nil {
				fmt.Fprintln(stderr, "Showing cached mood history; the server could not be reached.")
				printMoods(stdout, cached)
				return 0
			}
		}
		return a.report(stderr, err)
	}
	if err := kvstore.SetJSON(a.store, kvstore.KeyMoodHistory, history); err != nil {
		a.logger.Warn().Err(err).Msg("cache mood history")
	}
	printMoods(stdout, history)
	return 0
}

func handleClear(_ []string, _ io.Reader, stdout, stderr io.Writer) int {
	a, err := newApp(stdout, stderr, false)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer a.Close()

	if err := a.chat.Clear(context.Background()); err != nil {
		return a.report(stderr, err)
	}
	fmt.Fprintln(stdout, "Chat cleared.")
	return 0
}

func prompt(in *bufio.Reader, out io.Writer, label string) string {
	fmt.Fprint(out, label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}
