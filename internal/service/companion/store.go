package companion

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/mindease/client/internal/api"
	"github.com/zhouzirui/mindease/client/internal/model/chat"
)

var (
	ErrMissingField       = errors.New("required field missing")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionEnded       = errors.New("session already ended")
	ErrChatNotFound       = errors.New("chat not found")
	ErrNoAudio            = errors.New("no audio stored for chat")
)

const (
	tokenIssuer = "mindease-stub"
	tokenTTL    = 24 * time.Hour
)

type user struct {
	profile      api.User
	passwordHash []byte
}

// Store 以内存方式保存账号、令牌、会话与聊天记录。
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	secret   []byte
	users    map[string]*user
	byEmail  map[string]string
	sessions map[string]chat.Session
	chats    map[string][]chat.Record
	moods    map[string][]chat.MoodEntry
}

// NewStore 创建空的存储，now 可以为 nil。
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	// 每个进程一把签名密钥，账号本身也只在内存里
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)
	return &Store{
		now:      now,
		secret:   secret,
		users:    make(map[string]*user),
		byEmail:  make(map[string]string),
		sessions: make(map[string]chat.Session),
		chats:    make(map[string][]chat.Record),
		moods:    make(map[string][]chat.MoodEntry),
	}
}

func hashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, ErrPasswordTooLong
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// Register 创建账号并直接签发令牌。
func (s *Store) Register(reg api.Registration) (api.Auth, error) {
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	name := strings.TrimSpace(reg.FullName)
	if name == "" || email == "" || reg.Password == "" {
		return api.Auth{}, ErrMissingField
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return api.Auth{}, ErrInvalidEmail
	}
	if reg.Password != reg.ConfirmPassword {
		return api.Auth{}, ErrPasswordMismatch
	}
	// bcrypt 较慢，放在锁外
	hash, err := hashPassword(reg.Password)
	if err != nil {
		return api.Auth{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return api.Auth{}, ErrEmailTaken
	}

	id := uuid.NewString()
	s.users[id] = &user{
		profile: api.User{
			UserID:      id,
			FullName:    name,
			Email:       email,
			DateOfBirth: strings.TrimSpace(reg.DateOfBirth),
			Gender:      strings.TrimSpace(reg.Gender),
		},
		passwordHash: hash,
	}
	s.byEmail[email] = id
	return s.issueLocked(id)
}

// Login 校验邮箱与密码并签发新令牌。
func (s *Store) Login(creds api.Credentials) (api.Auth, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if email == "" || creds.Password == "" {
		return api.Auth{}, ErrMissingField
	}

	s.mu.RLock()
	id, ok := s.byEmail[email]
	var hash []byte
	if ok {
		hash = s.users[id].passwordHash
	}
	s.mu.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword(hash, []byte(creds.Password)) != nil {
		return api.Auth{}, ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(id)
}

func (s *Store) issueLocked(userID string) (api.Auth, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return api.Auth{}, fmt.Errorf("sign token: %w", err)
	}
	return api.Auth{AccessToken: signed, UserID: userID}, nil
}

// Authenticate 校验令牌签名与有效期，返回其中的用户 ID。
func (s *Store) Authenticate(token string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &jwt.RegisteredClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.users[claims.Subject]; !ok {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// User 返回用户资料。
func (s *Store) User(userID string) (api.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return api.User{}, ErrInvalidToken
	}
	return u.profile, nil
}

// StartSession 为用户开启一个新会话。
func (s *Store) StartSession(userID string) chat.Session {
	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: s.now().UTC(),
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.chats[session.ID] = make([]chat.Record, 0, 16)
	s.mu.Unlock()
	return session
}

// EndSession 记录会话结束时间。
func (s *Store) EndSession(userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.ownedLocked(userID, sessionID)
	if err != nil {
		return err
	}
	if session.EndedAt != nil {
		return ErrSessionEnded
	}
	ended := s.now().UTC()
	session.EndedAt = &ended
	s.sessions[sessionID] = session
	return nil
}

// DeleteSession 删除会话及其全部聊天记录。
func (s *Store) DeleteSession(userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ownedLocked(userID, sessionID); err != nil {
		return err
	}
	delete(s.sessions, sessionID)
	delete(s.chats, sessionID)
	return nil
}

// Sessions 按开始时间倒序列出用户的会话。
func (s *Store) Sessions(userID string) []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (s *Store) ownedLocked(userID, sessionID string) (chat.Session, error) {
	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// SaveChat 追加一条问答记录并更新情绪历史。
func (s *Store) SaveChat(userID string, record chat.Record) (chat.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.ownedLocked(userID, record.SessionID)
	if err != nil {
		return chat.Record{}, err
	}
	if session.EndedAt != nil {
		return chat.Record{}, ErrSessionEnded
	}

	record.ChatID = uuid.NewString()
	if record.Timestamp.IsZero() {
		record.Timestamp = s.now().UTC()
	}
	s.chats[record.SessionID] = append(s.chats[record.SessionID], record)
	if record.MoodLabel != "" {
		s.moods[userID] = append(s.moods[userID], chat.MoodEntry{MoodLabel: record.MoodLabel, Timestamp: record.Timestamp})
	}
	return record, nil
}

// Chats 返回某个会话的记录。
func (s *Store) Chats(userID, sessionID string) ([]chat.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.ownedLocked(userID, sessionID); err != nil {
		return nil, err
	}
	return append([]chat.Record(nil), s.chats[sessionID]...), nil
}

// AllChats 按时间顺序返回用户所有会话的记录。withSession 为 true 时带上会话开始时间。
func (s *Store) AllChats(userID string, withSession bool) []chat.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Record, 0)
	for id, session := range s.sessions {
		if session.UserID != userID {
			continue
		}
		for _, r := range s.chats[id] {
			if withSession {
				started := session.StartedAt
				r.SessionStartTime = &started
			}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// ClearChats 清空会话记录，会话本身保留。
func (s *Store) ClearChats(userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ownedLocked(userID, sessionID); err != nil {
		return err
	}
	s.chats[sessionID] = make([]chat.Record, 0, 16)
	return nil
}

// Audio 返回语音消息保存的原始录音。
func (s *Store) Audio(userID, chatID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, session := range s.sessions {
		if session.UserID != userID {
			continue
		}
		for _, r := range s.chats[id] {
			if r.ChatID != chatID {
				continue
			}
			if len(r.Audio) == 0 {
				return nil, ErrNoAudio
			}
			return r.Audio, nil
		}
	}
	return nil, ErrChatNotFound
}

// MoodHistory 返回用户的情绪历史。
func (s *Store) MoodHistory(userID string) []chat.MoodEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.MoodEntry{}, s.moods[userID]...)
}
