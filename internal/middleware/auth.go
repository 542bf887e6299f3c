package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/zhouzirui/mindease/client/pkg/utils"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidBearer = errors.New("invalid authorization header")
)

// TokenVerifier 把令牌解析为用户 ID。
type TokenVerifier interface {
	Authenticate(token string) (string, error)
}

type userIDKey struct{}

// Auth 校验 Bearer 令牌，失败时返回 401。
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearer(r)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, err.Error())
				return
			}
			userID, err := verifier.Authenticate(token)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
		})
	}
}

// UserID 返回 Auth 写入上下文的用户 ID。
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidBearer
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrInvalidBearer
	}
	return token, nil
}
