package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"positionbot/pkg/crypto"
)

func authedHandler(apiToken string) http.Handler {
	return Auth(apiToken)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuth(t *testing.T) {
	const token = "secret-api-token-for-tests-0123456789"

	hashed, err := crypto.HashToken(token)
	if err != nil {
		t.Fatalf("хэширование токена: %v", err)
	}

	tests := []struct {
		name       string
		configured string
		header     string
		wantCode   int
	}{
		{
			name:       "пустой токен - auth отключён",
			configured: "",
			header:     "",
			wantCode:   http.StatusOK,
		},
		{
			name:       "без заголовка - 401",
			configured: token,
			header:     "",
			wantCode:   http.StatusUnauthorized,
		},
		{
			name:       "неверный токен - 401",
			configured: token,
			header:     "Bearer wrong",
			wantCode:   http.StatusUnauthorized,
		},
		{
			name:       "верный токен",
			configured: token,
			header:     "Bearer " + token,
			wantCode:   http.StatusOK,
		},
		{
			name:       "bcrypt хэш в конфигурации, верный токен",
			configured: hashed,
			header:     "Bearer " + token,
			wantCode:   http.StatusOK,
		},
		{
			name:       "bcrypt хэш в конфигурации, неверный токен",
			configured: hashed,
			header:     "Bearer wrong",
			wantCode:   http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/positions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			authedHandler(tt.configured).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("код ответа: получили %d, ожидали %d", rec.Code, tt.wantCode)
			}
		})
	}
}
