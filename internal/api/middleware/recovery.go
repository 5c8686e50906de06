package middleware

import (
	"net/http"
	"runtime/debug"

	"positionbot/pkg/utils"
)

// Recovery перехватывает panic в handlers и не даёт упасть серверу.
//
// Текст паники клиенту не отдаётся - только 500, детали
// остаются в логах вместе со stack trace.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.Log.Errorw("Паника в HTTP handler",
					"error", err,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
