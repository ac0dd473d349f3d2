package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はpanicを回収して500レスポンスを返すミドルウェアを生成する。
// panicは内側のアクセスログを経由しないため、recorderがnilでなければここで500を記録する。
func NewRecoveryMiddleware(recorder StatusRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				attrs := []any{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				}
				if accountID, err := UserIDFromContext(r.Context()); err == nil {
					attrs = append(attrs, slog.String("account_id", accountID))
				}
				slog.Error("panic recovered", attrs...)

				WriteInternalServerError(w)
				if recorder != nil {
					recorder.RecordHTTPStatus(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
