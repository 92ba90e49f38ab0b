package handler

import (
	"net/http"
	"strings"

	"github.com/hitoshi/scriptlabs/internal/metrics"
	"github.com/hitoshi/scriptlabs/internal/middleware"
	"github.com/hitoshi/scriptlabs/internal/model"
)

type healthResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	NodeEnv   string `json:"nodeEnv"`
}

// Health はプロセスの生存確認用ハンドラーを返す。DBには問い合わせない。
// GET /health
func Health(version, env string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, healthResponse{
			Success:   true,
			Message:   "Server is healthy",
			Timestamp: middleware.Timestamp(),
			Version:   version,
			NodeEnv:   env,
		})
	}
}

// StatsSnapshotter はリクエスト統計のスナップショットを返す。
type StatsSnapshotter interface {
	Snapshot() metrics.Snapshot
}

// Stats はリクエスト統計を返すハンドラーを返す。開発環境でのみルーティングされる。
// GET /api/stats
func Stats(stats StatsSnapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, successResponse{
			Success:   true,
			Data:      stats.Snapshot(),
			Timestamp: middleware.Timestamp(),
		})
	}
}

// notFound は未定義ルートへの応答を返す。/api配下はJSON、それ以外はテキストを返す。
func notFound(responder *middleware.ErrorResponder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			responder.Respond(w, r, model.NewAppErrorWithCode("API endpoint not found", http.StatusNotFound, model.ErrCodeEndpointNotFound))
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("The page cannot be found on backend. Frontend is served from Vercel."))
	}
}
