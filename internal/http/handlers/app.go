package handlers

import (
	"encoding/json"
	"net/http"

	"modabot/internal/bot"
	"modabot/internal/infra"
)

// defaultUser is the ownership key for jobs submitted over plain HTTP without
// an explicit user parameter.
const defaultUser = "api"

type App struct {
	Bot    *bot.Orchestrator
	Logger *infra.Logger
}

func NewApp(b *bot.Orchestrator, logger *infra.Logger) *App {
	return &App{Bot: b, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	if user := r.URL.Query().Get("user"); user != "" {
		return user
	}
	return defaultUser
}
