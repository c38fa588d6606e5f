package server

import "github.com/afsalb/deep-researcher/internal/research"

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type StartResearchRequest struct {
	Topic string `json:"topic"`
}

type StartResearchResponse struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
}

type StatusResponse struct {
	RunID    string  `json:"run_id"`
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

type ChatResponse struct {
	Turn research.Turn `json:"turn"`
}

type HistoryResponse struct {
	Turns []research.Turn `json:"turns"`
}

type HTTPError struct {
	Error string `json:"error"`
}
