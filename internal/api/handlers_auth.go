package api

import (
	"net/http"
	"time"

	"github.com/tangle-network/sandbox-controlplane/internal/sessionauth"
)

type challengeResponse struct {
	Nonce     string `json:"nonce"`
	Message   string `json:"message"`
	ExpiresAt int64  `json:"expires_at"`
}

type sessionRequest struct {
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

type sessionResponse struct {
	Token     string `json:"token"`
	Address   string `json:"address"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleAuthChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := s.auth.Challenges.Create()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeResponse{
		Nonce:     challenge.Nonce,
		Message:   challenge.Message,
		ExpiresAt: challenge.ExpiresAt.Unix(),
	})
}

func (s *Server) handleAuthSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	sig, err := sessionauth.DecodeSignatureHex(req.Signature)
	if err != nil {
		writeErr(w, err)
		return
	}

	token, address, err := s.auth.ExchangeSession(req.Nonce, sig)
	if err != nil {
		writeErr(w, err)
		return
	}

	session, err := s.auth.Sessions.Validate(token)
	expiresAt := time.Now().Add(0).Unix()
	if err == nil {
		expiresAt = session.ExpiresAt.Unix()
	}

	writeJSON(w, http.StatusOK, sessionResponse{Token: token, Address: address, ExpiresAt: expiresAt})
}
