package api

import (
	"encoding/base64"
	"net/http"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/tee"
)

func (s *Server) handleTEEPublicKey(w http.ResponseWriter, r *http.Request) {
	id := idParam(r)
	key, err := s.sealed.PublicKey(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"algorithm":  key.Algorithm,
		"public_key": base64.StdEncoding.EncodeToString(key.PublicKey),
		"attestation": map[string]interface{}{
			"tee_type":    key.Attestation.TEEType,
			"evidence":    base64.StdEncoding.EncodeToString(key.Attestation.Evidence),
			"measurement": base64.StdEncoding.EncodeToString(key.Attestation.Measurement),
			"timestamp":   key.Attestation.Timestamp.Unix(),
		},
	})
}

type sealedSecretRequest struct {
	Algorithm  string `json:"algorithm"`
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

func (s *Server) handleTEESealedSecrets(w http.ResponseWriter, r *http.Request) {
	id := idParam(r)
	var req sealedSecretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	ciphertext, err := base64.StdEncoding.DecodeString(req.Ciphertext)
	if err != nil {
		writeErr(w, apierr.InvalidInput("ciphertext", "must be base64-encoded"))
		return
	}
	var nonce []byte
	if req.Nonce != "" {
		nonce, err = base64.StdEncoding.DecodeString(req.Nonce)
		if err != nil {
			writeErr(w, apierr.InvalidInput("nonce", "must be base64-encoded"))
			return
		}
	}

	result, err := s.sealed.Inject(r.Context(), id, tee.SealedSecret{
		Algorithm:  req.Algorithm,
		Ciphertext: ciphertext,
		Nonce:      nonce,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       result.Success,
		"secrets_count": result.SecretsCount,
		"error":         result.Error,
	})
}
