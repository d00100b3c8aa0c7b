package sessionauth

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
)

// Authenticator combines the challenge ledger, EIP-191 recovery, and the
// session manager into the full D-component flow.
type Authenticator struct {
	Challenges *ChallengeLedger
	Sessions   *SessionManager
}

func NewAuthenticator(sessions *SessionManager) *Authenticator {
	return &Authenticator{Challenges: NewChallengeLedger(), Sessions: sessions}
}

// ExchangeSession consumes nonce, recovers the signer from signature, and
// mints a session token for the recovered address.
func (a *Authenticator) ExchangeSession(nonce string, signature []byte) (token string, address string, err error) {
	challenge, err := a.Challenges.Consume(nonce)
	if err != nil {
		return "", "", err
	}

	address, err = RecoverAddress(challenge.Message, signature)
	if err != nil {
		return "", "", err
	}

	token, _, err = a.Sessions.Mint(address)
	if err != nil {
		return "", "", err
	}
	return token, address, nil
}

// Principal extracts and validates the bearer token from r, returning the
// recovered signer address. This is the Go equivalent of the Axum
// extractor described in spec §4.D.
func (a *Authenticator) Principal(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", apierr.Unauthorized("missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", apierr.Unauthorized("missing bearer token")
	}

	session, err := a.Sessions.Validate(token)
	if err != nil {
		return "", err
	}
	return session.Address, nil
}

// ConstantTimeEquals implements property P5: any comparison of a supplied
// secret/token against a stored one must run in constant time, regardless
// of where the mismatch occurs.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// DecodeSignatureHex parses the hex-encoded 65-byte signature supplied by
// clients over the session-exchange endpoint.
func DecodeSignatureHex(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(raw, "0x")
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, apierr.InvalidSignature(err)
	}
	return sig, nil
}
