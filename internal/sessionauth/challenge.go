package sessionauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
)

const challengeTTL = 300 * time.Second

// ChallengeLedger tracks outstanding auth challenges in memory. It is
// intentionally not persisted to the crash-safe store: a challenge lost on
// restart simply forces the caller to request a new one.
type ChallengeLedger struct {
	mu         sync.Mutex
	challenges map[string]model.Challenge
	now        func() time.Time
}

func NewChallengeLedger() *ChallengeLedger {
	return &ChallengeLedger{
		challenges: make(map[string]model.Challenge),
		now:        time.Now,
	}
}

// Create draws a fresh 32-byte nonce and records its expiry.
func (l *ChallengeLedger) Create() (model.Challenge, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return model.Challenge{}, apierr.Wrap(apierr.KindAuth, "failed to generate challenge nonce", err)
	}
	nonceHex := hex.EncodeToString(nonce)
	now := l.now()
	expiresAt := now.Add(challengeTTL)
	message := fmt.Sprintf(
		"Sign this message to authenticate with Tangle Sandbox.\n\nNonce: %s\nExpires: %s",
		nonceHex, expiresAt.Format(time.RFC3339),
	)
	challenge := model.Challenge{Nonce: nonceHex, Message: message, ExpiresAt: expiresAt}

	l.mu.Lock()
	l.challenges[nonceHex] = challenge
	l.mu.Unlock()

	return challenge, nil
}

// Consume atomically removes and validates the nonce (property P4: a
// successful consume prevents any later consumption of the same nonce).
func (l *ChallengeLedger) Consume(nonce string) (model.Challenge, error) {
	l.mu.Lock()
	challenge, ok := l.challenges[nonce]
	if ok {
		delete(l.challenges, nonce)
	}
	l.mu.Unlock()

	if !ok {
		return model.Challenge{}, apierr.Unauthorized("unknown or already-used challenge")
	}
	if challenge.Expired(l.now()) {
		return model.Challenge{}, apierr.Unauthorized("challenge expired")
	}
	return challenge, nil
}

// GC drops every challenge that has expired, independent of consumption.
func (l *ChallengeLedger) GC() int {
	now := l.now()
	removed := 0
	l.mu.Lock()
	for nonce, c := range l.challenges {
		if c.Expired(now) {
			delete(l.challenges, nonce)
			removed++
		}
	}
	l.mu.Unlock()
	return removed
}
