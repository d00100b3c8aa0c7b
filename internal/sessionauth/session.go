package sessionauth

import (
	"sync"
	"time"

	"github.com/aidantwoods/go-paseto"
	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
)

const sessionTTL = time.Hour

// SessionManager mints and validates PASETO v4.local session tokens, and
// mirrors their claims in memory so a process that has not restarted can
// validate a token without re-running decryption.
type SessionManager struct {
	key      paseto.V4SymmetricKey
	mu       sync.Mutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewSessionManager derives the process symmetric key from envSecret (the
// raw SESSION_AUTH_SECRET value, possibly empty) and returns a ready
// manager.
func NewSessionManager(envSecret string) (*SessionManager, error) {
	raw, err := ProcessSymmetricKey(envSecret)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAuth, "failed to derive session symmetric key", err)
	}
	key, err := paseto.V4SymmetricKeyFromBytes(raw[:])
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAuth, "failed to construct paseto key", err)
	}
	return &SessionManager{
		key:      key,
		sessions: make(map[string]model.Session),
		now:      time.Now,
	}, nil
}

// Mint encrypts a fresh token for address and records its claims.
func (m *SessionManager) Mint(address string) (string, model.Session, error) {
	now := m.now()
	expiresAt := now.Add(sessionTTL)

	token := paseto.NewToken()
	token.SetIssuedAt(now)
	token.SetExpiration(expiresAt)
	token.SetString("address", address)

	encrypted := token.V4Encrypt(m.key, nil)

	session := model.Session{Address: address, IssuedAt: now, ExpiresAt: expiresAt}

	m.mu.Lock()
	m.sessions[encrypted] = session
	m.mu.Unlock()

	return encrypted, session, nil
}

// Validate consults the in-memory session map first, falling back to
// PASETO decryption so tokens issued by a now-restarted process still
// validate (property R2).
func (m *SessionManager) Validate(token string) (model.Session, error) {
	m.mu.Lock()
	session, ok := m.sessions[token]
	m.mu.Unlock()

	if ok {
		if session.Expired(m.now()) {
			return model.Session{}, apierr.TokenExpired()
		}
		return session, nil
	}

	parser := paseto.NewParser()
	parsed, err := parser.ParseV4Local(m.key, token, nil)
	if err != nil {
		return model.Session{}, apierr.Wrap(apierr.KindAuth, "invalid session token", err)
	}

	address, err := parsed.GetString("address")
	if err != nil {
		return model.Session{}, apierr.Unauthorized("session token missing address claim")
	}
	expiresAt, err := parsed.GetExpiration()
	if err != nil {
		return model.Session{}, apierr.Unauthorized("session token missing expiration claim")
	}
	issuedAt, err := parsed.GetIssuedAt()
	if err != nil {
		return model.Session{}, apierr.Unauthorized("session token missing issued-at claim")
	}

	recovered := model.Session{Address: address, IssuedAt: issuedAt, ExpiresAt: expiresAt}
	if recovered.Expired(m.now()) {
		return model.Session{}, apierr.TokenExpired()
	}

	m.mu.Lock()
	m.sessions[token] = recovered
	m.mu.Unlock()

	return recovered, nil
}

// GC drops every in-memory session whose expiry has passed. Restart-
// survivable validation is unaffected since it re-decrypts on demand.
func (m *SessionManager) GC() int {
	now := m.now()
	removed := 0
	m.mu.Lock()
	for token, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, token)
			removed++
		}
	}
	m.mu.Unlock()
	return removed
}
