// Package identity authenticates wallets by signature and issues stateless
// bearer sessions.
package identity

import (
	"context"
	"encoding/hex"
	"time"

	"ethapplist/internal/apperr"
	"ethapplist/internal/logger"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/pkg/errors"
)

const tokenName = "ethapplist_session"

// Store keeps the little server side state sessions need: revoked session
// ids and signatures that were already used to log in.
type Store interface {
	Revoke(ctx context.Context, id string, until time.Time) error
	IsRevoked(ctx context.Context, id string) (bool, error)
	Consume(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Config struct {
	AppName      string
	HashKey      []byte
	BlockKey     []byte
	SessionTTL   time.Duration
	AcceptWindow time.Duration
}

// Session is the authenticated wallet attached to a request.
type Session struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"token,omitempty"`
}

type Verifier struct {
	cfg    Config
	codecs []securecookie.Codec
	store  Store
	log    *logger.Logger
	now    func() time.Time
}

func NewVerifier(cfg Config, store Store, log *logger.Logger) *Verifier {
	maxAge := int(cfg.SessionTTL / time.Second)
	newCodec := func(hash, block []byte) securecookie.Codec {
		sc := securecookie.New(hash, block)
		sc.MaxAge(maxAge)
		sc.SetSerializer(securecookie.JSONEncoder{})
		return sc
	}

	return &Verifier{
		cfg:    cfg,
		codecs: []securecookie.Codec{newCodec(cfg.HashKey, cfg.BlockKey)},
		store:  store,
		log:    log,
		now:    time.Now,
	}
}

// Challenge returns the message the wallet must sign.
func (v *Verifier) Challenge(wallet string) (string, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return "", apperr.Validation("invalid wallet", map[string]string{"wallet": err.Error()})
	}
	return ChallengeMessage(v.cfg.AppName, w, v.now()), nil
}

// Verify checks that signature over message was produced by wallet and that
// message is a fresh challenge, then issues a session. A signature can be
// used only once.
func (v *Verifier) Verify(ctx context.Context, wallet, signature, message string) (*Session, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return nil, apperr.Unauthorized("invalid wallet address")
	}

	ch, err := parseChallenge(v.cfg.AppName, message)
	if err != nil {
		return nil, apperr.Unauthorized("malformed challenge: %v", err)
	}
	if ch.wallet != w {
		return nil, apperr.Unauthorized("challenge was issued for another wallet")
	}

	now := v.now()
	age := now.Sub(ch.at)
	if age > v.cfg.AcceptWindow || age < -v.cfg.AcceptWindow {
		return nil, apperr.Unauthorized("challenge expired or not yet valid")
	}

	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return nil, apperr.Unauthorized("invalid signature: %v", err)
	}
	if recovered != w {
		v.log.Info("Signature does not match wallet", "wallet", w, "recovered", recovered)
		return nil, apperr.Unauthorized("signature does not match wallet")
	}

	// keyed on the signed message, not the signature bytes, because a
	// signature has more than one valid encoding
	nonce := "challenge/" + hex.EncodeToString(keccak256([]byte(w), []byte(message)))
	fresh, err := v.store.Consume(ctx, nonce, 2*v.cfg.AcceptWindow)
	if err != nil {
		return nil, errors.Wrap(err, "consume signature nonce")
	}
	if !fresh {
		return nil, apperr.Unauthorized("signature already used")
	}

	s := &Session{
		ID:        uuid.NewString(),
		Wallet:    w,
		IssuedAt:  now.UTC(),
		ExpiresAt: now.Add(v.cfg.SessionTTL).UTC(),
	}
	token, err := securecookie.EncodeMulti(tokenName, s, v.codecs...)
	if err != nil {
		return nil, errors.Wrap(err, "encode session")
	}
	s.Token = token
	return s, nil
}

// Resolve maps a bearer token back to its session.
func (v *Verifier) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperr.Unauthorized("missing session token")
	}
	var s Session
	if err := securecookie.DecodeMulti(tokenName, token, &s, v.codecs...); err != nil {
		return nil, apperr.Unauthorized("invalid session token")
	}
	if !v.now().Before(s.ExpiresAt) {
		return nil, apperr.Unauthorized("session expired")
	}
	revoked, err := v.store.IsRevoked(ctx, s.ID)
	if err != nil {
		return nil, errors.Wrap(err, "check revocation")
	}
	if revoked {
		return nil, apperr.Unauthorized("session revoked")
	}
	s.Token = token
	return &s, nil
}

// Logout revokes the session for the rest of its lifetime.
func (v *Verifier) Logout(ctx context.Context, token string) error {
	s, err := v.Resolve(ctx, token)
	if err != nil {
		return err
	}
	if err := v.store.Revoke(ctx, s.ID, s.ExpiresAt); err != nil {
		return errors.Wrap(err, "revoke session")
	}
	return nil
}
