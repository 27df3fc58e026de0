// Package auth owns session token acquisition and proactive renewal.
// Credential handling, request signing, and the token endpoint are
// collaborator interfaces so the venue specifics stay out of the client core.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/marketwire/errs"
)

// Token is a session token with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token is usable at the given instant.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// CredentialProvider supplies the API credential pair.
type CredentialProvider interface {
	Credentials() (key, secret string, err error)
}

// Signer produces the request signature the token endpoint requires.
type Signer interface {
	Sign(secret, path, nonce, body string) (string, error)
}

// TokenEndpoint exchanges credentials for a fresh session token.
type TokenEndpoint interface {
	FetchToken(ctx context.Context) (Token, error)
}

const (
	defaultSafetyMargin = 2 * time.Minute
	defaultRetryInitial = time.Second
	defaultRetryMax     = 30 * time.Second
	defaultRetryGrowth  = 2.0
)

// Config tunes the authenticator.
type Config struct {
	// SafetyMargin is how long before expiry a renewal starts.
	SafetyMargin time.Duration
	// RetryInitial is the first retry delay after a failed fetch.
	RetryInitial time.Duration
	// RetryMax caps the retry delay.
	RetryMax time.Duration
	// OnToken, when set, receives every freshly acquired token.
	OnToken func(Token)
}

// Authenticator caches the session token and renews it ahead of expiry.
type Authenticator struct {
	endpoint TokenEndpoint
	log      logrus.FieldLogger
	margin   time.Duration
	retryLo  time.Duration
	retryHi  time.Duration
	onToken  func(Token)

	mu       sync.Mutex
	current  Token
	degraded bool

	forceCh chan struct{}
	now     func() time.Time
}

// New creates an authenticator backed by the given token endpoint.
func New(endpoint TokenEndpoint, cfg Config, log logrus.FieldLogger) *Authenticator {
	margin := cfg.SafetyMargin
	if margin <= 0 {
		margin = defaultSafetyMargin
	}
	retryLo := cfg.RetryInitial
	if retryLo <= 0 {
		retryLo = defaultRetryInitial
	}
	retryHi := cfg.RetryMax
	if retryHi <= 0 {
		retryHi = defaultRetryMax
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Authenticator{
		endpoint: endpoint,
		log:      log.WithField("component", "auth"),
		margin:   margin,
		retryLo:  retryLo,
		retryHi:  retryHi,
		onToken:  cfg.OnToken,
		mu:       sync.Mutex{},
		current:  Token{Value: "", ExpiresAt: time.Time{}},
		degraded: false,
		forceCh:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Token returns a usable session token, fetching one synchronously when the
// cache is empty or expired.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	current := a.current
	a.mu.Unlock()
	if current.Valid(a.now()) {
		return current.Value, nil
	}
	token, err := a.refresh(ctx)
	if err != nil {
		return "", err
	}
	return token.Value, nil
}

// ForceRefresh discards the cached token and fetches a new one, used when the
// venue rejects a token the client still believed valid.
func (a *Authenticator) ForceRefresh(ctx context.Context) (Token, error) {
	a.mu.Lock()
	a.current = Token{Value: "", ExpiresAt: time.Time{}}
	a.mu.Unlock()

	// Wake the renewal loop so its timer realigns with the new expiry.
	select {
	case a.forceCh <- struct{}{}:
	default:
	}
	return a.refresh(ctx)
}

// Degraded reports whether the last renewal attempt failed. The session keeps
// its public channels while degraded; only private operation is impaired.
func (a *Authenticator) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

func (a *Authenticator) refresh(ctx context.Context) (Token, error) {
	token, err := a.endpoint.FetchToken(ctx)
	if err != nil {
		a.mu.Lock()
		a.degraded = true
		a.mu.Unlock()
		return Token{}, errs.New("auth", errs.CodeAuth,
			errs.WithMessage("token fetch failed"),
			errs.WithCause(err))
	}
	a.mu.Lock()
	a.current = token
	a.degraded = false
	a.mu.Unlock()
	a.log.WithField("expires_at", token.ExpiresAt).Info("session token acquired")
	if a.onToken != nil {
		a.onToken(token)
	}
	return token, nil
}

// Run renews the token ahead of expiry until the context ends. Renewal
// failures retry with exponential backoff and flag the authenticator
// degraded until a fetch succeeds again.
func (a *Authenticator) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.retryLo
	bo.MaxInterval = a.retryHi
	bo.Multiplier = defaultRetryGrowth

	for {
		a.mu.Lock()
		current := a.current
		a.mu.Unlock()

		var wait time.Duration
		if current.Valid(a.now()) {
			wait = current.ExpiresAt.Sub(a.now()) - a.margin
			if wait < 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-a.forceCh:
			timer.Stop()
			continue
		case <-timer.C:
		}

		if _, err := a.refresh(ctx); err != nil {
			delay := bo.NextBackOff()
			if delay == backoff.Stop {
				delay = a.retryHi
			}
			a.log.WithError(err).WithField("retry_in", delay).Warn("token renewal failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		bo.Reset()
	}
}
