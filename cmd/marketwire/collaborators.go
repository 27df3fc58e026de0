package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/marketwire/internal/auth"
)

const (
	envAPIKey    = "MARKETWIRE_API_KEY"
	envAPISecret = "MARKETWIRE_API_SECRET"

	// Venue tokens live 15 minutes when unused.
	defaultTokenLifetime = 15 * time.Minute
)

// envCredentials reads the API key pair from the environment, which godotenv
// may have populated from a .env file.
type envCredentials struct {
	getenv func(string) string
}

func (c envCredentials) Credentials() (string, string, error) {
	key := strings.TrimSpace(c.getenv(envAPIKey))
	secret := strings.TrimSpace(c.getenv(envAPISecret))
	if key == "" || secret == "" {
		return "", "", fmt.Errorf("%s and %s must be set", envAPIKey, envAPISecret)
	}
	return key, secret, nil
}

// hmacSigner produces the venue REST signature: HMAC-SHA512 over the URI path
// concatenated with SHA256(nonce + body), keyed by the base64-decoded secret.
type hmacSigner struct{}

func (hmacSigner) Sign(secret, path, nonce, body string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	digest := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(path))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// restTokenEndpoint fetches websocket session tokens from the venue REST API.
type restTokenEndpoint struct {
	baseURL string
	path    string
	creds   auth.CredentialProvider
	signer  auth.Signer
	client  *http.Client
	now     func() time.Time
}

func newRESTTokenEndpoint(baseURL, path string, creds auth.CredentialProvider, signer auth.Signer) *restTokenEndpoint {
	return &restTokenEndpoint{
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    path,
		creds:   creds,
		signer:  signer,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
}

func (e *restTokenEndpoint) FetchToken(ctx context.Context) (auth.Token, error) {
	key, secret, err := e.creds.Credentials()
	if err != nil {
		return auth.Token{}, err
	}

	nonce := strconv.FormatInt(e.now().UnixMilli(), 10)
	form := url.Values{}
	form.Set("nonce", nonce)
	body := form.Encode()

	signature, err := e.signer.Sign(secret, e.path, nonce, body)
	if err != nil {
		return auth.Token{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+e.path, strings.NewReader(body))
	if err != nil {
		return auth.Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", key)
	req.Header.Set("API-Sign", signature)

	resp, err := e.client.Do(req)
	if err != nil {
		return auth.Token{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return auth.Token{}, fmt.Errorf("token request: unexpected status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return auth.Token{}, fmt.Errorf("token response: %w", err)
	}
	var parsed struct {
		Error  []string `json:"error"`
		Result struct {
			Token   string `json:"token"`
			Expires int64  `json:"expires"`
		} `json:"result"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return auth.Token{}, fmt.Errorf("token response: %w", err)
	}
	if len(parsed.Error) > 0 {
		return auth.Token{}, fmt.Errorf("token request rejected: %s", strings.Join(parsed.Error, "; "))
	}
	if parsed.Result.Token == "" {
		return auth.Token{}, fmt.Errorf("token response missing token")
	}

	lifetime := defaultTokenLifetime
	if parsed.Result.Expires > 0 {
		lifetime = time.Duration(parsed.Result.Expires) * time.Second
	}
	return auth.Token{
		Value:     parsed.Result.Token,
		ExpiresAt: e.now().Add(lifetime),
	}, nil
}
