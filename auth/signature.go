package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediagent/credentials"
)

// Header names carried by every signed command
const (
	HeaderSiteKey   = "Site-Key"
	HeaderTimestamp = "Timestamp"
	HeaderSignature = "Signature"
)

const (
	// MaxAge is how old a signed request may be before it is rejected
	MaxAge = 300 * time.Second
	// MaxSkew is how far ahead of our clock a timestamp may be
	MaxSkew = 60 * time.Second
)

// Code is a machine-readable authentication failure reason
type Code string

const (
	CodeMissingCredentials Code = "missing_credentials"
	CodeUnknownSite        Code = "unknown_site"
	CodeExpired            Code = "expired"
	CodeFutureTimestamp    Code = "future_timestamp"
	CodeBadSignature       Code = "bad_signature"
)

// Error is returned by Validate for every rejected request
type Error struct {
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return "auth: " + string(e.Code)
	}
	return "auth: " + string(e.Code) + ": " + e.Reason
}

// Is lets errors.Is match on the code alone
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrMissingCredentials = &Error{Code: CodeMissingCredentials}
	ErrUnknownSite        = &Error{Code: CodeUnknownSite}
	ErrExpired            = &Error{Code: CodeExpired}
	ErrFutureTimestamp    = &Error{Code: CodeFutureTimestamp}
	ErrBadSignature       = &Error{Code: CodeBadSignature}
)

// SecretSource resolves a site key to its shared secret.
// It must return credentials.ErrUnknownSite for unregistered keys.
type SecretSource interface {
	SiteSecret(siteKey string) (string, error)
}

// Authenticator verifies signed commands from the controlling platform.
// It holds no mutable state and is safe for concurrent use.
type Authenticator struct {
	secrets SecretSource
	now     func() time.Time
}

func New(secrets SecretSource) *Authenticator {
	return &Authenticator{secrets: secrets, now: time.Now}
}

// WithClock returns a copy that reads time from now; used in tests
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	return &Authenticator{secrets: a.secrets, now: now}
}

// Validate checks headers and body of one request.
// The signature is hex(HMAC-SHA256(secret, timestamp + "." + body)).
func (a *Authenticator) Validate(h http.Header, body []byte) error {
	siteKey := strings.TrimSpace(h.Get(HeaderSiteKey))
	rawTS := strings.TrimSpace(h.Get(HeaderTimestamp))
	rawSig := strings.TrimSpace(h.Get(HeaderSignature))
	if siteKey == "" || rawTS == "" || rawSig == "" {
		return ErrMissingCredentials
	}

	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return &Error{Code: CodeMissingCredentials, Reason: "malformed timestamp"}
	}

	secret, err := a.secrets.SiteSecret(siteKey)
	if err != nil {
		if errors.Is(err, credentials.ErrUnknownSite) {
			return ErrUnknownSite
		}
		return &Error{Code: CodeUnknownSite, Reason: err.Error()}
	}

	now := a.now().Unix()
	if now-ts > int64(MaxAge/time.Second) {
		return ErrExpired
	}
	if ts-now > int64(MaxSkew/time.Second) {
		return ErrFutureTimestamp
	}

	given, err := hex.DecodeString(rawSig)
	if err != nil {
		return &Error{Code: CodeBadSignature, Reason: "signature is not hex"}
	}
	if !hmac.Equal(given, mac(secret, rawTS, body)) {
		return ErrBadSignature
	}
	return nil
}

// Sign produces the hex signature a client sends for ts and body
func Sign(secret string, ts int64, body []byte) string {
	return hex.EncodeToString(mac(secret, strconv.FormatInt(ts, 10), body))
}

// SignRequest sets the three auth headers on an outgoing request
func SignRequest(r *http.Request, siteKey, secret string, ts int64, body []byte) {
	r.Header.Set(HeaderSiteKey, siteKey)
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	r.Header.Set(HeaderSignature, Sign(secret, ts, body))
}

func mac(secret, ts string, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(ts))
	m.Write([]byte{'.'})
	m.Write(body)
	return m.Sum(nil)
}
