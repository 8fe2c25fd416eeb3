// Package signature authenticates inbound webhook bodies against shared secrets.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/khabaroff/pcn-tracker/src/logging"
	"github.com/khabaroff/pcn-tracker/src/models"
)

var (
	// ErrMissingSignature is returned when the signature header is absent
	ErrMissingSignature = errors.New("missing signature")

	// ErrInvalidSignature is returned when no configured secret produces the signature
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNoSecret is returned when verification is required but no secret is configured
	ErrNoSecret = errors.New("no signing secret configured")
)

// Verifier checks that body was signed by the sender
type Verifier interface {
	Verify(body []byte, header http.Header) error
}

// VerifyFunc adapts a function to Verifier
type VerifyFunc func(body []byte, header http.Header) error

func (f VerifyFunc) Verify(body []byte, header http.Header) error {
	return f(body, header)
}

// Encoding of the signature digest
type Encoding string

const (
	Hex    Encoding = "hex"
	Base64 Encoding = "base64"
)

// HMACVerifier checks an HMAC-SHA256 of the raw body carried in a single header.
// A match against any of Secrets (current, then previous during rotation) is accepted.
type HMACVerifier struct {
	Header   string
	Prefix   string
	Encoding Encoding
	Secrets  []string
}

// NewHMACVerifier builds a verifier, ignoring empty secrets
func NewHMACVerifier(header, prefix string, encoding Encoding, secrets ...string) *HMACVerifier {
	return &HMACVerifier{Header: header, Prefix: prefix, Encoding: encoding, Secrets: nonEmpty(secrets)}
}

func (v *HMACVerifier) Verify(body []byte, header http.Header) error {
	if len(v.Secrets) == 0 {
		return ErrNoSecret
	}

	got := strings.TrimSpace(header.Get(v.Header))
	if got == "" {
		return fmt.Errorf("%w: %s header is empty", ErrMissingSignature, v.Header)
	}
	got = strings.TrimPrefix(got, v.Prefix)

	for _, secret := range v.Secrets {
		if timingSafeEqual(got, sign(secret, body, v.Encoding)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// TimestampedVerifier checks "t=<unix>,v1=<hex>" signatures over "t.body" and
// rejects timestamps outside Tolerance.
type TimestampedVerifier struct {
	Header    string
	Secrets   []string
	Tolerance time.Duration
	Now       func() time.Time
}

// DefaultTolerance bounds replay of a captured timestamped signature
const DefaultTolerance = 3 * time.Minute

// NewTimestampedVerifier builds a verifier, ignoring empty secrets
func NewTimestampedVerifier(header string, tolerance time.Duration, secrets ...string) *TimestampedVerifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &TimestampedVerifier{Header: header, Secrets: nonEmpty(secrets), Tolerance: tolerance, Now: time.Now}
}

func (v *TimestampedVerifier) Verify(body []byte, header http.Header) error {
	if len(v.Secrets) == 0 {
		return ErrNoSecret
	}

	raw := strings.TrimSpace(header.Get(v.Header))
	if raw == "" {
		return fmt.Errorf("%w: %s header is empty", ErrMissingSignature, v.Header)
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed %s header", ErrInvalidSignature, v.Header)
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if age := now().Sub(time.Unix(unix, 0)); age > v.Tolerance || age < -v.Tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	message := append([]byte(timestamp+"."), body...)
	for _, secret := range v.Secrets {
		expected := sign(secret, message, Hex)
		for _, sig := range signatures {
			if timingSafeEqual(sig, expected) {
				return nil
			}
		}
	}
	return ErrInvalidSignature
}

// Disabled accepts every request and logs a warning the first time it is used
func Disabled(source models.EventSource) Verifier {
	var once sync.Once
	return VerifyFunc(func([]byte, http.Header) error {
		once.Do(func() {
			logger := logging.NewLogger("signature")
			logger.Warn().Str("source", string(source)).
				Msg("webhook signature verification is disabled; enable it in production")
		})
		return nil
	})
}

// Registry maps a webhook source to its verifier
type Registry struct {
	verifiers map[models.EventSource]Verifier
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[models.EventSource]Verifier)}
}

// Register sets the verifier for source
func (r *Registry) Register(source models.EventSource, v Verifier) {
	r.verifiers[source] = v
}

// Lookup returns the verifier for source
func (r *Registry) Lookup(source models.EventSource) (Verifier, bool) {
	v, ok := r.verifiers[source]
	return v, ok
}

// Options configures the default registry
type Options struct {
	Enabled                bool
	GHLSecret              string
	GHLPreviousSecret      string
	CalendlySecret         string
	CalendlyPreviousSecret string
	CalendlyTolerance      time.Duration
}

const (
	// GHLHeader carries "sha256=<hex>" over the raw body
	GHLHeader = "X-Webhook-Signature"
	// CalendlyHeader carries "t=<unix>,v1=<hex>"
	CalendlyHeader = "Calendly-Webhook-Signature"
)

// NewDefaultRegistry wires the verifiers for every known source
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	if !opts.Enabled {
		r.Register(models.SourceGHL, Disabled(models.SourceGHL))
		r.Register(models.SourceCalendly, Disabled(models.SourceCalendly))
		return r
	}
	r.Register(models.SourceGHL, NewHMACVerifier(GHLHeader, "sha256=", Hex, opts.GHLSecret, opts.GHLPreviousSecret))
	r.Register(models.SourceCalendly, NewTimestampedVerifier(CalendlyHeader, opts.CalendlyTolerance,
		opts.CalendlySecret, opts.CalendlyPreviousSecret))
	return r
}

// Sign returns the encoded HMAC-SHA256 of message; exported for tests and tooling
func Sign(secret string, message []byte, encoding Encoding) string {
	return sign(secret, message, encoding)
}

func sign(secret string, message []byte, encoding Encoding) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	sum := mac.Sum(nil)
	if encoding == Base64 {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

func timingSafeEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

func nonEmpty(secrets []string) []string {
	out := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
