package verifier

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"hash"
	"net/http"
	"strings"
)

const (
	SchemeHMACSHA256Hex    = "hmac-sha256-hex"
	SchemeHMACSHA256Base64 = "hmac-sha256-base64"
	SchemeHMACSHA512Hex    = "hmac-sha512-hex"
	SchemeHMACSHA1Hex      = "hmac-sha1-hex"
	SchemeToken            = "token"
)

// Rejection reasons, used as metric labels.
const (
	ReasonMissingSignature    = "missing_signature"
	ReasonMalformedSignature  = "malformed_signature"
	ReasonMismatch            = "mismatch"
	ReasonNoSecret            = "no_secret"
	ReasonUnsupportedProvider = "unsupported_provider"
)

type rejection struct {
	reason string
}

func (r *rejection) Error() string {
	return "signature rejected: " + r.reason
}

func reasonOf(err error) string {
	var r *rejection
	if errors.As(err, &r) {
		return r.reason
	}
	return ReasonMismatch
}

// Scheme checks one provider's documented signature format against every
// configured secret. A request is authentic if any secret matches.
type Scheme interface {
	Name() string
	Header() string
	Verify(body []byte, headers http.Header, secrets []string) error
}

type hmacScheme struct {
	name     string
	header   string
	prefix   string
	newHash  func() hash.Hash
	encoding string
}

func (s hmacScheme) Name() string   { return s.name }
func (s hmacScheme) Header() string { return s.header }

func (s hmacScheme) Verify(body []byte, headers http.Header, secrets []string) error {
	if len(secrets) == 0 {
		return &rejection{reason: ReasonNoSecret}
	}

	value := strings.TrimSpace(headers.Get(s.header))
	if value == "" {
		return &rejection{reason: ReasonMissingSignature}
	}
	if s.prefix != "" {
		if !strings.HasPrefix(value, s.prefix) {
			return &rejection{reason: ReasonMalformedSignature}
		}
		value = strings.TrimPrefix(value, s.prefix)
	}

	var (
		provided []byte
		err      error
	)
	switch s.encoding {
	case "base64":
		provided, err = base64.StdEncoding.DecodeString(value)
	default:
		provided, err = hex.DecodeString(strings.ToLower(value))
	}
	if err != nil || len(provided) == 0 {
		return &rejection{reason: ReasonMalformedSignature}
	}

	matched := 0
	for _, secret := range secrets {
		mac := hmac.New(s.newHash, []byte(secret))
		_, _ = mac.Write(body)
		// Every secret is checked so timing does not reveal which one matched.
		matched |= subtle.ConstantTimeCompare(provided, mac.Sum(nil))
	}
	if matched != 1 {
		return &rejection{reason: ReasonMismatch}
	}
	return nil
}

type tokenScheme struct {
	header string
}

func (s tokenScheme) Name() string   { return SchemeToken }
func (s tokenScheme) Header() string { return s.header }

func (s tokenScheme) Verify(_ []byte, headers http.Header, secrets []string) error {
	if len(secrets) == 0 {
		return &rejection{reason: ReasonNoSecret}
	}

	value := strings.TrimSpace(headers.Get(s.header))
	if value == "" {
		return &rejection{reason: ReasonMissingSignature}
	}

	matched := 0
	for _, secret := range secrets {
		matched |= subtle.ConstantTimeCompare([]byte(value), []byte(secret))
	}
	if matched != 1 {
		return &rejection{reason: ReasonMismatch}
	}
	return nil
}

// NewScheme builds a scheme by name. prefix only applies to HMAC schemes.
func NewScheme(name, header, prefix string) (Scheme, error) {
	switch name {
	case SchemeHMACSHA256Hex:
		return hmacScheme{name: name, header: header, prefix: prefix, newHash: sha256.New, encoding: "hex"}, nil
	case SchemeHMACSHA256Base64:
		return hmacScheme{name: name, header: header, prefix: prefix, newHash: sha256.New, encoding: "base64"}, nil
	case SchemeHMACSHA512Hex:
		return hmacScheme{name: name, header: header, prefix: prefix, newHash: sha512.New, encoding: "hex"}, nil
	case SchemeHMACSHA1Hex:
		return hmacScheme{name: name, header: header, prefix: prefix, newHash: sha1.New, encoding: "hex"}, nil
	case SchemeToken:
		return tokenScheme{header: header}, nil
	default:
		return nil, errors.New("unknown signature scheme: " + name)
	}
}

// Sign produces the header value a sender using scheme would attach. Used by
// tests and by the outbound webhook channel.
func Sign(scheme Scheme, secret string, body []byte) string {
	switch s := scheme.(type) {
	case hmacScheme:
		mac := hmac.New(s.newHash, []byte(secret))
		_, _ = mac.Write(body)
		sum := mac.Sum(nil)
		if s.encoding == "base64" {
			return s.prefix + base64.StdEncoding.EncodeToString(sum)
		}
		return s.prefix + hex.EncodeToString(sum)
	default:
		return secret
	}
}
