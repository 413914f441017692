package device

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
)

// Fallback is returned by FromRequest when connection metadata cannot be
// read. It is sha256("gotoken:device-fingerprint-unavailable").
const Fallback = "ebcbafe9d86b372ea5d0a54ffb5a4ac9b2cbd0d6b5b3590da4426333661eefd1"

const (
	// Size is the hex length of a fingerprint.
	Size      = 64
	ipHashLen = 16

	defaultSalt = "gotoken-device-v1"
)

var ErrNoRequest = errors.New("no request metadata")

// Metadata is the ordered tuple of connection attributes a fingerprint is
// computed from. Field order is part of the fingerprint.
type Metadata struct {
	UserAgent               string
	Accept                  string
	AcceptLanguage          string
	AcceptEncoding          string
	Connection              string
	DNT                     string
	UpgradeInsecureRequests string
	SecFetchSite            string
	IP                      string
}

func (m Metadata) fields() []string {
	return []string{
		m.UserAgent,
		m.Accept,
		m.AcceptLanguage,
		m.AcceptEncoding,
		m.Connection,
		m.DNT,
		m.UpgradeInsecureRequests,
		m.SecFetchSite,
	}
}

// Config configures a [Fingerprinter].
type Config struct {
	// Salt mixes a deployment secret into every digest. All replicas must
	// share it for fingerprints to match across instances.
	Salt []byte

	// TrustProxyHeaders takes the client IP from X-Forwarded-For or X-Real-IP.
	// Only enable behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

// Fingerprinter derives a salted, non-reversible client identifier.
type Fingerprinter struct {
	salt       []byte
	trustProxy bool
}

func New(cfg Config) *Fingerprinter {
	salt := cfg.Salt
	if len(salt) == 0 {
		salt = []byte(defaultSalt)
	}
	return &Fingerprinter{salt: append([]byte(nil), salt...), trustProxy: cfg.TrustProxyHeaders}
}

// HashIP returns the first 16 hex chars of the salted SHA-256 of ip.
func (f *Fingerprinter) HashIP(ip string) string {
	h := sha256.New()
	h.Write(f.salt)
	h.Write([]byte("|ip|"))
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))[:ipHashLen]
}

// Fingerprint returns the 64-char lowercase hex digest of m. The raw IP never
// enters the outer digest, only its truncated hash.
func (f *Fingerprinter) Fingerprint(m Metadata) string {
	h := sha256.New()
	h.Write(f.salt)
	for _, v := range m.fields() {
		h.Write([]byte(strconv.Itoa(len(v))))
		h.Write([]byte{':'})
		h.Write([]byte(v))
	}
	h.Write([]byte("ip:"))
	h.Write([]byte(f.HashIP(m.IP)))
	return hex.EncodeToString(h.Sum(nil))
}

// FromRequest fingerprints r. Any extraction error yields Fallback so that
// device binding never becomes an outage.
func (f *Fingerprinter) FromRequest(r *http.Request) string {
	m, err := f.Metadata(r)
	if err != nil {
		return Fallback
	}
	return f.Fingerprint(m)
}

// Metadata extracts the fingerprint inputs from r.
func (f *Fingerprinter) Metadata(r *http.Request) (Metadata, error) {
	if r == nil {
		return Metadata{}, ErrNoRequest
	}
	ip, err := clientIP(r, f.trustProxy)
	if err != nil {
		return Metadata{}, err
	}
	h := r.Header
	return Metadata{
		UserAgent:               h.Get("User-Agent"),
		Accept:                  h.Get("Accept"),
		AcceptLanguage:          h.Get("Accept-Language"),
		AcceptEncoding:          h.Get("Accept-Encoding"),
		Connection:              h.Get("Connection"),
		DNT:                     h.Get("DNT"),
		UpgradeInsecureRequests: h.Get("Upgrade-Insecure-Requests"),
		SecFetchSite:            h.Get("Sec-Fetch-Site"),
		IP:                      ip,
	}, nil
}

func clientIP(r *http.Request, trustProxy bool) (string, error) {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return normalizeIP(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return normalizeIP(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return normalizeIP(host)
}

func normalizeIP(raw string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return addr.Unmap().String(), nil
}

// Equal compares two fingerprints in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Valid reports whether fp is exactly 64 lowercase hex chars.
func Valid(fp string) bool {
	if len(fp) != Size {
		return false
	}
	for i := 0; i < len(fp); i++ {
		c := fp[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
