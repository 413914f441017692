package device

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func browserRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0")
	r.Header.Set("Accept", "text/html")
	r.Header.Set("Accept-Language", "en-US,en;q=0.5")
	r.Header.Set("Accept-Encoding", "gzip, deflate, br")
	r.Header.Set("Connection", "keep-alive")
	r.Header.Set("DNT", "1")
	r.Header.Set("Upgrade-Insecure-Requests", "1")
	r.Header.Set("Sec-Fetch-Site", "none")
	return r
}

func TestFingerprintDeterministic(t *testing.T) {
	f := New(Config{Salt: []byte("deployment-salt")})
	a := f.FromRequest(browserRequest())
	b := f.FromRequest(browserRequest())
	if a != b {
		t.Fatal("expected same input to produce same fingerprint")
	}
	if !Valid(a) {
		t.Fatalf("expected 64 lowercase hex chars, got %q", a)
	}
	if a == Fallback {
		t.Fatal("expected a real fingerprint, got fallback")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	f := New(Config{Salt: []byte("deployment-salt")})
	base := f.FromRequest(browserRequest())

	ua := browserRequest()
	ua.Header.Set("User-Agent", "curl/8.5.0")
	if f.FromRequest(ua) == base {
		t.Fatal("expected different user agent to change fingerprint")
	}

	ip := browserRequest()
	ip.RemoteAddr = "198.51.100.4:51234"
	if f.FromRequest(ip) == base {
		t.Fatal("expected different ip to change fingerprint")
	}

	port := browserRequest()
	port.RemoteAddr = "203.0.113.7:60000"
	if f.FromRequest(port) != base {
		t.Fatal("expected source port to be ignored")
	}

	other := New(Config{Salt: []byte("other-salt")})
	if other.FromRequest(browserRequest()) == base {
		t.Fatal("expected salt to change fingerprint")
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	f := New(Config{})
	a := f.Fingerprint(Metadata{UserAgent: "ab", Accept: "c", IP: "192.0.2.1"})
	b := f.Fingerprint(Metadata{UserAgent: "a", Accept: "bc", IP: "192.0.2.1"})
	if a == b {
		t.Fatal("expected shifted field boundaries to produce different fingerprints")
	}
}

func TestFingerprintNeverContainsIP(t *testing.T) {
	f := New(Config{})
	h := f.HashIP("203.0.113.7")
	if len(h) != 16 {
		t.Fatalf("expected 16 hex chars, got %d", len(h))
	}
	if strings.Contains(f.Fingerprint(Metadata{IP: "203.0.113.7"}), "203.0.113.7") {
		t.Fatal("raw ip leaked into fingerprint")
	}
}

func TestFromRequestFallback(t *testing.T) {
	f := New(Config{})
	if got := f.FromRequest(nil); got != Fallback {
		t.Fatalf("expected fallback for nil request, got %q", got)
	}

	bad := browserRequest()
	bad.RemoteAddr = "not-an-address"
	if got := f.FromRequest(bad); got != Fallback {
		t.Fatalf("expected fallback for unparsable address, got %q", got)
	}
	if !Valid(Fallback) {
		t.Fatal("expected fallback to be a well-formed fingerprint")
	}
}

func TestProxyHeaders(t *testing.T) {
	direct := New(Config{})
	proxied := New(Config{TrustProxyHeaders: true})

	a := browserRequest()
	a.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
	b := browserRequest()
	b.Header.Set("X-Forwarded-For", "198.51.100.10, 10.0.0.1")

	if direct.FromRequest(a) != direct.FromRequest(b) {
		t.Fatal("expected forwarded header to be ignored without trust")
	}
	if proxied.FromRequest(a) == proxied.FromRequest(b) {
		t.Fatal("expected forwarded client ip to be used when trusted")
	}

	m, err := proxied.Metadata(a)
	if err != nil || m.IP != "198.51.100.9" {
		t.Fatalf("expected first forwarded hop, got %q, %v", m.IP, err)
	}

	xri := browserRequest()
	xri.Header.Set("X-Real-IP", "198.51.100.20")
	m, err = proxied.Metadata(xri)
	if err != nil || m.IP != "198.51.100.20" {
		t.Fatalf("expected x-real-ip, got %q, %v", m.IP, err)
	}
}

func TestEqualAndValid(t *testing.T) {
	f := New(Config{})
	a := f.FromRequest(browserRequest())
	if !Equal(a, a) || Equal(a, Fallback) || Equal(a, a[:63]) {
		t.Fatal("unexpected Equal result")
	}
	for _, bad := range []string{"", strings.ToUpper(a), a + "0", strings.Repeat("g", 64)} {
		if Valid(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}
