package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSecret = "Zq8Xr2Lw9Nc4Tb7Kp1Vh6Gm3Jy5Fs0Qa-Wu_Ei8Ox2Rk"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gotoken.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runAdmin(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsageErrors(t *testing.T) {
	if code, _, _ := runAdmin(t); code != exitUsage {
		t.Fatalf("expected usage exit without command, got %d", code)
	}
	if code, _, stderr := runAdmin(t, "frobnicate"); code != exitUsage || !strings.Contains(stderr, "unknown command") {
		t.Fatalf("expected unknown command, got %d %q", code, stderr)
	}
}

func TestIssueThenInspect(t *testing.T) {
	path := writeConfig(t, `
[secret]
value = "`+testSecret+`"
`)
	code, out, stderr := runAdmin(t, "-config", path, "issue", "-sub", "alice", "-claims", `{"role":"admin"}`)
	if code != exitOK {
		t.Fatalf("expected issue to succeed, got %d: %s", code, stderr)
	}
	raw := strings.TrimSpace(out)
	if strings.Count(raw, ".") != 2 {
		t.Fatalf("expected a compact JWT, got %q", raw)
	}

	code, out, stderr = runAdmin(t, "-config", path, "inspect", raw)
	if code != exitOK {
		t.Fatalf("expected inspect to succeed, got %d: %s", code, stderr)
	}
	var doc struct {
		Claims map[string]any `json:"claims"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("expected JSON output, got %v", err)
	}
	if doc.Claims["sub"] != "alice" || doc.Claims["role"] != "admin" {
		t.Fatalf("expected sub and role claims, got %v", doc.Claims)
	}

	if code, _, _ := runAdmin(t, "-config", path, "inspect", "-kind", "refresh", raw); code != exitFail {
		t.Fatalf("expected kind mismatch to fail, got %d", code)
	}
}

func TestAuditMinScore(t *testing.T) {
	path := writeConfig(t, `
[secret]
value = "`+testSecret+`"
`)
	code, out, _ := runAdmin(t, "-config", path, "audit")
	if code != exitOK {
		t.Fatalf("expected audit to succeed, got %d", code)
	}
	if !strings.Contains(out, `"score"`) {
		t.Fatalf("expected score in output, got %s", out)
	}
	if code, _, _ := runAdmin(t, "-config", path, "audit", "-min-score", "101"); code != exitFail {
		t.Fatalf("expected unreachable min score to fail, got %d", code)
	}
}

func TestJWKSAndRotation(t *testing.T) {
	hs := writeConfig(t, `
[secret]
value = "`+testSecret+`"
`)
	if code, _, stderr := runAdmin(t, "-config", hs, "jwks"); code != exitFail || !strings.Contains(stderr, "no public keys") {
		t.Fatalf("expected hs256 jwks to fail, got %d %q", code, stderr)
	}

	es := writeConfig(t, `
[signing]
method = "es256"
`)
	code, out, stderr := runAdmin(t, "-config", es, "rotate-signing")
	if code != exitOK {
		t.Fatalf("expected rotation to succeed, got %d: %s", code, stderr)
	}
	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.Unmarshal([]byte(out), &set); err != nil {
		t.Fatalf("expected JWKS JSON, got %v", err)
	}
	if len(set.Keys) != 2 {
		t.Fatalf("expected active and retired keys, got %d", len(set.Keys))
	}
}
