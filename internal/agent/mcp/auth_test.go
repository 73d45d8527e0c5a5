package mcp

import (
	"bytes"
	"net/http"
	"testing"
	"time"
)

func TestHMAC_SignAndVerify_Vector(t *testing.T) {
	secret := []byte("topsecret")
	ts := "1700000000000"
	method := "POST"
	path := "/mcp"
	body := []byte("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"list_tools\"}")

	canon := canonicalString(ts, method, path, body)
	got := signHMAC(secret, canon)
	want := "8d8937fdcea524a9301a74e8e2e4b3ee64ea5ae993f29219d57d0cd3d276613b"
	if got != want {
		t.Fatalf("signature mismatch: got=%s want=%s", got, want)
	}

	req, _ := http.NewRequest(method, "http://example.invalid"+path, bytes.NewReader(body))
	req.Header.Set(headerAgentID, "agent_1")
	req.Header.Set(headerTS, ts)
	req.Header.Set(headerSignature, want)

	vr := verifyHMAC(req, body, secret, true, time.UnixMilli(1700000000000))
	if vr.HTTPStatus != 0 {
		t.Fatalf("expected ok, got status=%d msg=%s", vr.HTTPStatus, vr.Message)
	}
	if vr.SessionKey != "agent_1" {
		t.Fatalf("session key mismatch: %q", vr.SessionKey)
	}

	vr = verifyHMAC(req, body, secret, false, time.UnixMilli(1700000000000))
	if vr.HTTPStatus != http.StatusUnauthorized || vr.Message != "missing x-nonce" {
		t.Fatalf("expected legacy signature to be refused, got %+v", vr)
	}
}

func TestHMAC_VerifyV2(t *testing.T) {
	secret := []byte("topsecret")
	ts := "1700000000000"
	body := []byte(`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`)
	sig := signHMAC(secret, canonicalStringV2(ts, "POST", "/mcp", "agent_2", "n-1", body))

	req, _ := http.NewRequest("POST", "http://example.invalid/mcp", bytes.NewReader(body))
	req.Header.Set(headerAgentID, "agent_2")
	req.Header.Set(headerTS, ts)
	req.Header.Set(headerNonce, "n-1")
	req.Header.Set(headerSignature, sig)

	vr := verifyHMAC(req, body, secret, false, time.UnixMilli(1700000000000))
	if vr.HTTPStatus != 0 || vr.SessionKey != "agent_2" || vr.Signature != sig {
		t.Fatalf("unexpected verify result: %+v", vr)
	}

	req.Header.Set(headerNonce, "n-2")
	vr = verifyHMAC(req, body, secret, false, time.UnixMilli(1700000000000))
	if vr.Message != "bad signature" {
		t.Fatalf("expected bad signature for a different nonce, got %+v", vr)
	}
}

func TestHMAC_Verify_Expired(t *testing.T) {
	secret := []byte("topsecret")
	ts := "1700000000000"
	body := []byte("{\"jsonrpc\":\"2.0\"}")
	sig := signHMAC(secret, canonicalString(ts, "POST", "/mcp", body))

	req, _ := http.NewRequest("POST", "http://example.invalid/mcp", bytes.NewReader(body))
	req.Header.Set(headerAgentID, "agent_1")
	req.Header.Set(headerTS, ts)
	req.Header.Set(headerSignature, sig)

	vr := verifyHMAC(req, body, secret, true, time.UnixMilli(1700000000000+301_000))
	if vr.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", vr.HTTPStatus)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:9000": true,
		"[::1]:9000":     true,
		"192.0.2.1:1234": false,
		"localhost:1":    false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
