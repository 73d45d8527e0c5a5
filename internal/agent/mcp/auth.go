package mcp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerAgentID   = "x-agent-id"
	headerTS        = "x-ts"
	headerSignature = "x-signature"
	headerNonce     = "x-nonce"

	signatureWindow = 5 * time.Minute
)

func canonicalString(ts string, method string, pathname string, rawBody []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + pathname + "\n" + string(rawBody)
}

func canonicalStringV2(ts string, method string, pathname string, agentID string, nonce string, rawBody []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + pathname + "\n" + strings.TrimSpace(agentID) + "\n" + strings.TrimSpace(nonce) + "\n" + string(rawBody)
}

func signHMAC(secret []byte, canonical string) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

type hmacVerifyResult struct {
	SessionKey string
	Signature  string
	HTTPStatus int
	Message    string
}

func unauthorized(msg string) hmacVerifyResult {
	return hmacVerifyResult{HTTPStatus: http.StatusUnauthorized, Message: msg}
}

// verifyHMAC checks the v2 signature (with nonce), falling back to the
// nonce-less form only when allowLegacy is set.
func verifyHMAC(r *http.Request, rawBody []byte, secret []byte, allowLegacy bool, now time.Time) hmacVerifyResult {
	agentID := strings.TrimSpace(r.Header.Get(headerAgentID))
	if agentID == "" {
		return unauthorized("missing x-agent-id")
	}
	tsStr := strings.TrimSpace(r.Header.Get(headerTS))
	if tsStr == "" {
		return unauthorized("missing x-ts")
	}
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(headerSignature)))
	if sig == "" {
		return unauthorized("missing x-signature")
	}
	nonce := strings.TrimSpace(r.Header.Get(headerNonce))
	if nonce == "" && !allowLegacy {
		return unauthorized("missing x-nonce")
	}

	tsMS, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return unauthorized("bad x-ts")
	}
	if d := now.Sub(time.UnixMilli(tsMS)); d > signatureWindow || d < -signatureWindow {
		return unauthorized("x-ts outside window")
	}

	ok := func(exp string) bool { return hmac.Equal([]byte(sig), []byte(exp)) }
	if nonce != "" && ok(signHMAC(secret, canonicalStringV2(tsStr, r.Method, r.URL.Path, agentID, nonce, rawBody))) {
		return hmacVerifyResult{SessionKey: agentID, Signature: sig}
	}
	if allowLegacy && ok(signHMAC(secret, canonicalString(tsStr, r.Method, r.URL.Path, rawBody))) {
		return hmacVerifyResult{SessionKey: agentID, Signature: sig}
	}
	return unauthorized("bad signature")
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
