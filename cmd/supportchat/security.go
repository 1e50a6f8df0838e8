package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"supportchat/internal/config"
	"supportchat/internal/constants"
)

// presenceSignatureHeader carries "sha256=<hex HMAC of the body>"
const presenceSignatureHeader = "X-Presence-Signature"

// verifySignature reads the body, checks its HMAC-SHA256 signature and
// returns the body. Without a secret the body is accepted outside production.
func verifySignature(r *http.Request, secretKey, signatureHeaderName string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, constants.DefaultMaxRequestBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > constants.DefaultMaxRequestBodyBytes {
		return nil, fmt.Errorf("request body too large")
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secretKey == "" {
		if config.IsProduction() {
			return nil, fmt.Errorf("webhook secret is required in production mode")
		}
		return body, nil
	}

	signatureHeader := r.Header.Get(signatureHeaderName)
	if signatureHeader == "" {
		return nil, fmt.Errorf("missing signature header: %s", signatureHeaderName)
	}

	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "sha256" {
		return nil, fmt.Errorf("invalid signature format in header %s", signatureHeaderName)
	}

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(strings.ToLower(parts[1]))) {
		return nil, fmt.Errorf("signature mismatch")
	}
	return body, nil
}
