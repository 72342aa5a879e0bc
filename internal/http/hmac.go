package httpx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log"
	"net"
	"net/http"
	"strings"
)

// HMACHeader carries the hex HMAC-SHA256 of a POST body
const HMACHeader = "X-PhantomTrail-HMAC"

// HMACAuth verifies signed observation payloads. The signing key is
// derived from the shared secret and the client IP, so a captured
// signature cannot be replayed from another address.
type HMACAuth struct {
	secret      []byte
	publicKey   []byte
	requireHMAC bool
	trustProxy  bool
}

// NewHMACAuth creates a new HMAC authentication handler
func NewHMACAuth(secret, publicKey string, requireHMAC, trustProxy bool) *HMACAuth {
	auth := &HMACAuth{
		secret:      []byte(secret),
		requireHMAC: requireHMAC,
		trustProxy:  trustProxy,
	}

	if publicKey != "" {
		if decoded, err := base64.StdEncoding.DecodeString(publicKey); err == nil {
			auth.publicKey = decoded
		} else {
			log.Printf("hmac: invalid HMAC_PUBLIC_KEY format, using derived key")
		}
	}

	// If no public key provided or invalid, derive from secret
	if len(auth.publicKey) == 0 && len(auth.secret) > 0 {
		auth.publicKey = derivePublicKey(auth.secret)
	}

	return auth
}

// Required reports whether unsigned requests are rejected
func (h *HMACAuth) Required() bool { return h != nil && h.requireHMAC }

func derivePublicKey(secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("phantomtrail-public-key-derivation"))
	return mac.Sum(nil)[:16]
}

// GetPublicKeyBase64 returns the base64-encoded public key for client use
func (h *HMACAuth) GetPublicKeyBase64() string {
	if len(h.publicKey) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(h.publicKey)
}

// Sign returns the signature a client at clientIP must send for payload
func (h *HMACAuth) Sign(payload []byte, clientIP string) string {
	if len(h.secret) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, h.deriveClientKey(clientIP))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// deriveClientKey is HMAC(secret, "client-key:" + ip)
func (h *HMACAuth) deriveClientKey(clientIP string) []byte {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte("client-key:" + normalizeIP(clientIP)))
	return mac.Sum(nil)
}

// normalizeIP strips a port and IPv6 brackets
func normalizeIP(addr string) string {
	if strings.HasPrefix(addr, "[") {
		if idx := strings.LastIndex(addr, "]"); idx > 0 {
			return addr[1:idx]
		}
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// VerifyHMAC validates the HMAC signature for a request
func (h *HMACAuth) VerifyHMAC(r *http.Request, payload []byte) bool {
	if !h.requireHMAC {
		return true
	}
	if len(h.secret) == 0 {
		log.Printf("hmac: verification failed: no secret configured")
		return false
	}

	provided := r.Header.Get(HMACHeader)
	if provided == "" {
		log.Printf("hmac: verification failed: missing %s header", HMACHeader)
		return false
	}

	clientIP := clientIPFromRequest(r, h.trustProxy)
	if !hmac.Equal([]byte(strings.ToLower(provided)), []byte(h.Sign(payload, clientIP))) {
		log.Printf("hmac: verification failed for ip=%s", clientIP)
		return false
	}
	return true
}

// clientIPFromRequest prefers forwarding headers only behind a trusted proxy
func clientIPFromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
