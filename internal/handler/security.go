package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireSecret gates an endpoint behind a shared secret presented as a
// bearer credential. The presented and expected values are compared as
// HMAC-SHA256 digests so the comparison is constant time regardless of
// credential length.
func requireSecret(secret string, next http.HandlerFunc) http.HandlerFunc {
	expected := digest(secret)
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare(digest(token), expected) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := auth[len(prefix):]
	return token, token != ""
}

// digest hashes a credential for comparison. The key is fixed: this is not
// secret storage, only length normalization for ConstantTimeCompare.
func digest(s string) []byte {
	mac := hmac.New(sha256.New, []byte("perks-auth"))
	mac.Write([]byte(s))
	return mac.Sum(nil)
}
