package gateway

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryLeeway treats a credential expiring within this window as
// already expired, so a request does not leave with a token that will
// be dead on arrival.
const expiryLeeway = 10 * time.Second

// tokenExpired reports whether token is a JWT whose exp claim is in the
// past (within leeway). The signature is not verified; this is a hint
// to skip a doomed round trip, not an authorization decision, and the
// server remains the authority. Opaque credentials and JWTs without an
// exp claim report false and rely on the reactive 401 path.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return exp.Before(now.Add(expiryLeeway))
}
