package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/alexjbarnes/authgate/internal/credstore"
	"github.com/alexjbarnes/authgate/internal/events"
)

// Wire field names of the refresh endpoint.
const (
	refreshTokenField = "refreshToken"
	accessTokenField  = "accessToken"
)

// maxRefreshBody caps how much of the refresh response is read.
const maxRefreshBody = 1 << 20

// refreshRequest is the JSON body sent to the refresh endpoint.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refresher performs the credential refresh operation: exchange the
// refresh credential for a new access credential, or tear the session
// down when the exchange fails. Exactly one refresher call runs at a
// time; the gateway's single-flight group guarantees it.
type refresher struct {
	url    string
	client Doer
	store  credstore.Store
	bus    events.Bus
	logger *slog.Logger
}

// run executes one refresh. It returns the new access credential, or ""
// when the session was terminated. Failures are absorbed here and never
// surface as errors: the caller's contract is to fall back to the
// original authorization failure.
func (r *refresher) run(ctx context.Context) string {
	// Re-read the refresh credential: it may have been cleared between
	// the caller's check and this call settling into the flight slot.
	refresh, err := r.store.Get(credstore.RefreshTokenKey)
	if err != nil || refresh == "" {
		return r.terminate("refresh credential missing", nil)
	}

	payload, err := json.Marshal(refreshRequest{RefreshToken: refresh})
	if err != nil {
		return r.terminate("encoding refresh request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return r.terminate("creating refresh request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		// A network failure while refreshing is indistinguishable from a
		// rejection as far as the waiting callers are concerned: the
		// session cannot be proven valid, so it ends.
		return r.terminate("calling refresh endpoint", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRefreshBody))
	if err != nil {
		return r.terminate("reading refresh response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Debug("refresh endpoint rejected credential",
			slog.Int("status", resp.StatusCode))

		return r.terminate("refresh endpoint returned non-success status", nil)
	}

	token := gjson.GetBytes(body, accessTokenField).Str
	if token == "" {
		return r.terminate("refresh response missing access credential", nil)
	}

	if err := r.store.Set(credstore.AccessTokenKey, token); err != nil {
		// The new credential is valid even if persisting it failed; the
		// waiting callers can still retry with it. The next process
		// start will have to re-authenticate.
		r.logger.Warn("persisting renewed access credential", slog.Any("error", err))
	}

	r.logger.Info("access credential renewed")
	r.bus.Publish(events.CredentialRenewed)

	return token
}

// terminate clears both credentials, announces the end of the session,
// and resolves the refresh with failure. The access and refresh
// credentials are always cleared together: a session that cannot
// refresh has no valid credentials left.
func (r *refresher) terminate(reason string, err error) string {
	_ = r.store.Remove(credstore.AccessTokenKey)
	_ = r.store.Remove(credstore.RefreshTokenKey)

	if err != nil {
		r.logger.Warn("session terminated",
			slog.String("reason", reason), slog.Any("error", err))
	} else {
		r.logger.Warn("session terminated", slog.String("reason", reason))
	}

	r.bus.Publish(events.SessionTerminated)

	return ""
}
