// Package gateway wraps an HTTP transport with bearer credential
// injection and transparent recovery from authorization failures.
//
// Every request is sent with the stored access credential. A 401
// response triggers a refresh of the credential against the configured
// refresh endpoint and a single retry of the original request.
// Concurrent requests that fail while the same credential is expired
// collapse onto one refresh call and share its outcome, so a burst of
// failures never consumes the refresh credential more than once.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alexjbarnes/authgate/internal/credstore"
	apperrors "github.com/alexjbarnes/authgate/internal/errors"
	"github.com/alexjbarnes/authgate/internal/events"
)

const (
	// refreshFlightKey is the single-flight key for credential refresh.
	// There is only one session, so one key.
	refreshFlightKey = "refresh"

	// drainLimit caps how much of a superseded response body is read
	// before closing it, to allow connection reuse without reading an
	// unbounded error page.
	drainLimit = 64 * 1024

	// defaultRefreshTimeout bounds the refresh endpoint call. The call is
	// detached from request contexts (other callers may depend on it), so
	// it needs its own deadline.
	defaultRefreshTimeout = 30 * time.Second
)

// Doer issues a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the collaborators and knobs for a Gateway.
type Config struct {
	// RefreshURL is the endpoint that exchanges a refresh credential for
	// a new access credential. Required.
	RefreshURL string

	// Store holds the access and refresh credentials. Required.
	Store credstore.Store

	// Bus receives lifecycle events. Required.
	Bus events.Bus

	// Logger for refresh activity. Credential values are never logged.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Transport issues the outbound requests. Defaults to a plain
	// http.Client with no timeout (callers control deadlines via
	// request contexts).
	Transport Doer

	// RefreshClient issues the refresh call. Defaults to an http.Client
	// with a 30 second timeout.
	RefreshClient Doer

	// DisableExpiryCheck turns off the proactive refresh of access
	// credentials that are JWTs with an exp claim already in the past.
	// Opaque credentials are unaffected either way.
	DisableExpiryCheck bool
}

// Gateway executes authenticated requests. It is safe for concurrent
// use and implements http.RoundTripper, so it can also be installed as
// an http.Client transport or a reverse proxy transport.
type Gateway struct {
	transport   Doer
	store       credstore.Store
	bus         events.Bus
	logger      *slog.Logger
	refresher   *refresher
	checkExpiry bool

	flight singleflight.Group
}

// New creates a Gateway from cfg, applying defaults for optional fields.
func New(cfg Config) (*Gateway, error) {
	if cfg.RefreshURL == "" {
		return nil, fmt.Errorf("gateway: RefreshURL is required")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("gateway: Store is required")
	}

	if cfg.Bus == nil {
		return nil, fmt.Errorf("gateway: Bus is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Client{}
	}

	refreshClient := cfg.RefreshClient
	if refreshClient == nil {
		refreshClient = &http.Client{Timeout: defaultRefreshTimeout}
	}

	return &Gateway{
		transport:   transport,
		store:       cfg.Store,
		bus:         cfg.Bus,
		logger:      logger,
		checkExpiry: !cfg.DisableExpiryCheck,
		refresher: &refresher{
			url:    cfg.RefreshURL,
			client: refreshClient,
			store:  cfg.Store,
			bus:    cfg.Bus,
			logger: logger,
		},
	}, nil
}

// Do sends req with the stored access credential attached as a bearer
// token. On a 401 it refreshes the credential (sharing one refresh call
// across concurrent failures) and retries the request once with the new
// credential. When recovery is not possible the original 401 response
// is returned unchanged. Transport errors propagate untouched, and no
// error kinds are introduced beyond what the transport raises.
func (g *Gateway) Do(req *http.Request) (*http.Response, error) {
	if err := ensureReplayable(req); err != nil {
		return nil, err
	}

	token := g.accessToken()
	if token != "" && g.checkExpiry && tokenExpired(token, time.Now()) {
		// The credential is a JWT that has already expired; sending it
		// would only buy a round trip to a guaranteed 401. Refresh first.
		g.logger.Debug("access credential expired, refreshing before send")

		if renewed := g.refresh(req.Context()); renewed != "" {
			token = renewed
		} else {
			token = g.accessToken()
		}
	}

	first := req.Clone(req.Context())
	if token != "" {
		first.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.transport.Do(first)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Authorization failure. Without a refresh credential there is
	// nothing to recover with; hand the 401 back as-is.
	if _, err := g.store.Get(credstore.RefreshTokenKey); err != nil {
		if !errors.Is(err, apperrors.ErrKeyNotFound) {
			g.logger.Warn("reading refresh credential", slog.Any("error", err))
		}

		return resp, nil
	}

	renewed := g.refresh(req.Context())
	if renewed == "" {
		return resp, nil
	}

	retry := req.Clone(req.Context())
	retry.Header.Set("Authorization", "Bearer "+renewed)

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			// The body cannot be replayed; the original failure is the
			// best answer we have.
			g.logger.Warn("replaying request body for retry", slog.Any("error", err))

			return resp, nil
		}

		retry.Body = body
	}

	// The 401 is superseded by the retry; release its connection.
	drain(resp)

	return g.transport.Do(retry)
}

// RoundTrip implements http.RoundTripper by delegating to Do.
func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	return g.Do(req)
}

// accessToken reads the access credential, treating any store problem
// as "unauthenticated". Requests without a credential are sent bare;
// not every endpoint requires authentication.
func (g *Gateway) accessToken() string {
	token, err := g.store.Get(credstore.AccessTokenKey)
	if err != nil {
		if !errors.Is(err, apperrors.ErrKeyNotFound) {
			g.logger.Warn("reading access credential", slog.Any("error", err))
		}

		return ""
	}

	return token
}

// refresh runs the refresh operation, collapsing concurrent callers
// onto one in-flight call. Returns the new access credential, or ""
// when the session could not be recovered. The refresh itself runs on a
// context detached from the caller's: a caller abandoning its request
// must not cancel a refresh other callers are waiting on.
func (g *Gateway) refresh(ctx context.Context) string {
	v, _, shared := g.flight.Do(refreshFlightKey, func() (any, error) {
		return g.refresher.run(context.WithoutCancel(ctx)), nil
	})

	if shared {
		g.logger.Debug("joined in-flight credential refresh")
	}

	token, _ := v.(string)

	return token
}

// ensureReplayable buffers req.Body and installs GetBody when the
// request has a body but no way to re-materialize it, so the single
// retry after a refresh can replay it. Requests built with
// http.NewRequest from a bytes or strings reader already carry GetBody
// and are left untouched.
func ensureReplayable(req *http.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()

	if err != nil {
		return fmt.Errorf("buffering request body: %w", err)
	}

	req.Body = io.NopCloser(bytes.NewReader(data))
	req.ContentLength = int64(len(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	return nil
}

// drain discards a bounded amount of the response body and closes it.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	resp.Body.Close()
}
