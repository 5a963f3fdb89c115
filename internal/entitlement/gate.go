package entitlement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/signaldeck/signaldeck/internal/domain"
)

// Watcher is notified whenever the resolved VIP entitlement changes.
type Watcher func(vip bool)

// Gate resolves the current viewer's subscription tier. It never blocks
// consumers beyond the initial Loading flag: re-resolutions triggered by
// auth changes are best-effort and never flip Loading back to true.
type Gate struct {
	profiles domain.ProfileStore
	verifier *SessionVerifier
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	loading  bool
	userID   string
	profile  *domain.Profile
	watchers []Watcher
}

// New creates a Gate. The gate reports Loading until the first Resolve
// completes, including the no-session case.
func New(profiles domain.ProfileStore, verifier *SessionVerifier, timeout time.Duration, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gate{
		profiles: profiles,
		verifier: verifier,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "entitlement")),
		loading:  true,
	}
}

// OnChange registers a watcher called with the new VIP state after every
// entitlement change.
func (g *Gate) OnChange(w Watcher) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.watchers = append(g.watchers, w)
}

// Resolve performs the initial session resolution. An empty token means no
// session and resolves to not-VIP.
func (g *Gate) Resolve(ctx context.Context, token string) {
	g.resolve(ctx, token)
}

// AuthChanged re-resolves entitlement after a sign-in, sign-out, or token
// refresh. Sign-out (empty token) clears user and profile immediately,
// without waiting for any network round trip.
func (g *Gate) AuthChanged(ctx context.Context, token string) {
	if token == "" {
		g.clear()
		return
	}
	g.resolve(ctx, token)
}

// IsVIP reports whether the resolved profile grants gated access.
func (g *Gate) IsVIP() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.profile != nil && g.profile.VIP()
}

// Loading reports whether the first resolution is still in flight.
func (g *Gate) Loading() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loading
}

// UserID returns the resolved user id, if any.
func (g *Gate) UserID() (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.userID, g.userID != ""
}

// Profile returns a copy of the resolved profile, if any.
func (g *Gate) Profile() (domain.Profile, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.profile == nil {
		return domain.Profile{}, false
	}
	return *g.profile, true
}

func (g *Gate) resolve(ctx context.Context, token string) {
	var (
		userID  string
		profile *domain.Profile
	)

	if token != "" {
		uid, err := g.verifier.Verify(token)
		if err != nil {
			// An unverifiable token is the same as no session.
			g.logger.Debug("session verification failed",
				slog.String("error", err.Error()),
			)
		} else {
			userID = uid
			fetchCtx, cancel := context.WithTimeout(ctx, g.timeout)
			p, err := g.profiles.GetProfile(fetchCtx, uid)
			cancel()
			if err != nil {
				// A missing or unreadable profile row means not-VIP, not a
				// hard error.
				g.logger.Warn("profile resolution failed, treating as free tier",
					slog.String("user_id", uid),
					slog.String("error", err.Error()),
				)
			} else {
				profile = &p
			}
		}
	}

	g.apply(userID, profile)
}

func (g *Gate) clear() {
	g.apply("", nil)
}

// apply installs the new resolution and notifies watchers when the VIP bit
// changed. First resolution also clears Loading, which never turns true
// again afterwards.
func (g *Gate) apply(userID string, profile *domain.Profile) {
	g.mu.Lock()
	wasVIP := g.profile != nil && g.profile.VIP()
	g.userID = userID
	g.profile = profile
	g.loading = false
	nowVIP := profile != nil && profile.VIP()
	watchers := g.watchers
	g.mu.Unlock()

	if wasVIP != nowVIP {
		for _, w := range watchers {
			w(nowVIP)
		}
	}
}
