package sessionkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tableorder/sessionkit/credential"
	"github.com/tableorder/sessionkit/role"
	"github.com/tableorder/sessionkit/transport"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	DisplayName  string `json:"display_name,omitempty"`
	AvatarURL    string `json:"avatar_url,omitempty"`
}

type loginErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Login authenticates with an identifier and secret against the auth
// endpoint and adopts the returned session. Rejections map onto the error
// taxonomy so callers can route each case differently; in particular
// [ErrOAuthAccountNoSecret] must lead to the set-a-password flow, not a
// generic "wrong password" message.
func (m *Manager) Login(ctx context.Context, identifier, secret string) (Snapshot, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return Snapshot{}, ErrManagerClosed
	}

	payload, err := json.Marshal(loginRequest{Identifier: identifier, Secret: secret})
	if err != nil {
		return m.Snapshot(), fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(transport.WithoutAuth(ctx),
		http.MethodPost, m.cfg.Endpoints.AuthURL, bytes.NewReader(payload))
	if err != nil {
		return m.Snapshot(), fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.authClient().Do(req)
	if err != nil {
		// Transport failure: no state change, the user retries.
		return m.Snapshot(), fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		loginErr := classifyLoginError(resp)
		m.metrics.Inc(MetricLoginFailure)
		m.emit(ctx, Event{Type: EventLoginFailed, Subject: identifier, Error: loginErr.Error()})
		m.log.Debug().Str("identifier", identifier).Err(loginErr).Msg("login rejected")
		return m.Snapshot(), loginErr
	}

	var token loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return m.Snapshot(), fmt.Errorf("decode login response: %w", err)
	}

	claims, err := credential.Decode(token.AccessToken)
	if err != nil {
		return m.Snapshot(), fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	m.adoptSession(ctx, token.AccessToken, token.RefreshToken, claims, token.DisplayName, token.AvatarURL)
	m.metrics.Inc(MetricLoginSuccess)
	m.emit(ctx, Event{
		Type:    EventLoginSucceeded,
		Subject: claims.Subject,
		Role:    string(role.Canonicalize(claims.Role)),
	})

	return m.Snapshot(), nil
}

// LoginExternal adopts a session minted outside this client, typically by
// a federated login completing in another surface. The refresh capability
// is persisted alongside the credential under the same contract as a
// password login. When a profile endpoint is configured, display name and
// avatar are fetched in the background; the session is usable immediately.
func (m *Manager) LoginExternal(ctx context.Context, rawCredential, refreshCapability string) (Snapshot, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return Snapshot{}, ErrManagerClosed
	}

	claims, err := credential.Decode(rawCredential)
	if err != nil {
		return m.Snapshot(), fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	m.adoptSession(ctx, rawCredential, refreshCapability, claims, "", "")
	m.metrics.Inc(MetricLoginExternal)
	m.emit(ctx, Event{
		Type:    EventLoginSucceeded,
		Subject: claims.Subject,
		Role:    string(role.Canonicalize(claims.Role)),
		Fields:  map[string]string{"source": "external"},
	})

	if m.cfg.Endpoints.ProfileURL != "" {
		m.wg.Add(1)
		go m.enrichProfile(claims.Subject)
	}

	return m.Snapshot(), nil
}

// adoptSession persists and publishes a freshly obtained session.
func (m *Manager) adoptSession(ctx context.Context, rawCredential, refreshCapability string, claims *credential.Claims, displayName, avatarURL string) {
	m.store.SetSession(ctx, rawCredential, refreshCapability)

	identity := identityFromClaims(claims)
	identity.DisplayName = displayName
	identity.AvatarURL = avatarURL

	m.mu.Lock()
	m.snap = Snapshot{
		State:     StateAuthenticated,
		Identity:  identity,
		ExpiresAt: claims.ExpiresAt,
	}
	m.expiredOnce = false
	m.mu.Unlock()
	m.notifyWatchers()
}

func (m *Manager) authClient() *http.Client {
	return &http.Client{
		Transport: m.base,
		Timeout:   m.cfg.HTTP.RequestTimeout,
	}
}

func classifyLoginError(resp *http.Response) error {
	var body loginErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(data, &body)

	switch body.Error {
	case "bad_credentials":
		return ErrBadCredentials
	case "account_locked":
		return ErrAccountLocked
	case "unknown_account":
		return ErrAccountUnknown
	case "oauth_no_secret":
		return ErrOAuthAccountNoSecret
	}
	return fmt.Errorf("login rejected: status %d", resp.StatusCode)
}

type profileResponse struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// enrichProfile fetches cosmetic profile fields after an external login.
// Failures are logged and dropped; the session never depends on them.
func (m *Manager) enrichProfile(subject string) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HTTP.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.Endpoints.ProfileURL, nil)
	if err != nil {
		m.log.Debug().Err(err).Msg("profile enrichment skipped")
		return
	}

	// Through the coordinator, so the fetch carries the session credential
	// and survives an expiring-right-now token.
	resp, err := m.Client().Do(req)
	if err != nil {
		m.log.Debug().Err(err).Msg("profile enrichment failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		m.log.Debug().Int("status", resp.StatusCode).Msg("profile enrichment rejected")
		return
	}

	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		m.log.Debug().Err(err).Msg("profile enrichment undecodable")
		return
	}

	m.mu.Lock()
	// The session may have rotated under the fetch; only decorate the
	// identity it was fetched for.
	if m.snap.Identity.Subject != subject || !m.snap.Authenticated() {
		m.mu.Unlock()
		return
	}
	if profile.DisplayName != "" {
		m.snap.Identity.DisplayName = profile.DisplayName
	}
	if profile.AvatarURL != "" {
		m.snap.Identity.AvatarURL = profile.AvatarURL
	}
	m.mu.Unlock()

	m.notifyWatchers()
	m.metrics.Inc(MetricProfileEnriched)
	m.emit(ctx, Event{Type: EventProfileEnriched, Subject: subject})
}
