package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// sessionState is the on-disk shape of a persisted session.
type sessionState struct {
	SavedAt time.Time       `json:"saved_at"`
	URL     string          `json:"url"`
	Cookies []sessionCookie `json:"cookies"`
}

type sessionCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain"`
	Path    string    `json:"path"`
	Expires time.Time `json:"expires,omitempty"`
	Secure  bool      `json:"secure"`
}

// EnsureSession verifies the current session by loading the probe URL. A
// probe that lands on the login page means the session is absent or stale;
// one re-login is attempted before giving up.
func (cr *Crawler) EnsureSession(ctx context.Context) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	landed, err := cr.probe()
	if err == nil && !isLoginPage(landed) {
		return nil
	}
	if err != nil {
		cr.log.Warn("session probe failed, attempting login", zap.Error(err))
	} else {
		cr.log.Info("session stale, attempting login", zap.String("landed", landed))
	}

	if err := cr.login(); err != nil {
		return err
	}
	landed, err = cr.probe()
	if err != nil {
		return fmt.Errorf("crawler: post-login probe: %w", err)
	}
	if isLoginPage(landed) {
		return fmt.Errorf("crawler: login did not establish a session")
	}
	if cr.cfg.SessionFile != "" {
		if err := cr.saveSession(); err != nil {
			cr.log.Warn("failed to persist session state", zap.Error(err))
		}
	}
	cr.log.Info("session established")
	return nil
}

// probe loads the probe URL and reports the final URL after redirects.
func (cr *Crawler) probe() (string, error) {
	c := cr.base.Clone()
	var (
		landed string
		ferr   error
	)
	c.OnResponse(func(r *colly.Response) {
		landed = r.Request.URL.String()
	})
	c.OnError(func(_ *colly.Response, err error) {
		ferr = err
	})
	if err := c.Visit(cr.cfg.ProbeURL); err != nil {
		return "", err
	}
	c.Wait()
	if ferr != nil {
		return "", ferr
	}
	return landed, nil
}

// login submits the credential form. Single-sign-on variants are expected to
// provision the session file out of band; this path covers the plain
// username/password flow.
func (cr *Crawler) login() error {
	if cr.cfg.Username == "" || cr.cfg.Password == "" {
		return fmt.Errorf("crawler: no credentials configured")
	}
	c := cr.base.Clone()
	var ferr error
	c.OnError(func(_ *colly.Response, err error) {
		ferr = err
	})
	if err := c.Post(cr.cfg.LoginURL, map[string]string{
		"email":    cr.cfg.Username,
		"password": cr.cfg.Password,
	}); err != nil {
		return fmt.Errorf("crawler: login: %w", err)
	}
	c.Wait()
	if ferr != nil {
		return fmt.Errorf("crawler: login: %w", ferr)
	}
	return nil
}

func isLoginPage(landed string) bool {
	u, err := url.Parse(landed)
	if err != nil {
		return true
	}
	return strings.Contains(u.Path, "login")
}

// loadSession restores cookies from the session file into the jar.
func (cr *Crawler) loadSession() error {
	data, err := os.ReadFile(cr.cfg.SessionFile)
	if err != nil {
		return err
	}
	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("crawler: decode session file: %w", err)
	}
	u, err := url.Parse(state.URL)
	if err != nil {
		return fmt.Errorf("crawler: session file url: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		cookies = append(cookies, &http.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
			Secure:  c.Secure,
		})
	}
	cr.jar.SetCookies(u, cookies)
	cr.log.Debug("session state loaded",
		zap.String("file", cr.cfg.SessionFile),
		zap.Int("cookies", len(cookies)),
		zap.Time("saved_at", state.SavedAt))
	return nil
}

// saveSession writes the jar's cookies for the probe URL back to disk.
func (cr *Crawler) saveSession() error {
	u, err := url.Parse(cr.cfg.ProbeURL)
	if err != nil {
		return err
	}
	state := sessionState{
		SavedAt: time.Now().UTC(),
		URL:     cr.cfg.ProbeURL,
	}
	for _, c := range cr.jar.Cookies(u) {
		state.Cookies = append(state.Cookies, sessionCookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
			Secure:  c.Secure,
		})
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cr.cfg.SessionFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(cr.cfg.SessionFile, data, 0o600)
}
