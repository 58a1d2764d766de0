package session

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"

	"github.com/kalambet/reelrec/internal/recommend"
	"github.com/kalambet/reelrec/internal/users"
)

// Recommender is the retrieval surface the controller drives.
type Recommender interface {
	Recommend(title string, k int) (recommend.Result, error)
	Surprise() (string, error)
}

// Profile is the view of the signed-in user.
type Profile struct {
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Recent []string `json:"recent"`
}

// Options tunes a Controller.
type Options struct {
	RequireCaptcha bool
	DefaultK       int
}

// Controller maps each user action to one session transition plus one core
// call. It holds no per-connection state.
type Controller struct {
	users   users.Store
	engine  Recommender
	opts    Options
	captcha func() (string, error)
}

// NewController creates a Controller over the shared user store and engine.
func NewController(store users.Store, engine Recommender, opts Options) *Controller {
	if opts.DefaultK <= 0 {
		opts.DefaultK = recommend.DefaultK
	}
	return &Controller{users: store, engine: engine, opts: opts, captcha: generateCaptcha}
}

// RequireCaptcha reports whether sign-up is gated by a captcha answer.
func (c *Controller) RequireCaptcha() bool { return c.opts.RequireCaptcha }

// NewCaptcha issues a fresh challenge on s.
func (c *Controller) NewCaptcha(s Session) (Session, error) {
	code, err := c.captcha()
	if err != nil {
		return s, err
	}
	s.Captcha = code
	return s, nil
}

// SignUp registers a new identity. It never signs the session in. When
// captcha gating is on, answer must match the pending challenge, which is
// consumed either way.
func (c *Controller) SignUp(ctx context.Context, s Session, email, password, name, answer string) (Session, error) {
	if c.opts.RequireCaptcha {
		pending := s.Captcha
		s.Captcha = ""
		if pending == "" || subtle.ConstantTimeCompare([]byte(pending), []byte(answer)) != 1 {
			return s, ErrCaptchaMismatch
		}
	}
	if err := c.users.Register(ctx, email, password, name); err != nil {
		return s, err
	}
	return s, nil
}

// SignIn authenticates s as email. On failure s is returned unchanged.
func (c *Controller) SignIn(ctx context.Context, s Session, email, password string) (Session, error) {
	if _, err := c.users.Authenticate(ctx, email, password); err != nil {
		return s, err
	}
	slog.Debug("session signed in", "session", s.ID, "email", email)
	return s.signedIn(email), nil
}

// SignOut clears the identity.
func (c *Controller) SignOut(s Session) Session {
	return s.signedOut()
}

// ResetPassword replaces the credential of the signed-in identity.
func (c *Controller) ResetPassword(ctx context.Context, s Session, newPassword string) (Session, error) {
	if !s.Authenticated() {
		return s, ErrNotAuthenticated
	}
	if err := c.users.ResetPassword(ctx, s.Email, newPassword); err != nil {
		return s, err
	}
	return s, nil
}

// Recommend returns up to k titles similar to title and records title in
// the user's history. k <= 0 uses the configured default.
func (c *Controller) Recommend(ctx context.Context, s Session, title string, k int) (recommend.Result, error) {
	if !s.Authenticated() {
		return recommend.Result{}, ErrNotAuthenticated
	}
	if k <= 0 {
		k = c.opts.DefaultK
	}
	res, err := c.engine.Recommend(title, k)
	if err != nil {
		return recommend.Result{}, err
	}
	if err := c.users.AppendHistory(ctx, s.Email, title); err != nil {
		return recommend.Result{}, fmt.Errorf("recording history: %w", err)
	}
	return res, nil
}

// Surprise returns a random title and records it in the user's history.
func (c *Controller) Surprise(ctx context.Context, s Session) (string, error) {
	if !s.Authenticated() {
		return "", ErrNotAuthenticated
	}
	title, err := c.engine.Surprise()
	if err != nil {
		return "", err
	}
	if err := c.users.AppendHistory(ctx, s.Email, title); err != nil {
		return "", fmt.Errorf("recording history: %w", err)
	}
	return title, nil
}

// Profile returns the signed-in user's name, email and recent history.
func (c *Controller) Profile(ctx context.Context, s Session) (Profile, error) {
	if !s.Authenticated() {
		return Profile{}, ErrNotAuthenticated
	}
	rec, err := c.users.Get(ctx, s.Email)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Name: rec.Name, Email: rec.Email, Recent: rec.Recent(users.RecentLimit)}, nil
}
