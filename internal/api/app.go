package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/reelrec/internal/catalog"
	"github.com/kalambet/reelrec/internal/metrics"
	"github.com/kalambet/reelrec/internal/session"
	"github.com/kalambet/reelrec/internal/users"
)

type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
	Name     string `json:"name" validate:"required,max=200"`
	Captcha  string `json:"captcha"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type PasswordRequest struct {
	Password string `json:"password" validate:"required,max=1024"`
}

type RecommendResponse struct {
	Title   string   `json:"title"`
	Titles  []string `json:"titles"`
	Partial bool     `json:"partial,omitempty"`
}

// UserView is a user record without its credential.
type UserView struct {
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Recent    []string `json:"recent"`
	History   int      `json:"history_len"`
	CreatedAt string   `json:"created_at"`
}

type AppDeps struct {
	Controller *session.Controller
	Sessions   *session.Registry
	Users      users.Store
	Catalog    *catalog.Catalog
	AdminToken string // guards /admin; empty disables it
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/titles", handleTitles(deps))

	r.Group(func(r chi.Router) {
		r.Use(WithSession(deps.Sessions))

		r.Get("/captcha", handleCaptcha(deps))
		r.Post("/signup", handleSignUp(deps))
		r.Post("/signin", handleSignIn(deps))
		r.Post("/signout", handleSignOut(deps))
		r.Post("/password", handlePassword(deps))
		r.Get("/me", handleMe(deps))
		r.Get("/recommend", handleRecommend(deps))
		r.Get("/surprise", handleSurprise(deps))
	})

	if deps.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(BearerAuth(deps.AdminToken))
			r.Get("/stats", handleAdminStats(deps))
			r.Post("/users", handleAdminCreateUser(deps))
			r.Get("/users/{email}", handleAdminGetUser(deps))
			r.Post("/users/{email}/password", handleAdminSetPassword(deps))
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleTitles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 200)
		items := deps.Catalog.Search(r.URL.Query().Get("q"), limit)
		if items == nil {
			items = []catalog.Item{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleCaptcha(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cur := sessionFrom(r)
		next, err := deps.Controller.NewCaptcha(cur)
		if err != nil {
			writeError(w, err)
			return
		}
		setCaptcha := func(s session.Session) session.Session {
			s.Captcha = next.Captcha
			return s
		}
		if _, ok := deps.Sessions.Update(cur.ID, setCaptcha); !ok {
			// Signed out or evicted mid-request; issue the challenge on a fresh session.
			fresh := deps.Sessions.Put(setCaptcha(session.New("")))
			setSessionCookie(w, r, fresh.ID)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"captcha":  next.Captcha,
			"required": deps.Controller.RequireCaptcha(),
		})
	}
}

func handleSignUp(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignUpRequest
		if !decodeBody(w, r, &req) {
			return
		}
		cur := sessionFrom(r)
		next, err := deps.Controller.SignUp(r.Context(), cur, req.Email, req.Password, req.Name, req.Captcha)
		metrics.ObserveAuth("signup", err)
		deps.Sessions.Update(cur.ID, func(s session.Session) session.Session {
			s.Captcha = next.Captcha
			return s
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
	}
}

func handleSignIn(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignInRequest
		if !decodeBody(w, r, &req) {
			return
		}
		cur := sessionFrom(r)
		next, err := deps.Controller.SignIn(r.Context(), cur, req.Email, req.Password)
		metrics.ObserveAuth("signin", err)
		if err != nil {
			writeError(w, err)
			return
		}

		// New identity, new id.
		deps.Sessions.Delete(cur.ID)
		next.ID = ""
		next = deps.Sessions.Put(next)
		setSessionCookie(w, r, next.ID)

		p, err := deps.Controller.Profile(r.Context(), next)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleSignOut(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Controller.SignOut(sessionFrom(r))
		deps.Sessions.Delete(s.ID)
		clearSessionCookie(w)
		writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
	}
}

func handlePassword(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PasswordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if _, err := deps.Controller.ResetPassword(r.Context(), sessionFrom(r), req.Password); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleMe(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Controller.Profile(r.Context(), sessionFrom(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleRecommend(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		title := r.URL.Query().Get("title")
		if title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}
		k := parseIntParam(r, "k", 0, 100)

		res, err := deps.Controller.Recommend(r.Context(), sessionFrom(r), title, k)
		metrics.ObserveRecommendation("recommend", res.Partial, err)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, RecommendResponse{Title: title, Titles: res.Titles, Partial: res.Partial})
	}
}

func handleSurprise(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		title, err := deps.Controller.Surprise(r.Context(), sessionFrom(r))
		metrics.ObserveRecommendation("surprise", false, err)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"title": title})
	}
}

// StatsView is the operator summary served at /admin/stats.
type StatsView struct {
	Users    int `json:"users"`
	Titles   int `json:"titles"`
	Sessions int `json:"sessions"`
}

func handleAdminStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatsView{
			Users:    deps.Users.Len(),
			Titles:   deps.Catalog.Len(),
			Sessions: deps.Sessions.Len(),
		})
	}
}

func handleAdminCreateUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignUpRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := deps.Users.Register(r.Context(), req.Email, req.Password, req.Name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "registered", "email": req.Email})
	}
}

func handleAdminGetUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		rec, err := deps.Users.Get(r.Context(), email)
		if errors.Is(err, users.ErrUnknownUser) {
			httpError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, UserView{
			Email:     rec.Email,
			Name:      rec.Name,
			Recent:    rec.Recent(users.RecentLimit),
			History:   len(rec.History),
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
}

func handleAdminSetPassword(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PasswordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		err := deps.Users.ResetPassword(r.Context(), chi.URLParam(r, "email"), req.Password)
		if errors.Is(err, users.ErrUnknownUser) {
			httpError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
