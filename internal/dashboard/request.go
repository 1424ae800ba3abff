package dashboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"procodus.dev/irrigation-dashboard/internal/api"
	"procodus.dev/irrigation-dashboard/internal/session"
)

// request is the per-request view of the session.
type request struct {
	sess *session.Session
	id   session.Identity
	api  *api.Client
}

type pageFunc func(w http.ResponseWriter, r *http.Request, rq *request)

const (
	msgLoginRequired  = "Please log in to continue."
	msgSessionExpired = "Your session has expired. Please log in again."
	msgNoCrop         = "Select a crop first."
)

// load binds the session and identity to the request.
func (s *Server) load(w http.ResponseWriter, r *http.Request) (*request, error) {
	sess := s.sessions.Load(w, r)
	id, err := sess.Identity(r.Context())
	if err != nil {
		return nil, err
	}
	return &request{sess: sess, id: id, api: s.api.WithToken(id.Token)}, nil
}

// public serves pages that need no login.
func (s *Server) public(fn pageFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rq, err := s.load(w, r)
		if err != nil {
			s.logger.Error("failed to load session", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		fn(w, r, rq)
	}
}

// private serves pages that require a logged-in user. Anonymous requests are
// sent to the login page.
func (s *Server) private(fn pageFunc) http.HandlerFunc {
	return s.public(func(w http.ResponseWriter, r *http.Request, rq *request) {
		if !rq.id.Authenticated() {
			if r.URL.Path == "/live/stream" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			s.flash(r.Context(), rq, session.Warning, msgLoginRequired)
			redirect(w, r, "/login")
			return
		}
		fn(w, r, rq)
	})
}

func redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func (s *Server) flash(ctx context.Context, rq *request, sev session.Severity, msg string) {
	if err := rq.sess.AddFlash(ctx, sev, msg); err != nil {
		s.logger.Warn("failed to queue toast", "error", err, "message", msg)
	}
}

// expire logs the user out after the backend rejected the token.
func (s *Server) expire(w http.ResponseWriter, r *http.Request, rq *request) {
	if err := rq.sess.Clear(r.Context()); err != nil {
		s.logger.Error("failed to clear session", "error", err)
	}
	s.flash(r.Context(), rq, session.Warning, msgSessionExpired)
	redirect(w, r, "/login")
}

// report turns a backend failure into a toast. It returns false when the
// session expired; the response has then been written already.
func (s *Server) report(w http.ResponseWriter, r *http.Request, rq *request, err error, fallback string) bool {
	if api.IsUnauthorized(err) {
		s.expire(w, r, rq)
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	s.logger.Warn("backend call failed", "path", r.URL.Path, "error", err)
	s.flash(r.Context(), rq, session.Error, api.UserMessage(err, fallback))
	return true
}

// fail reports err and sends the browser back to a page.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, rq *request, err error, fallback, back string) {
	if s.report(w, r, rq, err, fallback) {
		redirect(w, r, back)
	}
}

// requireUser checks the user id precondition without calling the backend.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request, rq *request) bool {
	if rq.id.UserID != 0 {
		return true
	}
	s.flash(r.Context(), rq, session.Warning, "Your account id is unknown. Please log in again.")
	redirect(w, r, "/login")
	return false
}

func pathInt(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return v, err == nil && v > 0
}

var errNotFinite = errors.New("value must be a finite number")

// formFloat parses a finite number; NaN and infinities are rejected.
func formFloat(r *http.Request, name string) (float64, error) {
	v, err := strconv.ParseFloat(r.PostFormValue(name), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s: %w", name, errNotFinite)
	}
	return v, nil
}
