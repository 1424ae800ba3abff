package dashboard

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"procodus.dev/irrigation-dashboard/internal/api"
	"procodus.dev/irrigation-dashboard/internal/session"
)

// handleIndex sends the browser to the home or login page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, rq *request) {
	if rq.id.Authenticated() {
		redirect(w, r, "/home")
		return
	}
	redirect(w, r, "/login")
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request, rq *request) {
	if rq.id.Authenticated() {
		redirect(w, r, "/home")
		return
	}
	s.render(w, r, rq, "login", "Login", loginPage())
}

// handleLogin stores the token and identity returned by the backend.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, rq *request) {
	ctx := r.Context()
	creds := api.Credentials{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
	}
	if creds.Username == "" || creds.Password == "" {
		s.flash(ctx, rq, session.Warning, "Enter your username and password.")
		redirect(w, r, "/login")
		return
	}

	resp, err := s.api.Login(ctx, creds)
	if err != nil {
		s.logger.Info("login failed", "username", creds.Username, "error", err)
		s.flash(ctx, rq, session.Error, api.UserMessage(err, "Login failed. Check your username and password."))
		redirect(w, r, "/login")
		return
	}

	username := resp.Username
	if username == "" {
		username = creds.Username
	}
	if err := rq.sess.Clear(ctx); err != nil {
		s.logger.Error("failed to reset session", "error", err)
	}
	id := session.Identity{Token: resp.Token, Username: username, UserID: resp.UserID}
	if err := rq.sess.SetIdentity(ctx, id); err != nil {
		s.logger.Error("failed to store identity", "error", err)
		s.flash(ctx, rq, session.Error, api.GenericFailure)
		redirect(w, r, "/login")
		return
	}

	s.logger.Info("user logged in", "username", username, "user_id", resp.UserID)
	s.flash(ctx, rq, session.Success, "Welcome back, "+username+"!")
	redirect(w, r, "/home")
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request, rq *request) {
	s.render(w, r, rq, "register", "Register", registerPage())
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, rq *request) {
	ctx := r.Context()
	reg := api.Registration{
		Name:     strings.TrimSpace(r.PostFormValue("name")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
	}
	if reg.Username == "" || reg.Password == "" || reg.Email == "" {
		s.flash(ctx, rq, session.Warning, "Fill in every field to register.")
		redirect(w, r, "/register")
		return
	}

	msg, err := s.api.Register(ctx, reg)
	if err != nil {
		s.flash(ctx, rq, session.Error, api.UserMessage(err, "Registration failed."))
		redirect(w, r, "/register")
		return
	}
	if msg == "" {
		msg = "Registration successful. Please log in."
	}
	s.flash(ctx, rq, session.Success, msg)
	redirect(w, r, "/login")
}

func (s *Server) handleForgotPage(w http.ResponseWriter, r *http.Request, rq *request) {
	s.render(w, r, rq, "forgot_password", "Forgot password", forgotPage())
}

func (s *Server) handleForgot(w http.ResponseWriter, r *http.Request, rq *request) {
	ctx := r.Context()
	email := strings.TrimSpace(r.PostFormValue("email"))
	if email == "" {
		s.flash(ctx, rq, session.Warning, "Enter the email address of your account.")
		redirect(w, r, "/forgot-password")
		return
	}

	msg, err := s.api.ForgotPassword(ctx, email)
	if err != nil {
		s.flash(ctx, rq, session.Error, api.UserMessage(err, "Could not send a code to that address."))
		redirect(w, r, "/forgot-password")
		return
	}
	if msg == "" {
		msg = "A one-time code is on its way."
	}
	s.flash(ctx, rq, session.Info, msg)
	redirect(w, r, "/verify-otp?email="+url.QueryEscape(email))
}

func (s *Server) handleVerifyPage(w http.ResponseWriter, r *http.Request, rq *request) {
	s.render(w, r, rq, "verify_otp", "Verify code", verifyPage(r.URL.Query().Get("email")))
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, rq *request) {
	ctx := r.Context()
	v := api.OTPVerification{
		Email: strings.TrimSpace(r.PostFormValue("email")),
		OTP:   strings.TrimSpace(r.PostFormValue("otp")),
	}
	back := "/verify-otp?email=" + url.QueryEscape(v.Email)
	if v.Email == "" || v.OTP == "" {
		s.flash(ctx, rq, session.Warning, "Enter your email and the code you received.")
		redirect(w, r, back)
		return
	}

	token, err := s.api.VerifyOTP(ctx, v)
	if err != nil {
		s.flash(ctx, rq, session.Error, api.UserMessage(err, "That code is not valid."))
		redirect(w, r, back)
		return
	}
	// The token stays server side; the reset page reads it from the session.
	if err := rq.sess.SetPendingReset(ctx, session.PasswordReset{Email: v.Email, Token: token}); err != nil {
		s.logger.Error("failed to store reset token", "error", err)
		s.flash(ctx, rq, session.Error, api.GenericFailure)
		redirect(w, r, back)
		return
	}
	redirect(w, r, "/reset-password")
}

// pendingReset loads the verified reset, or redirects to the forgot page
// with a warning when there is none.
func (s *Server) pendingReset(w http.ResponseWriter, r *http.Request, rq *request) (session.PasswordReset, bool) {
	pr, err := rq.sess.PendingReset(r.Context())
	if err != nil {
		s.logger.Error("failed to read reset token", "error", err)
	}
	if pr.Token == "" {
		s.flash(r.Context(), rq, session.Warning, "Request a code before resetting your password.")
		redirect(w, r, "/forgot-password")
		return pr, false
	}
	return pr, true
}

func (s *Server) handleResetPage(w http.ResponseWriter, r *http.Request, rq *request) {
	pr, ok := s.pendingReset(w, r, rq)
	if !ok {
		return
	}
	s.render(w, r, rq, "reset_password", "Reset password", resetPage(pr.Email))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, rq *request) {
	ctx := r.Context()
	pr, ok := s.pendingReset(w, r, rq)
	if !ok {
		return
	}
	reset := api.PasswordReset{
		Email:       pr.Email,
		Token:       pr.Token,
		NewPassword: r.PostFormValue("newPassword"),
	}
	if reset.NewPassword == "" {
		s.flash(ctx, rq, session.Warning, "Enter a new password.")
		redirect(w, r, "/reset-password")
		return
	}

	msg, err := s.api.ResetPassword(ctx, reset)
	if err != nil {
		s.flash(ctx, rq, session.Error, api.UserMessage(err, "Password reset failed."))
		s.clearReset(ctx, rq)
		redirect(w, r, "/forgot-password")
		return
	}
	s.clearReset(ctx, rq)
	if msg == "" {
		msg = "Password updated. Please log in."
	}
	s.flash(ctx, rq, session.Success, msg)
	redirect(w, r, "/login")
}

func (s *Server) clearReset(ctx context.Context, rq *request) {
	if err := rq.sess.ClearPendingReset(ctx); err != nil {
		s.logger.Error("failed to clear reset token", "error", err)
	}
}

// handleLogout clears every session key; open live streams notice and close.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, rq *request) {
	ctx := r.Context()
	if err := rq.sess.Clear(ctx); err != nil {
		s.logger.Error("failed to clear session", "error", err)
	}
	s.logger.Info("user logged out", "username", rq.id.Username)
	s.flash(ctx, rq, session.Info, "You have been logged out.")
	redirect(w, r, "/login")
}
