package dashboard

import (
	"net/http"
	"strings"

	"procodus.dev/irrigation-dashboard/internal/api"
	"procodus.dev/irrigation-dashboard/internal/session"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// handleNotifications lists the user's notifications and reloads on the
// notifications poll cadence so new alerts show up without a click.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, rq *request) {
	if !s.requireUser(w, r, rq) {
		return
	}
	list, err := rq.api.Notifications(r.Context(), rq.id.UserID)
	if err != nil && !s.report(w, r, rq, err, "Could not load notifications.") {
		return
	}
	refreshEvery(w, s.config.NotificationsPolicy)
	s.render(w, r, rq, "notifications", "Notifications", notificationsPage(list))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, rq *request) {
	id, ok := pathInt(r, "id")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := rq.api.MarkNotificationRead(r.Context(), id); err != nil {
		s.fail(w, r, rq, err, "Could not update the notification.", "/notifications")
		return
	}
	redirect(w, r, "/notifications")
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, rq *request) {
	user, err := rq.api.User(r.Context(), rq.id.Username)
	if err != nil {
		if !s.report(w, r, rq, err, "Could not load your profile.") {
			return
		}
		user = &irrigation.User{Username: rq.id.Username, ID: rq.id.UserID}
	}
	editing := r.URL.Query().Get("edit") != ""
	s.render(w, r, rq, "profile", "Profile", profilePage(*user, editing))
}

// handleUpdateProfile saves the profile; a new username is written back to
// the session so later lookups use it.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, rq *request) {
	ctx := r.Context()
	u := api.ProfileUpdate{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
	}
	if u.Username == "" || !strings.Contains(u.Email, "@") {
		s.flash(ctx, rq, session.Warning, "Enter a username and a valid email.")
		redirect(w, r, "/profile?edit=1")
		return
	}

	if err := rq.api.UpdateUser(ctx, u); err != nil {
		s.fail(w, r, rq, err, "Could not update your profile.", "/profile?edit=1")
		return
	}
	if u.Username != rq.id.Username {
		id := rq.id
		id.Username = u.Username
		if err := rq.sess.SetIdentity(ctx, id); err != nil {
			s.logger.Error("failed to store identity", "error", err)
		}
	}
	s.flash(ctx, rq, session.Success, "Profile updated.")
	redirect(w, r, "/profile")
}
