package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"procodus.dev/irrigation-dashboard/internal/series"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

type userKey struct{}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func queryID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

// authenticated rejects requests without a valid bearer token.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, ok := s.state.Authenticate(token)
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

func caller(r *http.Request) irrigation.User {
	u, _ := r.Context().Value(userKey{}).(irrigation.User)
	return u
}

// sameUser guards endpoints addressed by user id.
func sameUser(w http.ResponseWriter, r *http.Request, userID int64) bool {
	if caller(r).ID != userID {
		writeMessage(w, http.StatusForbidden, "access denied")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	token, user, err := s.state.Login(req.Username, req.Password)
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, err.Error())
		return
	}
	s.logger.Info("user logged in", "username", user.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"username": user.Username,
		"userId":   user.ID,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" || !strings.Contains(req.Email, "@") {
		writeMessage(w, http.StatusBadRequest, "username, password and a valid email are required")
		return
	}
	if _, err := s.state.Register(req.Name, req.Email, req.Username, req.Password); err != nil {
		writeMessage(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, "User registered successfully")
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}
	code, err := s.state.ForgotPassword(req.Email)
	if err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	// There is no mail server; the code only goes to the log.
	s.logger.Info("issued one-time code", "email", req.Email, "otp", code)
	writeJSON(w, http.StatusOK, "OTP sent to "+req.Email)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if !decode(w, r, &req) {
		return
	}
	token, err := s.state.VerifyOTP(req.Email, req.OTP)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.NewPassword == "" {
		writeMessage(w, http.StatusBadRequest, "new password cannot be empty")
		return
	}
	if err := s.state.ResetPassword(req.Token, req.NewPassword); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, "Password reset successfully")
}

func (s *Server) handleCrops(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Crops())
}

func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	crop, err := s.state.Crop(id)
	if err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, crop)
}

func (s *Server) handleAddCrop(w http.ResponseWriter, r *http.Request) {
	var crop irrigation.Crop
	if !decode(w, r, &crop) {
		return
	}
	created, err := s.state.AddCrop(crop)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUserCrops(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok || !sameUser(w, r, userID) {
		return
	}
	writeJSON(w, http.StatusOK, s.state.UserCrops(userID))
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"userId"`
		CropID int64 `json:"cropId"`
	}
	if !decode(w, r, &req) || !sameUser(w, r, req.UserID) {
		return
	}
	m, err := s.state.Select(req.UserID, req.CropID)
	if err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeselect(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryID(w, r, "userId")
	if !ok || !sameUser(w, r, userID) {
		return
	}
	cropID, ok := queryID(w, r, "cropId")
	if !ok {
		return
	}
	if err := s.state.Deselect(userID, cropID); err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, "Crop deselected")
}

func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	mappingID, ok := pathID(w, r, "mappingId")
	if !ok {
		return
	}
	var u irrigation.ThresholdUpdate
	if !decode(w, r, &u) {
		return
	}
	m, err := s.state.UpdateMapping(caller(r).ID, mappingID, u)
	if err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Latest())
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	t, err := irrigation.ParseSensorType(r.PathValue("type"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	window, err := series.ParseWindow(r.URL.Query().Get("filter"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.state.Series(t, window, time.Now()))
}

func (s *Server) handleManualControl(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	open, _ := strconv.ParseBool(q.Get("open"))
	closeValve, _ := strconv.ParseBool(q.Get("close"))
	if open == closeValve {
		writeMessage(w, http.StatusBadRequest, "exactly one of open and close must be true")
		return
	}
	userID, ok := queryID(w, r, "userId")
	if !ok || !sameUser(w, r, userID) {
		return
	}
	cropID, ok := queryID(w, r, "cropId")
	if !ok {
		return
	}
	msg := s.state.SetValve(open, userID, cropID)
	s.logger.Info("manual irrigation control", "user_id", userID, "crop_id", cropID, "open", open)
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	cropID, ok := pathID(w, r, "cropId")
	if !ok {
		return
	}
	msg, err := s.state.Analyze(cropID)
	if err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryID(w, r, "userId")
	if !ok || !sameUser(w, r, userID) {
		return
	}
	writeJSON(w, http.StatusOK, s.state.Notifications(userID))
}

func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var n irrigation.Notification
	if !decode(w, r, &n) {
		return
	}
	if strings.TrimSpace(n.Message) == "" {
		writeMessage(w, http.StatusBadRequest, "message cannot be empty")
		return
	}
	n.UserID = caller(r).ID
	writeJSON(w, http.StatusCreated, s.state.AddNotification(n, time.Now()))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.state.MarkRead(caller(r).ID, id); err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.state.User(r.PathValue("username"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}
	user, err := s.state.UpdateUser(caller(r).Username, req.Username, req.Email)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errUserExists) {
			status = http.StatusConflict
		}
		writeMessage(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}
