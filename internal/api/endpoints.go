package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// Credentials is the login request.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is what the backend returns for a successful login.
type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	UserID   int64  `json:"userId"`
}

// Registration is the sign-up request.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// PasswordReset completes the forgot-password flow.
type PasswordReset struct {
	Email       string `json:"email,omitempty"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// OTPVerification checks the one-time code mailed by forgot-password.
type OTPVerification struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// Selection is the body of a crop select call.
type Selection struct {
	UserID int64 `json:"userId"`
	CropID int64 `json:"cropId"`
}

// ProfileUpdate is the body of a profile edit.
type ProfileUpdate struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.Do(ctx, http.MethodPost, "/auth/login", nil, creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns the backend's message.
func (c *Client) Register(ctx context.Context, r Registration) (string, error) {
	var msg string
	err := c.Do(ctx, http.MethodPost, "/auth/register", nil, r, &msg)
	return msg, err
}

// ForgotPassword asks the backend to mail a one-time code.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	var msg string
	err := c.Do(ctx, http.MethodPost, "/auth/forgot-password", nil, map[string]string{"email": email}, &msg)
	return msg, err
}

// VerifyOTP checks a one-time code. The returned string is the reset token
// or message sent by the backend.
func (c *Client) VerifyOTP(ctx context.Context, v OTPVerification) (string, error) {
	var msg string
	err := c.Do(ctx, http.MethodPost, "/auth/verify-otp", nil, v, &msg)
	return msg, err
}

// ResetPassword sets a new password.
func (c *Client) ResetPassword(ctx context.Context, r PasswordReset) (string, error) {
	var msg string
	err := c.Do(ctx, http.MethodPost, "/auth/reset-password", nil, r, &msg)
	return msg, err
}

// Crops lists every crop.
func (c *Client) Crops(ctx context.Context) ([]irrigation.Crop, error) {
	var out []irrigation.Crop
	if err := c.Do(ctx, http.MethodGet, "/crops/all", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Crop fetches one crop.
func (c *Client) Crop(ctx context.Context, cropID int64) (*irrigation.Crop, error) {
	var out irrigation.Crop
	if err := c.Do(ctx, http.MethodGet, "/crops/"+id(cropID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddCrop creates a crop and returns it as stored.
func (c *Client) AddCrop(ctx context.Context, crop irrigation.Crop) (*irrigation.Crop, error) {
	var out irrigation.Crop
	if err := c.Do(ctx, http.MethodPost, "/crops/add", nil, crop, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserCrops lists a user's crop mappings.
func (c *Client) UserCrops(ctx context.Context, userID int64) ([]irrigation.UserCropMapping, error) {
	var out []irrigation.UserCropMapping
	if err := c.Do(ctx, http.MethodGet, "/usercrops/user/"+id(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SelectCrop creates a mapping for the user and crop.
func (c *Client) SelectCrop(ctx context.Context, userID, cropID int64) error {
	return c.Do(ctx, http.MethodPost, "/usercrops/select", nil, Selection{UserID: userID, CropID: cropID}, nil)
}

// DeselectCrop deletes the user's mapping for the crop.
func (c *Client) DeselectCrop(ctx context.Context, userID, cropID int64) error {
	q := url.Values{"userId": {id(userID)}, "cropId": {id(cropID)}}
	return c.Do(ctx, http.MethodDelete, "/usercrops/deselect", q, nil, nil)
}

// UpdateUserCrop edits a mapping's custom thresholds and irrigation window.
func (c *Client) UpdateUserCrop(ctx context.Context, mappingID int64, u irrigation.ThresholdUpdate) (*irrigation.UserCropMapping, error) {
	var out irrigation.UserCropMapping
	if err := c.Do(ctx, http.MethodPut, "/usercrops/update/"+id(mappingID), nil, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SensorSeries fetches one sensor's readings for a window: day, week or month.
func (c *Client) SensorSeries(ctx context.Context, t irrigation.SensorType, window string) ([]irrigation.SensorReading, error) {
	var out []irrigation.SensorReading
	q := url.Values{"filter": {window}}
	if err := c.Do(ctx, http.MethodGet, "/sensor/"+string(t), q, nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].SensorType == "" {
			out[i].SensorType = t
		}
	}
	return out, nil
}

// LatestReading fetches the most recent value of every sensor.
func (c *Client) LatestReading(ctx context.Context) (irrigation.Snapshot, error) {
	var out irrigation.Snapshot
	err := c.Do(ctx, http.MethodGet, "/sensor/latest", nil, nil, &out)
	return out, err
}

// ManualControl opens or closes the valve for the user's crop.
func (c *Client) ManualControl(ctx context.Context, open bool, userID, cropID int64) (string, error) {
	q := url.Values{
		"open":   {strconv.FormatBool(open)},
		"close":  {strconv.FormatBool(!open)},
		"userId": {id(userID)},
		"cropId": {id(cropID)},
	}
	var msg string
	err := c.Do(ctx, http.MethodPost, "/irrigation/manual-control", q, nil, &msg)
	return msg, err
}

// Analyze asks the backend to evaluate irrigation needs for a crop.
func (c *Client) Analyze(ctx context.Context, cropID int64) (string, error) {
	var msg string
	err := c.Do(ctx, http.MethodPost, "/irrigation/analyze/"+id(cropID), nil, nil, &msg)
	return msg, err
}

// Notifications lists the user's notifications.
func (c *Client) Notifications(ctx context.Context, userID int64) ([]irrigation.Notification, error) {
	var out []irrigation.Notification
	q := url.Values{"userId": {id(userID)}}
	if err := c.Do(ctx, http.MethodGet, "/notifications", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNotificationRead flags a notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, notificationID int64) error {
	return c.Do(ctx, http.MethodPatch, "/notifications/"+id(notificationID)+"/read", nil, nil, nil)
}

// CreateNotification persists a notification.
func (c *Client) CreateNotification(ctx context.Context, n irrigation.Notification) (*irrigation.Notification, error) {
	var out irrigation.Notification
	if err := c.Do(ctx, http.MethodPost, "/notifications", nil, n, &out); err != nil {
		return nil, err
	}
	if out.Message == "" {
		out = n
	}
	return &out, nil
}

// User fetches a profile by username.
func (c *Client) User(ctx context.Context, username string) (*irrigation.User, error) {
	var out irrigation.User
	if err := c.Do(ctx, http.MethodGet, "/user/"+url.PathEscape(username), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUser edits the caller's profile.
func (c *Client) UpdateUser(ctx context.Context, u ProfileUpdate) error {
	return c.Do(ctx, http.MethodPut, "/user/update", nil, u, nil)
}
