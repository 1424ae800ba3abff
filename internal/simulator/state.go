package simulator

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"procodus.dev/irrigation-dashboard/internal/series"
	"procodus.dev/irrigation-dashboard/pkg/generator"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

var (
	errInvalidCredentials = errors.New("invalid username or password")
	errUserExists         = errors.New("username or email already registered")
	errUnknownEmail       = errors.New("no account uses that email")
	errInvalidOTP         = errors.New("invalid or expired code")
	errInvalidResetToken  = errors.New("invalid or expired reset token")
	errCropNotFound       = errors.New("crop not found")
	errMappingNotFound    = errors.New("crop mapping not found")
	errNotificationGone   = errors.New("notification not found")
	errUserNotFound       = errors.New("user not found")
)

type account struct {
	user     irrigation.User
	password string
}

// State is the simulated backend's data. Safe for concurrent use.
type State struct {
	mu sync.Mutex

	accounts    map[string]*account // by username
	tokens      map[string]string   // bearer token -> username
	otps        map[string]string   // email -> code
	resetTokens map[string]string   // reset token -> email
	nextUserID  int64
	crops       []irrigation.Crop
	nextCropID  int64
	mappings    map[int64]*irrigation.UserCropMapping
	nextMapID   int64
	notes       []irrigation.Notification
	nextNoteID  int64
	field       *generator.Field
	latest      irrigation.Snapshot
	history     map[irrigation.SensorType]*series.Buffer
}

// NewState seeds the crop catalogue and an empty field.
func NewState() *State {
	crops := generator.Catalogue()
	var maxID int64
	for _, c := range crops {
		maxID = max(maxID, c.ID)
	}
	s := &State{
		accounts:    make(map[string]*account),
		tokens:      make(map[string]string),
		otps:        make(map[string]string),
		resetTokens: make(map[string]string),
		crops:       crops,
		nextCropID:  maxID + 1,
		mappings:    make(map[int64]*irrigation.UserCropMapping),
		field:       generator.NewField(),
		history:     make(map[irrigation.SensorType]*series.Buffer, len(irrigation.SensorTypes)),
	}
	for _, t := range irrigation.SensorTypes {
		s.history[t] = series.NewBuffer(series.RetentionCap)
	}
	return s
}

// Backfill records hourly readings for the last month so history charts have data.
func (s *State) Backfill(now time.Time) {
	for _, snap := range s.fieldHistory(now) {
		s.record(snap)
	}
}

func (s *State) fieldHistory(now time.Time) []irrigation.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.field.History(now.Add(-series.Month.Span()+time.Hour), now.Add(-time.Hour), time.Hour)
}

// Tick samples the field at now and records it.
func (s *State) Tick(now time.Time) irrigation.Snapshot {
	s.mu.Lock()
	snap := s.field.Reading(now)
	s.mu.Unlock()
	s.record(snap)
	return snap
}

// Record stores an externally supplied snapshot, e.g. from tests.
func (s *State) Record(snap irrigation.Snapshot) {
	s.record(snap)
}

func (s *State) record(snap irrigation.Snapshot) {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = irrigation.At(time.Now())
	}
	s.mu.Lock()
	s.latest = s.latest.Merge(snap)
	s.mu.Unlock()
	for _, r := range snap.Readings(snap.Timestamp.Time) {
		s.history[r.SensorType].Append(r)
	}
}

// Latest returns the newest value of every sensor.
func (s *State) Latest() irrigation.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Series returns one sensor's readings inside the window ending at now.
func (s *State) Series(t irrigation.SensorType, w series.Window, now time.Time) []irrigation.SensorReading {
	return series.Filter(s.history[t].Readings(), w, now)
}

// Register creates an account.
func (s *State) Register(name, email, username, password string) (irrigation.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[username]; ok {
		return irrigation.User{}, errUserExists
	}
	for _, a := range s.accounts {
		if strings.EqualFold(a.user.Email, email) {
			return irrigation.User{}, errUserExists
		}
	}
	s.nextUserID++
	u := irrigation.User{ID: s.nextUserID, Name: name, Email: email, Username: username}
	s.accounts[username] = &account{user: u, password: password}
	return u, nil
}

// Login checks credentials and issues a bearer token.
func (s *State) Login(username, password string) (string, irrigation.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[username]
	if !ok || a.password != password {
		return "", irrigation.User{}, errInvalidCredentials
	}
	token := uuid.NewString()
	s.tokens[token] = username
	return token, a.user, nil
}

// Authenticate resolves a bearer token.
func (s *State) Authenticate(token string) (irrigation.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.tokens[token]
	if !ok {
		return irrigation.User{}, false
	}
	a, ok := s.accounts[username]
	if !ok {
		return irrigation.User{}, false
	}
	return a.user, true
}

// User looks up a profile.
func (s *State) User(username string) (irrigation.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return irrigation.User{}, errUserNotFound
	}
	return a.user, nil
}

// UpdateUser renames the account and changes its email.
func (s *State) UpdateUser(current, username, email string) (irrigation.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[current]
	if !ok {
		return irrigation.User{}, errUserNotFound
	}
	if username != "" && username != current {
		if _, taken := s.accounts[username]; taken {
			return irrigation.User{}, errUserExists
		}
		delete(s.accounts, current)
		a.user.Username = username
		s.accounts[username] = a
		for tok, u := range s.tokens {
			if u == current {
				s.tokens[tok] = username
			}
		}
	}
	if email != "" {
		a.user.Email = email
	}
	return a.user, nil
}

// ForgotPassword issues a one-time code for the email.
func (s *State) ForgotPassword(email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if strings.EqualFold(a.user.Email, email) {
			code := generator.OTP()
			s.otps[strings.ToLower(email)] = code
			return code, nil
		}
	}
	return "", errUnknownEmail
}

// PendingOTP returns the outstanding code for an email, if any.
func (s *State) PendingOTP(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.otps[strings.ToLower(email)]
	return code, ok
}

// VerifyOTP exchanges a valid code for a reset token.
func (s *State) VerifyOTP(email, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if want, ok := s.otps[key]; !ok || want != code {
		return "", errInvalidOTP
	}
	delete(s.otps, key)
	token := uuid.NewString()
	s.resetTokens[token] = key
	return token, nil
}

// ResetPassword consumes a reset token.
func (s *State) ResetPassword(token, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.resetTokens[token]
	if !ok {
		return errInvalidResetToken
	}
	delete(s.resetTokens, token)
	for _, a := range s.accounts {
		if strings.EqualFold(a.user.Email, email) {
			a.password = password
			return nil
		}
	}
	return errUnknownEmail
}

// Crops lists the catalogue.
func (s *State) Crops() []irrigation.Crop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.crops)
}

// Crop finds a crop by id.
func (s *State) Crop(id int64) (irrigation.Crop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cropLocked(id)
}

func (s *State) cropLocked(id int64) (irrigation.Crop, error) {
	for _, c := range s.crops {
		if c.ID == id {
			return c, nil
		}
	}
	return irrigation.Crop{}, errCropNotFound
}

// AddCrop appends a crop and assigns its id.
func (s *State) AddCrop(c irrigation.Crop) (irrigation.Crop, error) {
	if strings.TrimSpace(c.Name) == "" {
		return irrigation.Crop{}, errors.New("crop name is required")
	}
	if c.MinTemperature > c.MaxTemperature || c.MinHumidity > c.MaxHumidity || c.MinSoilMoisture > c.MaxSoilMoisture {
		return irrigation.Crop{}, errors.New("minimum values must not exceed maximum values")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextCropID
	s.nextCropID++
	s.crops = append(s.crops, c)
	return c, nil
}

// UserCrops lists a user's mappings ordered by id.
func (s *State) UserCrops(userID int64) []irrigation.UserCropMapping {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]irrigation.UserCropMapping, 0)
	for _, m := range s.mappings {
		if m.UserID == userID {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b irrigation.UserCropMapping) int { return int(a.ID - b.ID) })
	return out
}

// Select maps the crop to the user with the crop's default thresholds.
// Selecting an already mapped crop returns the existing mapping.
func (s *State) Select(userID, cropID int64) (irrigation.UserCropMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.mappings {
		if m.UserID == userID && m.Crop.ID == cropID {
			return *m, nil
		}
	}
	crop, err := s.cropLocked(cropID)
	if err != nil {
		return irrigation.UserCropMapping{}, err
	}
	s.nextMapID++
	m := irrigation.DefaultMapping(userID, crop)
	m.ID = s.nextMapID
	s.mappings[m.ID] = &m
	return m, nil
}

// Deselect removes the user's mapping of the crop.
func (s *State) Deselect(userID, cropID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.mappings {
		if m.UserID == userID && m.Crop.ID == cropID {
			delete(s.mappings, id)
			return nil
		}
	}
	return errMappingNotFound
}

// UpdateMapping applies threshold edits. The crop never changes.
func (s *State) UpdateMapping(userID, mappingID int64, u irrigation.ThresholdUpdate) (irrigation.UserCropMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mappings[mappingID]
	if !ok || m.UserID != userID {
		return irrigation.UserCropMapping{}, errMappingNotFound
	}
	m.Apply(u)
	return *m, nil
}

// SetValve opens or closes the irrigation valve.
func (s *State) SetValve(open bool, userID, cropID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.field.SetIrrigating(open)
	state := "closed"
	if open {
		state = "opened"
	}
	return fmt.Sprintf("Irrigation valve %s for crop %d of user %d", state, cropID, userID)
}

// Valve reports whether the valve is open.
func (s *State) Valve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.field.Irrigating()
}

// Analyze compares the latest soil moisture with the crop's range.
func (s *State) Analyze(cropID int64) (string, error) {
	crop, err := s.Crop(cropID)
	if err != nil {
		return "", err
	}
	soil, ok := s.Latest().Value(irrigation.SoilMoisture)
	switch {
	case !ok:
		return "No soil moisture reading available yet.", nil
	case soil < crop.MinSoilMoisture:
		return fmt.Sprintf("Soil moisture %.1f%% is below %.0f%% for %s. Irrigation recommended.", soil, crop.MinSoilMoisture, crop.Name), nil
	case soil > crop.MaxSoilMoisture:
		return fmt.Sprintf("Soil moisture %.1f%% is above %.0f%% for %s. Stop irrigation.", soil, crop.MaxSoilMoisture, crop.Name), nil
	default:
		return fmt.Sprintf("Soil moisture %.1f%% is within range for %s. No irrigation needed.", soil, crop.Name), nil
	}
}

// Notifications lists a user's notifications, newest first.
func (s *State) Notifications(userID int64) []irrigation.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]irrigation.Notification, 0)
	for _, n := range s.notes {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	slices.Reverse(out)
	return out
}

// AddNotification stores a notification.
func (s *State) AddNotification(n irrigation.Notification, now time.Time) irrigation.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextNoteID++
	n.ID = s.nextNoteID
	n.Read = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = irrigation.At(now)
	}
	s.notes = append(s.notes, n)
	return n
}

// MarkRead flags the user's notification as read.
func (s *State) MarkRead(userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notes {
		if s.notes[i].ID == id && s.notes[i].UserID == userID {
			s.notes[i].Read = true
			return nil
		}
	}
	return errNotificationGone
}
