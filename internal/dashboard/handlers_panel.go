package dashboard

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"procodus.dev/irrigation-dashboard/internal/session"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

var clockTime = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d(:[0-5]\d)?$`)

// resolve runs the panel state machine for the route's crop and refreshes
// the session cache when the backend supplied the mapping.
func (s *Server) resolve(r *http.Request, rq *request, cropID int64) (Panel, error) {
	ctx := r.Context()
	cached, err := rq.sess.SelectedMapping(ctx)
	if err != nil {
		s.logger.Warn("failed to read cached crop mapping", "error", err)
		cached = nil
	}

	p, err := ResolvePanel(ctx, rq.api, cached, rq.id.UserID, cropID)
	if err != nil {
		return p, err
	}
	if p.State == PanelMappingLoaded && !p.FromCache {
		if err := rq.sess.SetSelectedMapping(ctx, p.Mapping); err != nil {
			s.logger.Warn("failed to cache crop mapping", "error", err)
		}
	}
	return p, nil
}

func (s *Server) handleControlPanel(w http.ResponseWriter, r *http.Request, rq *request) {
	cropID, ok := pathInt(r, "cropId")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !s.requireUser(w, r, rq) {
		return
	}

	p, err := s.resolve(r, rq, cropID)
	if err != nil && !s.report(w, r, rq, err, "Could not load your crop settings.") {
		return
	}
	p = p.ApplyMode(r.URL.Query())

	var snap irrigation.Snapshot
	if p.State == PanelMappingLoaded {
		if snap, err = rq.api.LatestReading(r.Context()); err != nil {
			s.logger.Debug("latest reading unavailable", "error", err)
		}
	}

	analysis, _ := rq.sess.Get(r.Context(), analysisKey(cropID))
	if analysis != "" {
		_ = rq.sess.Delete(r.Context(), analysisKey(cropID))
	}

	title := "Control panel"
	if p.Mapping != nil {
		title = p.Mapping.Crop.Name
	}
	s.render(w, r, rq, "control_panel", title, controlPanelPage(p, snap, analysis))
}

func analysisKey(cropID int64) string { return fmt.Sprintf("analysis:%d", cropID) }

// panelAction resolves the mapping for a POST on the control panel. The
// caller gets false when a response was already written.
func (s *Server) panelAction(w http.ResponseWriter, r *http.Request, rq *request) (Panel, string, bool) {
	cropID, ok := pathInt(r, "cropId")
	if !ok {
		http.NotFound(w, r)
		return Panel{}, "", false
	}
	base := fmt.Sprintf("/control-panel/%d", cropID)
	if !s.requireUser(w, r, rq) {
		return Panel{}, base, false
	}
	p, err := s.resolve(r, rq, cropID)
	if err != nil {
		s.fail(w, r, rq, err, "Could not load your crop settings.", base)
		return p, base, false
	}
	if p.State != PanelMappingLoaded {
		s.flash(r.Context(), rq, session.Warning, msgNoCrop)
		redirect(w, r, base)
		return p, base, false
	}
	return p, base, true
}

// saveMapping sends the update and caches the mapping the backend returns.
func (s *Server) saveMapping(r *http.Request, rq *request, m *irrigation.UserCropMapping, u irrigation.ThresholdUpdate) error {
	ctx := r.Context()
	updated, err := rq.api.UpdateUserCrop(ctx, m.ID, u)
	if err != nil {
		return err
	}
	// Some backends answer with an empty body; keep what was sent.
	if updated.ID == 0 {
		next := *m
		next.Apply(u)
		updated = &next
	}
	updated.Crop.ID = m.Crop.ID
	if updated.Crop.Name == "" {
		updated.Crop = m.Crop
	}
	return rq.sess.SetSelectedMapping(ctx, updated)
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request, rq *request) {
	p, base, ok := s.panelAction(w, r, rq)
	if !ok {
		return
	}
	ctx := r.Context()

	u := p.Mapping.Update()
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"customMinTemperature", &u.CustomMinTemperature}, {"customMaxTemperature", &u.CustomMaxTemperature},
		{"customMinHumidity", &u.CustomMinHumidity}, {"customMaxHumidity", &u.CustomMaxHumidity},
		{"customMinSoilMoisture", &u.CustomMinSoilMoisture}, {"customMaxSoilMoisture", &u.CustomMaxSoilMoisture},
	} {
		v, err := formFloat(r, f.name)
		if err != nil {
			s.flash(ctx, rq, session.Warning, "Thresholds must be numbers.")
			redirect(w, r, base)
			return
		}
		*f.dst = v
	}
	if u.CustomMinTemperature > u.CustomMaxTemperature || u.CustomMinHumidity > u.CustomMaxHumidity ||
		u.CustomMinSoilMoisture > u.CustomMaxSoilMoisture {
		s.flash(ctx, rq, session.Warning, "Minimum values cannot exceed maximum values.")
		redirect(w, r, base)
		return
	}

	if err := s.saveMapping(r, rq, p.Mapping, u); err != nil {
		s.fail(w, r, rq, err, "Could not save thresholds.", base)
		return
	}
	s.flash(ctx, rq, session.Success, "Thresholds saved.")
	redirect(w, r, base)
}

// handleIrrigationTime saves the irrigation window and leaves edit mode.
func (s *Server) handleIrrigationTime(w http.ResponseWriter, r *http.Request, rq *request) {
	p, base, ok := s.panelAction(w, r, rq)
	if !ok {
		return
	}
	ctx := r.Context()

	start := strings.TrimSpace(r.PostFormValue("start"))
	end := strings.TrimSpace(r.PostFormValue("end"))
	if !clockTime.MatchString(start) || !clockTime.MatchString(end) {
		s.flash(ctx, rq, session.Warning, "Enter start and end times as HH:MM.")
		redirect(w, r, base+"?edit=time")
		return
	}

	u := p.Mapping.Update()
	u.CustomIrrigationStartTime = start
	u.CustomIrrigationEndTime = end
	if err := s.saveMapping(r, rq, p.Mapping, u); err != nil {
		s.fail(w, r, rq, err, "Could not save the irrigation time.", base+"?edit=time")
		return
	}
	s.flash(ctx, rq, session.Success, fmt.Sprintf("Irrigation scheduled from %s to %s.", start, end))
	redirect(w, r, base)
}

func (s *Server) handleManualControl(w http.ResponseWriter, r *http.Request, rq *request) {
	p, base, ok := s.panelAction(w, r, rq)
	if !ok {
		return
	}
	ctx := r.Context()
	back := base + "?manual=open"

	var open bool
	switch r.PostFormValue("action") {
	case "open":
		open = true
	case "close":
	default:
		s.flash(ctx, rq, session.Warning, "Choose whether to open or close the valve.")
		redirect(w, r, back)
		return
	}

	msg, err := rq.api.ManualControl(ctx, open, rq.id.UserID, p.CropID)
	if err != nil {
		s.fail(w, r, rq, err, "Manual control failed.", back)
		return
	}
	if msg == "" {
		msg = "Valve closed."
		if open {
			msg = "Valve opened."
		}
	}
	s.logger.Info("manual irrigation control", "user_id", rq.id.UserID, "crop_id", p.CropID, "open", open)
	s.flash(ctx, rq, session.Success, msg)
	redirect(w, r, back)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, rq *request) {
	p, base, ok := s.panelAction(w, r, rq)
	if !ok {
		return
	}
	ctx := r.Context()

	msg, err := rq.api.Analyze(ctx, p.CropID)
	if err != nil {
		s.fail(w, r, rq, err, "Analysis failed.", base)
		return
	}
	if err := rq.sess.Set(ctx, analysisKey(p.CropID), msg); err != nil {
		s.flash(ctx, rq, session.Info, msg)
	}
	redirect(w, r, base)
}
