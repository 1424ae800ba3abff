package dashboard

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"procodus.dev/irrigation-dashboard/internal/session"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// selected returns the cached mapping, falling back to the first mapping the
// backend lists, which is then cached.
func (s *Server) selected(r *http.Request, rq *request) (*irrigation.UserCropMapping, error) {
	ctx := r.Context()
	if m, err := rq.sess.SelectedMapping(ctx); err != nil || m != nil {
		return m, err
	}
	if rq.id.UserID == 0 {
		return nil, nil
	}
	mappings, err := rq.api.UserCrops(ctx, rq.id.UserID)
	if err != nil || len(mappings) == 0 {
		return nil, err
	}
	m := mappings[0]
	if err := rq.sess.SetSelectedMapping(ctx, &m); err != nil {
		s.logger.Warn("failed to cache crop mapping", "error", err)
	}
	return &m, nil
}

// handleHome loads the selection, the latest reading and the unread count
// concurrently.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request, rq *request) {
	data := homeData{Username: rq.id.Username}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		m, err := s.selected(r.WithContext(ctx), rq)
		data.Selected = m
		return err
	})
	g.Go(func() error {
		snap, err := rq.api.LatestReading(ctx)
		data.Snapshot = snap
		return err
	})
	if rq.id.UserID != 0 {
		g.Go(func() error {
			list, err := rq.api.Notifications(ctx, rq.id.UserID)
			for _, n := range list {
				if !n.Read {
					data.Unread++
				}
			}
			return err
		})
	}
	if err := g.Wait(); err != nil && !s.report(w, r, rq, err, "Some dashboard data could not be loaded.") {
		return
	}

	s.render(w, r, rq, "home", "Home", homePage(data))
}

func (s *Server) handleCrops(w http.ResponseWriter, r *http.Request, rq *request) {
	crops, err := rq.api.Crops(r.Context())
	if err != nil && !s.report(w, r, rq, err, "Could not load crops.") {
		return
	}

	var selectedID int64
	if m, err := rq.sess.SelectedMapping(r.Context()); err == nil && m != nil {
		selectedID = m.Crop.ID
	}
	s.render(w, r, rq, "crops", "Crops", cropsPage(crops, selectedID))
}

func (s *Server) handleCropDetails(w http.ResponseWriter, r *http.Request, rq *request) {
	id, ok := pathInt(r, "id")
	if !ok {
		http.NotFound(w, r)
		return
	}
	crop, err := rq.api.Crop(r.Context(), id)
	if err != nil {
		s.fail(w, r, rq, err, "Could not load that crop.", "/crops")
		return
	}

	selected := false
	if m, err := rq.sess.SelectedMapping(r.Context()); err == nil && m != nil {
		selected = m.Crop.ID == crop.ID
	}
	s.render(w, r, rq, "crop_details", crop.Name, cropDetailsPage(*crop, selected))
}

func (s *Server) handleAddCropPage(w http.ResponseWriter, r *http.Request, rq *request) {
	s.render(w, r, rq, "add_crop", "Add crop", addCropPage())
}

// parseCrop reads the add-crop form.
func parseCrop(r *http.Request) (irrigation.Crop, error) {
	c := irrigation.Crop{
		Name:        strings.TrimSpace(r.PostFormValue("name")),
		Description: strings.TrimSpace(r.PostFormValue("description")),
		ImageURL:    strings.TrimSpace(r.PostFormValue("imageUrl")),
	}
	if c.Name == "" {
		return c, fmt.Errorf("crop name cannot be empty")
	}
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"minTemperature", &c.MinTemperature}, {"maxTemperature", &c.MaxTemperature},
		{"minHumidity", &c.MinHumidity}, {"maxHumidity", &c.MaxHumidity},
		{"minSoilMoisture", &c.MinSoilMoisture}, {"maxSoilMoisture", &c.MaxSoilMoisture},
	} {
		v, err := formFloat(r, f.name)
		if err != nil {
			return c, fmt.Errorf("%s must be a number", f.name)
		}
		*f.dst = v
	}
	if c.MinTemperature > c.MaxTemperature || c.MinHumidity > c.MaxHumidity || c.MinSoilMoisture > c.MaxSoilMoisture {
		return c, fmt.Errorf("minimum values cannot exceed maximum values")
	}
	return c, nil
}

func (s *Server) handleAddCrop(w http.ResponseWriter, r *http.Request, rq *request) {
	ctx := r.Context()
	crop, err := parseCrop(r)
	if err != nil {
		s.flash(ctx, rq, session.Warning, err.Error())
		redirect(w, r, "/crops/add")
		return
	}

	created, err := rq.api.AddCrop(ctx, crop)
	if err != nil {
		s.fail(w, r, rq, err, "Could not add the crop.", "/crops/add")
		return
	}
	s.flash(ctx, rq, session.Success, created.Name+" was added.")
	redirect(w, r, "/crops")
}

// handleSelectCrop replaces the user's selection with the crop.
func (s *Server) handleSelectCrop(w http.ResponseWriter, r *http.Request, rq *request) {
	ctx := r.Context()
	cropID, ok := pathInt(r, "id")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !s.requireUser(w, r, rq) {
		return
	}

	m, err := SelectCrop(ctx, rq.api, rq.id.UserID, cropID)
	if err != nil {
		s.fail(w, r, rq, err, "Could not select the crop.", "/crops")
		return
	}
	if err := rq.sess.SetSelectedMapping(ctx, m); err != nil {
		s.logger.Warn("failed to cache crop mapping", "error", err)
	}

	name := "Crop"
	if m != nil {
		name = m.Crop.Name
	}
	s.logger.Info("crop selected", "user_id", rq.id.UserID, "crop_id", cropID)
	s.flash(ctx, rq, session.Success, name+" selected.")
	redirect(w, r, fmt.Sprintf("/control-panel/%d", cropID))
}

func (s *Server) handleDeselectCrop(w http.ResponseWriter, r *http.Request, rq *request) {
	ctx := r.Context()
	cropID, err := strconv.ParseInt(r.PostFormValue("cropId"), 10, 64)
	if err != nil || cropID <= 0 {
		s.flash(ctx, rq, session.Warning, msgNoCrop)
		redirect(w, r, "/crops")
		return
	}
	if !s.requireUser(w, r, rq) {
		return
	}

	if err := rq.api.DeselectCrop(ctx, rq.id.UserID, cropID); err != nil {
		s.fail(w, r, rq, err, "Could not deselect the crop.", "/crops")
		return
	}
	if m, _ := rq.sess.SelectedMapping(ctx); m != nil && m.Crop.ID == cropID {
		if err := rq.sess.SetSelectedMapping(ctx, nil); err != nil {
			s.logger.Warn("failed to clear cached crop mapping", "error", err)
		}
	}
	s.flash(ctx, rq, session.Info, "Crop deselected.")
	redirect(w, r, "/crops")
}
