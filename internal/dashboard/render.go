package dashboard

//go:generate templ generate

import (
	"net/http"

	"github.com/a-h/templ"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/irrigation-dashboard/pkg/metrics"
)

// render writes a full page with the navbar and any queued toasts.
func (s *Server) render(w http.ResponseWriter, r *http.Request, rq *request, name, title string, body templ.Component) {
	ctx := r.Context()

	flashes, err := rq.sess.Flashes(ctx)
	if err != nil {
		s.logger.Warn("failed to read toasts", "error", err)
	}

	var nav *navbar
	if rq.id.Authenticated() {
		nav = &navbar{Username: rq.id.Username, Active: r.URL.Path}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	//nolint:contextcheck // Context is passed to Templ's Render method
	err = trackTemplateRender(s.metrics, name, func() error {
		return layout(title, nav, flashes, body).Render(ctx, w)
	})
	if err != nil {
		s.logger.Error("failed to render page", "page", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// trackTemplateRender wraps template rendering with metrics tracking.
func trackTemplateRender(m *metrics.DashboardMetrics, templateName string, renderFunc func() error) error {
	// If metrics not enabled, just render
	if m == nil {
		return renderFunc()
	}

	// Track duration
	timer := prometheus.NewTimer(m.TemplateRenderTime.WithLabelValues(templateName))
	defer timer.ObserveDuration()

	if err := renderFunc(); err != nil {
		m.TemplateRenderErrors.WithLabelValues(templateName).Inc()
		return err
	}

	return nil
}
