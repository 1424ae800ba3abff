package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"procodus.dev/irrigation-dashboard/internal/alerts"
	"procodus.dev/irrigation-dashboard/internal/feed"
	"procodus.dev/irrigation-dashboard/internal/session"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
	"procodus.dev/irrigation-dashboard/pkg/logger"
)

const keepAlive = 15 * time.Second

func writeEvent(w io.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

// offerLatest replaces any unsent snapshot so the stream never lags behind
// the feed.
func offerLatest(ch chan irrigation.Snapshot, snap irrigation.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// handleLiveStream is a server-sent event stream bound to one page view.
// While the browser stays connected it runs a live feed and, for known
// users, a threshold monitor; both stop when the request ends.
//
// Events: "snapshot" (merged sensor values), "notification" (threshold
// alert) and "logout" (the session was cleared elsewhere).
func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request, rq *request) {
	rc := http.NewResponseController(w)

	var cropID int64
	if raw := r.URL.Query().Get("cropId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid cropId", http.StatusBadRequest)
			return
		}
		cropID = id
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := logger.WithContext(logger.Component(s.logger, "live"),
		slog.String("session", rq.sess.ID()), slog.Int64("user_id", rq.id.UserID))

	updates := make(chan irrigation.Snapshot, 1)
	notes := make(chan irrigation.Notification, 8)

	f, err := feed.New(&feed.Config{
		Logger:         logger.Component(log, "feed"),
		URL:            s.config.FeedURL,
		Policy:         s.config.FeedPolicy,
		HandshakeDelay: s.config.HandshakeDelay,
		Dialer:         s.config.FeedDialer,
		Metrics:        s.config.FeedMetrics,
		OnUpdate:       func(snap irrigation.Snapshot) { offerLatest(updates, snap) },
	})
	if err != nil {
		log.Error("failed to create live feed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var monitor *alerts.Monitor
	if rq.id.UserID != 0 {
		monitor, err = alerts.NewMonitor(&alerts.MonitorConfig{
			Logger:    logger.Component(log, "alerts"),
			API:       rq.api,
			UserID:    rq.id.UserID,
			CropID:    cropID,
			Policy:    s.config.AlertPolicy,
			Deduper:   s.deduper,
			Publisher: s.config.Publisher,
			Metrics:   s.config.AlertMetrics,
			OnNotify: func(n irrigation.Notification) {
				select {
				case notes <- n:
				default:
					log.Warn("live stream lagging, dropping notification toast")
				}
			},
		})
		if err != nil {
			log.Error("failed to create threshold monitor", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}

	events, unsubscribe := s.sessions.Subscribe(rq.sess.ID())
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Error("response does not support streaming", "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.LiveStreamsActive.Inc()
		defer s.metrics.LiveStreamsActive.Dec()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.Run(gctx) })
	if monitor != nil {
		g.Go(func() error { return monitor.Run(gctx) })
	}
	defer func() {
		cancel()
		if err := g.Wait(); err != nil {
			log.Warn("live stream worker failed", "error", err)
		}
		log.Debug("live stream closed")
	}()

	log.Debug("live stream opened", "crop_id", cropID)
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-gctx.Done():
			return
		case snap := <-updates:
			err = writeEvent(w, "snapshot", snap)
		case n := <-notes:
			err = writeEvent(w, "notification", n)
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Deleted && (ev.Key == "" || ev.Key == session.KeyToken) {
				_ = writeEvent(w, "logout", struct{}{})
				_ = rc.Flush()
				return
			}
			continue
		case <-ticker.C:
			_, err = io.WriteString(w, ": keep-alive\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			log.Debug("live stream client gone", "error", err)
			return
		}
	}
}
