package dashboard

import (
	"context"
	"net/url"

	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// PanelState is where the control panel is in resolving its mapping.
type PanelState string

const (
	PanelLoading       PanelState = "loading"
	PanelNoMapping     PanelState = "no-mapping"
	PanelMappingLoaded PanelState = "mapping-loaded"
)

// Panel is a resolved control panel view.
type Panel struct {
	Mapping *irrigation.UserCropMapping
	State   PanelState
	CropID  int64

	// EditingTime shows the irrigation window form (?edit=time).
	EditingTime bool
	// ManualOpen expands the manual valve controls (?manual=open).
	ManualOpen bool
	// FromCache is set when the session cache satisfied the lookup.
	FromCache bool
}

// MappingLister fetches a user's crop mappings.
type MappingLister interface {
	UserCrops(ctx context.Context, userID int64) ([]irrigation.UserCropMapping, error)
}

// ApplyMode reads the panel sub-states from the query string.
func (p Panel) ApplyMode(q url.Values) Panel {
	p.EditingTime = q.Get("edit") == "time"
	p.ManualOpen = q.Get("manual") == "open"
	return p
}

// ResolvePanel finds the mapping for cropID. A cached mapping for the same
// crop is used as is; otherwise the user's mappings are fetched and the one
// for cropID wins. The route's crop id is authoritative: a cached mapping for
// another crop is ignored. On a fetch error the panel stays PanelLoading.
func ResolvePanel(ctx context.Context, src MappingLister, cached *irrigation.UserCropMapping, userID, cropID int64) (Panel, error) {
	p := Panel{State: PanelLoading, CropID: cropID}

	if cached != nil && cached.Crop.ID == cropID {
		m := *cached
		p.Mapping, p.State, p.FromCache = &m, PanelMappingLoaded, true
		return p, nil
	}

	mappings, err := src.UserCrops(ctx, userID)
	if err != nil {
		return p, err
	}
	if m := findMapping(mappings, cropID); m != nil {
		p.Mapping, p.State = m, PanelMappingLoaded
		return p, nil
	}
	p.State = PanelNoMapping
	return p, nil
}

func findMapping(mappings []irrigation.UserCropMapping, cropID int64) *irrigation.UserCropMapping {
	for i := range mappings {
		if mappings[i].Crop.ID == cropID {
			m := mappings[i]
			return &m
		}
	}
	return nil
}
