package dashboard

import (
	"context"
	"fmt"

	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// CropSelector is the slice of the backend the selection flow needs.
type CropSelector interface {
	MappingLister
	SelectCrop(ctx context.Context, userID, cropID int64) error
	DeselectCrop(ctx context.Context, userID, cropID int64) error
}

// SelectCrop makes cropID the user's only selected crop: every mapping for
// another crop is removed, the crop is selected, and the mapping is fetched
// back so it can be cached. The returned mapping may be nil if the backend
// did not list it after selecting.
func SelectCrop(ctx context.Context, b CropSelector, userID, cropID int64) (*irrigation.UserCropMapping, error) {
	existing, err := b.UserCrops(ctx, userID)
	if err != nil {
		return nil, err
	}

	already := false
	for _, m := range existing {
		if m.Crop.ID == cropID {
			already = true
			continue
		}
		if err := b.DeselectCrop(ctx, userID, m.Crop.ID); err != nil {
			return nil, fmt.Errorf("failed to deselect %s: %w", m.Crop.Name, err)
		}
	}

	if !already {
		if err := b.SelectCrop(ctx, userID, cropID); err != nil {
			return nil, err
		}
	}

	after, err := b.UserCrops(ctx, userID)
	if err != nil {
		return nil, err
	}
	return findMapping(after, cropID), nil
}
