package dashboard_test

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/irrigation-dashboard/internal/dashboard"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// fakeBackend keeps mappings in memory and records the calls it receives.
type fakeBackend struct {
	mu       sync.Mutex
	mappings []irrigation.UserCropMapping
	listErr  error
	calls    []string
	nextID   int64
}

func (f *fakeBackend) UserCrops(context.Context, int64) ([]irrigation.UserCropMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return slices.Clone(f.mappings), nil
}

func (f *fakeBackend) SelectCrop(_ context.Context, userID, cropID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "select")
	f.nextID++
	m := irrigation.DefaultMapping(userID, irrigation.Crop{ID: cropID, Name: "crop"})
	m.ID = f.nextID
	f.mappings = append(f.mappings, m)
	return nil
}

func (f *fakeBackend) DeselectCrop(_ context.Context, _, cropID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "deselect")
	f.mappings = slices.DeleteFunc(f.mappings, func(m irrigation.UserCropMapping) bool {
		return m.Crop.ID == cropID
	})
	return nil
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func mappingFor(id, cropID int64, name string) irrigation.UserCropMapping {
	m := irrigation.DefaultMapping(7, irrigation.Crop{ID: cropID, Name: name})
	m.ID = id
	return m
}

var _ = Describe("ResolvePanel", func() {
	var (
		ctx     context.Context
		backend *fakeBackend
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = &fakeBackend{}
	})

	It("should use a cached mapping for the same crop without a backend call", func() {
		cached := mappingFor(1, 3, "Tomato")

		p, err := dashboard.ResolvePanel(ctx, backend, &cached, 7, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.State).To(Equal(dashboard.PanelMappingLoaded))
		Expect(p.FromCache).To(BeTrue())
		Expect(p.Mapping.Crop.Name).To(Equal("Tomato"))
		Expect(backend.Calls()).To(BeEmpty())
	})

	It("should ignore a cached mapping for another crop", func() {
		cached := mappingFor(1, 2, "Rice")
		backend.mappings = []irrigation.UserCropMapping{mappingFor(2, 3, "Tomato")}

		p, err := dashboard.ResolvePanel(ctx, backend, &cached, 7, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.State).To(Equal(dashboard.PanelMappingLoaded))
		Expect(p.FromCache).To(BeFalse())
		Expect(p.Mapping.ID).To(Equal(int64(2)))
	})

	It("should report no mapping when the crop is not selected", func() {
		backend.mappings = []irrigation.UserCropMapping{mappingFor(2, 1, "Wheat")}

		p, err := dashboard.ResolvePanel(ctx, backend, nil, 7, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.State).To(Equal(dashboard.PanelNoMapping))
		Expect(p.Mapping).To(BeNil())
		Expect(p.CropID).To(Equal(int64(3)))
	})

	It("should stay loading when the backend fails", func() {
		backend.listErr = errors.New("boom")

		p, err := dashboard.ResolvePanel(ctx, backend, nil, 7, 3)
		Expect(err).To(MatchError("boom"))
		Expect(p.State).To(Equal(dashboard.PanelLoading))
	})

	It("should not alias the cached mapping", func() {
		cached := mappingFor(1, 3, "Tomato")

		p, err := dashboard.ResolvePanel(ctx, backend, &cached, 7, 3)
		Expect(err).NotTo(HaveOccurred())
		p.Mapping.CustomMinTemperature = 99
		Expect(cached.CustomMinTemperature).NotTo(Equal(99.0))
	})
})

var _ = Describe("Panel.ApplyMode", func() {
	It("should read the edit and manual sub-states", func() {
		p := dashboard.Panel{State: dashboard.PanelMappingLoaded}

		Expect(p.ApplyMode(url.Values{}).EditingTime).To(BeFalse())
		Expect(p.ApplyMode(url.Values{"edit": {"time"}}).EditingTime).To(BeTrue())
		Expect(p.ApplyMode(url.Values{"edit": {"other"}}).EditingTime).To(BeFalse())
		Expect(p.ApplyMode(url.Values{"manual": {"open"}}).ManualOpen).To(BeTrue())
	})

	It("should clear sub-states missing from the query", func() {
		p := dashboard.Panel{EditingTime: true, ManualOpen: true}

		p = p.ApplyMode(url.Values{})
		Expect(p.EditingTime).To(BeFalse())
		Expect(p.ManualOpen).To(BeFalse())
	})
})

var _ = Describe("SelectCrop", func() {
	var (
		ctx     context.Context
		backend *fakeBackend
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = &fakeBackend{nextID: 10}
	})

	It("should select the crop and return its mapping", func() {
		m, err := dashboard.SelectCrop(ctx, backend, 7, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(m).NotTo(BeNil())
		Expect(m.Crop.ID).To(Equal(int64(3)))
		Expect(backend.Calls()).To(Equal([]string{"list", "select", "list"}))
	})

	It("should deselect every other crop first", func() {
		backend.mappings = []irrigation.UserCropMapping{mappingFor(1, 1, "Wheat"), mappingFor(2, 2, "Rice")}

		m, err := dashboard.SelectCrop(ctx, backend, 7, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Crop.ID).To(Equal(int64(3)))
		Expect(backend.mappings).To(HaveLen(1))
		Expect(backend.Calls()).To(Equal([]string{"list", "deselect", "deselect", "select", "list"}))
	})

	It("should not select a crop twice", func() {
		backend.mappings = []irrigation.UserCropMapping{mappingFor(1, 3, "Tomato")}

		m, err := dashboard.SelectCrop(ctx, backend, 7, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.ID).To(Equal(int64(1)))
		Expect(backend.Calls()).NotTo(ContainElement("select"))
	})

	It("should return the backend error", func() {
		backend.listErr = errors.New("unreachable")

		_, err := dashboard.SelectCrop(ctx, backend, 7, 3)
		Expect(err).To(MatchError("unreachable"))
	})
})
