package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate_admin/identity"
	"estate_admin/models"
)

type fakeCatalogAPI struct {
	mu       sync.Mutex
	calls    []models.Filter
	gated    bool
	gates    map[int]chan struct{}
	lastPage int
	fail     error

	props     map[int64]*models.Property
	propCalls int
}

func newFakeCatalogAPI(lastPage int) *fakeCatalogAPI {
	return &fakeCatalogAPI{
		gates:    make(map[int]chan struct{}),
		lastPage: lastPage,
		props:    make(map[int64]*models.Property),
	}
}

func (a *fakeCatalogAPI) ListProperties(ctx context.Context, f models.Filter) (*models.CatalogPage, error) {
	a.mu.Lock()
	idx := len(a.calls)
	a.calls = append(a.calls, f)
	var gate chan struct{}
	if a.gated {
		gate = a.gateLocked(idx)
	}
	fail, last := a.fail, a.lastPage
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	return &models.CatalogPage{
		Data: []models.Property{{ID: int64(idx + 1), Title: fmt.Sprintf("call-%d", idx), City: f.City}},
		Meta: models.PageMeta{CurrentPage: f.Page, LastPage: last, PerPage: f.PerPage, Total: last * f.PerPage},
	}, nil
}

func (a *fakeCatalogAPI) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.propCalls++
	p, ok := a.props[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *p
	return &cp, nil
}

func (a *fakeCatalogAPI) gateLocked(i int) chan struct{} {
	ch, ok := a.gates[i]
	if !ok {
		ch = make(chan struct{})
		a.gates[i] = ch
	}
	return ch
}

func (a *fakeCatalogAPI) release(i int) {
	a.mu.Lock()
	ch := a.gateLocked(i)
	a.mu.Unlock()
	close(ch)
}

func (a *fakeCatalogAPI) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeCatalogAPI) requestedPages() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	pages := make([]int, len(a.calls))
	for i, f := range a.calls {
		pages[i] = f.Page
	}
	return pages
}

func (a *fakeCatalogAPI) setFail(err error) {
	a.mu.Lock()
	a.fail = err
	a.mu.Unlock()
}

func newTestEngine(t *testing.T, api *fakeCatalogAPI) *CatalogEngine {
	t.Helper()
	eng := NewCatalogEngine(api, models.DefaultFilter(10), nil)
	t.Cleanup(eng.Close)
	return eng
}

func waitForCalls(t *testing.T, api *fakeCatalogAPI, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return api.callCount() >= n }, 2*time.Second, time.Millisecond)
}

func strPtr(s string) *string { return &s }

func TestFilterChangesResetPage(t *testing.T) {
	api := newFakeCatalogAPI(9)
	eng := newTestEngine(t, api)
	eng.Refresh()
	eng.Wait()

	status := models.StatusSold
	ptype := models.PropertyTypeVilla
	perPage := 25
	min, max := 100.0, 900.0
	sortKey := models.SortArea
	order := models.OrderAsc

	patches := []struct {
		name  string
		patch models.FilterPatch
	}{
		{"city", models.FilterPatch{City: strPtr("Da Nang")}},
		{"status", models.FilterPatch{Status: &status}},
		{"property_type", models.FilterPatch{PropertyType: &ptype}},
		{"per_page", models.FilterPatch{PerPage: &perPage}},
		{"min_price", models.FilterPatch{MinPrice: &min}},
		{"max_price", models.FilterPatch{MaxPrice: &max}},
		{"clear_min", models.FilterPatch{ClearMinPrice: true}},
		{"sort", models.FilterPatch{Sort: &sortKey}},
		{"order", models.FilterPatch{Order: &order}},
	}

	for _, tt := range patches {
		t.Run(tt.name, func(t *testing.T) {
			eng.SetPage(4)
			eng.Wait()
			require.Equal(t, 4, eng.Filter().Page)

			require.NoError(t, eng.SetFilter(tt.patch))
			eng.Wait()
			assert.Equal(t, 1, eng.Filter().Page)
		})
	}

	t.Run("page with other change", func(t *testing.T) {
		eng.SetPage(4)
		eng.Wait()
		page := 3
		require.NoError(t, eng.SetFilter(models.FilterPatch{Page: &page, City: strPtr("Hue")}))
		assert.Equal(t, 1, eng.Filter().Page)
	})

	t.Run("page only", func(t *testing.T) {
		page := 3
		require.NoError(t, eng.SetFilter(models.FilterPatch{Page: &page}))
		eng.Wait()
		assert.Equal(t, 3, eng.Filter().Page)
	})

	t.Run("toggle sort", func(t *testing.T) {
		eng.SetPage(5)
		eng.Wait()
		require.NoError(t, eng.ToggleSort(models.SortPrice))
		f := eng.Filter()
		assert.Equal(t, 1, f.Page)
		assert.Equal(t, models.SortPrice, f.Sort)
		assert.Equal(t, models.OrderAsc, f.Order)

		require.NoError(t, eng.ToggleSort(models.SortPrice))
		assert.Equal(t, models.OrderDesc, eng.Filter().Order)
		eng.Wait()
	})
}

func TestUnchangedPatchSendsNothing(t *testing.T) {
	api := newFakeCatalogAPI(1)
	eng := newTestEngine(t, api)

	require.NoError(t, eng.SetFilter(models.FilterPatch{City: strPtr("")}))
	eng.Wait()
	assert.Equal(t, 0, api.callCount())
}

func TestLateResponseForOldFilterIsNotShown(t *testing.T) {
	api := newFakeCatalogAPI(1)
	api.gated = true
	eng := newTestEngine(t, api)

	var mu sync.Mutex
	var seen []string
	eng.Subscribe(func(st CatalogState) {
		if st.Page == nil {
			return
		}
		mu.Lock()
		seen = append(seen, st.Filter.City+":"+st.Page.Data[0].City)
		mu.Unlock()
	})

	// A: Hanoi, slow
	require.NoError(t, eng.SetFilter(models.FilterPatch{City: strPtr("Hanoi")}))
	waitForCalls(t, api, 1)
	// B: Saigon, fast
	require.NoError(t, eng.SetFilter(models.FilterPatch{City: strPtr("Saigon")}))
	waitForCalls(t, api, 2)

	api.release(1)
	require.Eventually(t, func() bool {
		st := eng.State()
		return st.Page != nil && st.Page.Data[0].City == "Saigon"
	}, 2*time.Second, time.Millisecond)

	api.release(0)
	eng.Wait()

	st := eng.State()
	assert.Equal(t, "Saigon", st.Filter.City)
	require.NotNil(t, st.Page)
	assert.Equal(t, "Saigon", st.Page.Data[0].City)
	assert.Nil(t, st.Err)

	mu.Lock()
	for _, s := range seen {
		assert.Equal(t, "Saigon:Saigon", s)
	}
	mu.Unlock()

	// A's response is still the newest for its own key, so going back shows
	// it at once while it revalidates.
	require.NoError(t, eng.SetFilter(models.FilterPatch{City: strPtr("Hanoi")}))
	st = eng.State()
	require.NotNil(t, st.Page)
	assert.Equal(t, "Hanoi", st.Page.Data[0].City)
	assert.True(t, st.Refreshing)
	assert.False(t, st.Loading)

	waitForCalls(t, api, 3)
	api.release(2)
	eng.Wait()
	assert.Equal(t, "call-2", eng.State().Page.Data[0].Title)
}

func TestSetPageClamps(t *testing.T) {
	t.Run("unknown last page clamps only below", func(t *testing.T) {
		api := newFakeCatalogAPI(3)
		eng := newTestEngine(t, api)

		eng.SetPage(0)
		assert.Equal(t, 1, eng.Filter().Page)
		eng.SetPage(9)
		assert.Equal(t, 9, eng.Filter().Page)
		eng.Wait()
	})

	t.Run("known last page", func(t *testing.T) {
		api := newFakeCatalogAPI(3)
		eng := newTestEngine(t, api)
		eng.Refresh()
		eng.Wait()

		eng.SetPage(7)
		assert.Equal(t, 3, eng.Filter().Page)
		eng.Wait()

		eng.SetPage(0)
		assert.Equal(t, 1, eng.Filter().Page)
		eng.SetPage(-4)
		assert.Equal(t, 1, eng.Filter().Page)
		eng.Wait()

		for _, p := range api.requestedPages() {
			assert.GreaterOrEqual(t, p, 1)
			assert.LessOrEqual(t, p, 3)
		}
	})

	t.Run("empty result has one page", func(t *testing.T) {
		api := newFakeCatalogAPI(0)
		eng := newTestEngine(t, api)
		eng.Refresh()
		eng.Wait()

		eng.SetPage(2)
		assert.Equal(t, 1, eng.Filter().Page)
		eng.Wait()
		assert.Equal(t, 1, api.callCount())
	})
}

func TestInvertedPriceRangeIsRejected(t *testing.T) {
	api := newFakeCatalogAPI(1)
	eng := newTestEngine(t, api)
	before := eng.Filter()

	min, max := 5000000.0, 3000000.0
	err := eng.SetFilter(models.FilterPatch{MinPrice: &min, MaxPrice: &max})

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "min_price")
	assert.Equal(t, before, eng.Filter())

	f := before
	f.MinPrice, f.MaxPrice = &min, &max
	_, err = eng.Fetch(context.Background(), f)
	require.ErrorAs(t, err, &verr)

	eng.Wait()
	assert.Equal(t, 0, api.callCount())
}

func TestErrorKeepsStaleDataAndRetry(t *testing.T) {
	api := newFakeCatalogAPI(2)
	eng := newTestEngine(t, api)

	api.setFail(errors.New("connection refused"))
	eng.Refresh()
	eng.Wait()

	st := eng.State()
	require.Error(t, st.Err)
	assert.Nil(t, st.Page)
	assert.False(t, st.Empty())
	assert.False(t, st.Loading)

	api.setFail(nil)
	eng.Retry()
	eng.Wait()
	st = eng.State()
	assert.NoError(t, st.Err)
	require.NotNil(t, st.Page)

	api.setFail(errors.New("timeout"))
	eng.Refresh()
	eng.Wait()
	st = eng.State()
	assert.Error(t, st.Err)
	require.NotNil(t, st.Page, "stale data stays visible next to the error")
	assert.Equal(t, "call-1", st.Page.Data[0].Title)
}

func TestInvalidateDropsInflightResponses(t *testing.T) {
	api := newFakeCatalogAPI(1)
	api.gated = true
	eng := newTestEngine(t, api)

	require.NoError(t, eng.SetFilter(models.FilterPatch{City: strPtr("Hanoi")}))
	waitForCalls(t, api, 1)
	require.NoError(t, eng.SetFilter(models.FilterPatch{City: strPtr("Saigon")}))
	waitForCalls(t, api, 2)

	eng.Invalidate()
	waitForCalls(t, api, 3)

	api.release(0)
	api.release(1)
	api.release(2)
	eng.Wait()

	hanoi := models.DefaultFilter(10)
	hanoi.City = "Hanoi"
	eng.mu.Lock()
	_, cached := eng.pages[identity.FilterKey(hanoi)]
	eng.mu.Unlock()
	assert.False(t, cached, "response issued before invalidation must not be cached")

	st := eng.State()
	require.NotNil(t, st.Page)
	assert.Equal(t, "call-2", st.Page.Data[0].Title)
}

type memPageStore struct {
	mu      sync.Mutex
	pages   map[string]*models.CatalogPage
	deletes int
}

func (m *memPageStore) LoadPage(ctx context.Context, key string) (*models.CatalogPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages[key], nil
}

func (m *memPageStore) SavePage(ctx context.Context, key string, page *models.CatalogPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[key] = page
	return nil
}

func (m *memPageStore) DeletePages(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = make(map[string]*models.CatalogPage)
	m.deletes++
	return nil
}

func TestPageStoreServesColdMiss(t *testing.T) {
	api := newFakeCatalogAPI(4)
	api.gated = true
	eng := newTestEngine(t, api)

	key := identity.FilterKey(eng.Filter())
	store := &memPageStore{pages: map[string]*models.CatalogPage{
		key: {Data: []models.Property{{ID: 99, Title: "from disk"}}, Meta: models.PageMeta{LastPage: 4}},
	}}
	eng.SetPageStore(store)

	eng.Refresh()
	require.Eventually(t, func() bool {
		st := eng.State()
		return st.Page != nil && st.Page.Data[0].Title == "from disk"
	}, 2*time.Second, time.Millisecond)
	assert.True(t, eng.State().Refreshing)

	waitForCalls(t, api, 1)
	api.release(0)
	eng.Wait()

	assert.Equal(t, "call-0", eng.State().Page.Data[0].Title)
	store.mu.Lock()
	assert.Equal(t, "call-0", store.pages[key].Data[0].Title, "network result is written through")
	store.mu.Unlock()

	eng.Invalidate()
	waitForCalls(t, api, 2)
	api.release(1)
	eng.Wait()
	store.mu.Lock()
	assert.Equal(t, 1, store.deletes)
	store.mu.Unlock()
}

func TestPropertyCache(t *testing.T) {
	api := newFakeCatalogAPI(1)
	api.props[7] = &models.Property{ID: 7, Title: "Penthouse"}
	eng := newTestEngine(t, api)
	ctx := context.Background()

	p, err := eng.Property(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Penthouse", p.Title)

	p.Title = "mutated by caller"
	p, err = eng.Property(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Penthouse", p.Title)
	assert.Equal(t, 1, api.propCalls)

	eng.InvalidateProperty(7)
	_, err = eng.Property(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, api.propCalls)
}

func TestApplyPreset(t *testing.T) {
	api := newFakeCatalogAPI(1)
	eng := newTestEngine(t, api)

	f := models.DefaultFilter(0)
	f.City = "Hanoi"
	f.Page = 5
	eng.SetPresets(map[string]models.Filter{"hanoi": f})

	require.NoError(t, eng.ApplyPreset("hanoi"))
	got := eng.Filter()
	assert.Equal(t, "Hanoi", got.City)
	assert.Equal(t, 1, got.Page)
	assert.Equal(t, 10, got.PerPage)

	assert.ErrorIs(t, eng.ApplyPreset("nope"), ErrUnknownPreset)
	eng.Wait()
}

func TestFetchCachesUnderFullKey(t *testing.T) {
	api := newFakeCatalogAPI(2)
	eng := newTestEngine(t, api)

	f := models.DefaultFilter(10)
	f.Page = 2
	f.City = "Hue"
	store := &memPageStore{pages: make(map[string]*models.CatalogPage)}
	eng.SetPageStore(store)

	page, err := eng.Fetch(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, 2, page.LastPage())

	store.mu.Lock()
	stored := store.pages[identity.FilterKey(f)]
	store.mu.Unlock()
	assert.Same(t, page, stored)
	assert.Equal(t, 1, eng.Filter().Page, "fetch leaves the current filter alone")
}

func TestFetchOfOtherKeysDoesNotAccumulate(t *testing.T) {
	api := newFakeCatalogAPI(50)
	eng := newTestEngine(t, api)
	ctx := context.Background()

	f := models.DefaultFilter(10)
	f.Sort = models.SortPrice
	for n := 1; n <= 50; n++ {
		f.Page = n
		_, err := eng.Fetch(ctx, f)
		require.NoError(t, err)
	}

	eng.mu.Lock()
	assert.Empty(t, eng.pages)
	assert.Empty(t, eng.issued)
	assert.Empty(t, eng.inflight)
	assert.Empty(t, eng.lastPage)
	eng.mu.Unlock()

	// the current filter's page survives a fetch of itself
	cur := eng.Filter()
	page, err := eng.Fetch(ctx, cur)
	require.NoError(t, err)
	eng.mu.Lock()
	assert.Same(t, page, eng.pages[identity.FilterKey(cur)])
	eng.mu.Unlock()
}

func TestInvalidateForgetsOtherFiltersLastPage(t *testing.T) {
	api := newFakeCatalogAPI(3)
	eng := newTestEngine(t, api)

	eng.Refresh()
	eng.Wait()
	for _, city := range []string{"Hanoi", "Hue", "Da Nang"} {
		require.NoError(t, eng.SetFilter(models.FilterPatch{City: strPtr(city)}))
		eng.Wait()
	}

	eng.mu.Lock()
	assert.Len(t, eng.lastPage, 4)
	eng.mu.Unlock()

	eng.Invalidate()
	eng.Wait()

	eng.mu.Lock()
	assert.Len(t, eng.lastPage, 1)
	assert.Contains(t, eng.lastPage, identity.BaseKey(eng.filter))
	assert.Len(t, eng.issued, 1)
	assert.Len(t, eng.pages, 1)
	eng.mu.Unlock()
}
