package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"estate_admin/identity"
	"estate_admin/models"
)

// CatalogAPI is the part of the transport the catalog engine reads from
type CatalogAPI interface {
	ListProperties(ctx context.Context, f models.Filter) (*models.CatalogPage, error)
	GetProperty(ctx context.Context, id int64) (*models.Property, error)
}

// PageStore is an optional second-level page cache. LoadPage returns nil, nil
// on a miss.
type PageStore interface {
	LoadPage(ctx context.Context, key string) (*models.CatalogPage, error)
	SavePage(ctx context.Context, key string, page *models.CatalogPage) error
	DeletePages(ctx context.Context) error
}

var ErrUnknownPreset = errors.New("unknown filter preset")

// CatalogState is what a listing screen renders. Page may be stale while
// Refreshing is set, and stays visible next to Err after a failed refresh.
type CatalogState struct {
	Version    uint64
	Filter     models.Filter
	Key        string
	Page       *models.CatalogPage
	Loading    bool // nothing to show yet for Key
	Refreshing bool // Page is shown while a newer copy is fetched
	Err        error
}

// Empty reports a successful response with no rows, as opposed to no data yet
func (s CatalogState) Empty() bool {
	return s.Page != nil && len(s.Page.Data) == 0
}

type fetchRequest struct {
	key    string
	filter models.Filter
	n      uint64
	cold   bool // no in-memory page when issued
	purge  bool // drop the second-level cache first
	store  PageStore
}

// CatalogEngine owns the listing filter and a keyed page cache.
//
// Every request gets a number from one increasing counter and issued[key]
// holds the newest number handed out for that key. A response is cached only
// while it still carries that number, and reaches subscribers only if its key
// is also the current one. Mutating methods return immediately; fetches run
// in the background.
type CatalogEngine struct {
	api    CatalogAPI
	store  PageStore
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	filter   models.Filter
	seq      uint64
	version  uint64
	issued   map[string]uint64
	inflight map[string]bool
	pages    map[string]*models.CatalogPage
	lastPage map[string]int // base key -> last_page of the most recent response
	err      error
	presets  map[string]models.Filter
	props    map[int64]*models.Property
	subs     map[int]func(CatalogState)
	nextSub  int

	pubMu     sync.Mutex
	delivered uint64
}

func NewCatalogEngine(api CatalogAPI, initial models.Filter, logger *zap.Logger) *CatalogEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CatalogEngine{
		api:      api,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		filter:   initial,
		issued:   make(map[string]uint64),
		inflight: make(map[string]bool),
		pages:    make(map[string]*models.CatalogPage),
		lastPage: make(map[string]int),
		presets:  make(map[string]models.Filter),
		props:    make(map[int64]*models.Property),
		subs:     make(map[int]func(CatalogState)),
	}
}

// SetPageStore attaches a second-level cache. Call before the first fetch.
func (e *CatalogEngine) SetPageStore(store PageStore) {
	e.mu.Lock()
	e.store = store
	e.mu.Unlock()
}

func (e *CatalogEngine) SetPresets(presets map[string]models.Filter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, f := range presets {
		e.presets[name] = f
	}
}

// Close abandons in-flight fetches and waits for them to return
func (e *CatalogEngine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Wait blocks until every background fetch has settled
func (e *CatalogEngine) Wait() {
	e.wg.Wait()
}

// Subscribe registers fn for state changes. fn runs outside the engine lock
// but must not call mutating engine methods synchronously. States are
// delivered in Version order; a superseded state is skipped.
func (e *CatalogEngine) Subscribe(fn func(CatalogState)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *CatalogEngine) State() CatalogState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *CatalogEngine) Filter() models.Filter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filter
}

// Refresh shows the cached page for the current filter, if any, and
// revalidates it in the background.
func (e *CatalogEngine) Refresh() {
	e.mu.Lock()
	e.err = nil
	req := e.beginLocked(e.filter, false)
	e.commitLocked(req)
}

// Retry re-issues the current request after a failure
func (e *CatalogEngine) Retry() {
	e.Refresh()
}

// SetFilter merges patch into the current filter. Any change outside the
// page number resets the page to 1; a patch that only moves the page behaves
// like SetPage. An invalid result is rejected and nothing is sent.
func (e *CatalogEngine) SetFilter(patch models.FilterPatch) error {
	if patch.City != nil {
		city := identity.NormalizeCity(*patch.City)
		patch.City = &city
	}

	e.mu.Lock()
	next, changed := patch.Apply(e.filter)
	if !changed {
		e.mu.Unlock()
		if patch.Page != nil {
			e.SetPage(*patch.Page)
		}
		return nil
	}

	if err := next.Validate(); err != nil {
		e.mu.Unlock()
		return err
	}

	e.filter = next
	e.err = nil
	req := e.beginLocked(next, false)
	e.commitLocked(req)
	return nil
}

// SetPage moves to page n, clamped into [1, last_page]. last_page comes from
// the most recent response for the current filter; until one has arrived
// only the lower bound applies.
func (e *CatalogEngine) SetPage(n int) {
	e.mu.Lock()
	if n < 1 {
		n = 1
	}
	if last, ok := e.lastPage[identity.BaseKey(e.filter)]; ok && n > last {
		n = last
	}
	if n == e.filter.Page {
		e.mu.Unlock()
		return
	}

	e.filter.Page = n
	e.err = nil
	req := e.beginLocked(e.filter, false)
	e.commitLocked(req)
}

// ToggleSort sorts by key ascending, or flips to descending when already
// sorted ascending by key.
func (e *CatalogEngine) ToggleSort(key models.SortKey) error {
	f := e.Filter()
	order := models.OrderAsc
	if f.Sort == key && f.Order == models.OrderAsc {
		order = models.OrderDesc
	}
	return e.SetFilter(models.FilterPatch{Sort: &key, Order: &order})
}

// ApplyPreset replaces the whole filter with a named preset, on page 1
func (e *CatalogEngine) ApplyPreset(name string) error {
	e.mu.Lock()
	preset, ok := e.presets[name]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}

	preset.Page = 1
	if preset.PerPage == 0 {
		preset.PerPage = e.Filter().PerPage
	}
	if err := preset.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if identity.FilterKey(preset) == identity.FilterKey(e.filter) {
		e.mu.Unlock()
		return nil
	}
	e.filter = preset
	e.err = nil
	req := e.beginLocked(preset, false)
	e.commitLocked(req)
	return nil
}

// Invalidate drops every cached page after a write. In-flight responses are
// ignored from now on; the current page stays visible while it revalidates.
func (e *CatalogEngine) Invalidate() {
	e.mu.Lock()
	cur := identity.FilterKey(e.filter)
	base := identity.BaseKey(e.filter)
	// a response whose key has no issued number is discarded
	clear(e.issued)
	clear(e.inflight)
	for key := range e.pages {
		if key != cur {
			delete(e.pages, key)
		}
	}
	for key := range e.lastPage {
		if key != base {
			delete(e.lastPage, key)
		}
	}
	e.err = nil
	req := e.beginLocked(e.filter, e.store != nil)
	e.commitLocked(req)
}

// InvalidateProperty forgets a cached single property
func (e *CatalogEngine) InvalidateProperty(id int64) {
	e.mu.Lock()
	delete(e.props, id)
	e.mu.Unlock()
}

// Property returns a single property, from cache when possible
func (e *CatalogEngine) Property(ctx context.Context, id int64) (*models.Property, error) {
	e.mu.Lock()
	if p, ok := e.props[id]; ok {
		e.mu.Unlock()
		cp := *p
		return &cp, nil
	}
	e.mu.Unlock()

	p, err := e.api.GetProperty(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.props[id] = p
	e.mu.Unlock()

	cp := *p
	return &cp, nil
}

// Fetch loads one page synchronously and saves it to the page store under the
// filter's key. It does not change the current filter, and unless f is the
// current filter nothing about the fetch stays in memory afterwards.
func (e *CatalogEngine) Fetch(ctx context.Context, f models.Filter) (*models.CatalogPage, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	req := e.beginLocked(f, false)
	st, notify := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(st, notify)

	page, err := e.api.ListProperties(ctx, f)
	e.complete(req, page, err)
	e.release(req)
	return page, err
}

// release forgets a finished one-off request for a key other than the
// current one. Nothing is dropped while a newer request owns the key.
func (e *CatalogEngine) release(req fetchRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if req.key == e.currentKeyLocked() || e.issued[req.key] != req.n {
		return
	}
	delete(e.issued, req.key)
	delete(e.inflight, req.key)
	delete(e.pages, req.key)
	if base := identity.BaseKey(req.filter); base != identity.BaseKey(e.filter) {
		delete(e.lastPage, base)
	}
}

func (e *CatalogEngine) beginLocked(f models.Filter, purge bool) fetchRequest {
	key := identity.FilterKey(f)
	e.seq++
	e.issued[key] = e.seq
	e.inflight[key] = true
	return fetchRequest{
		key:    key,
		filter: f,
		n:      e.seq,
		cold:   e.pages[key] == nil,
		purge:  purge,
		store:  e.store,
	}
}

// commitLocked publishes the new state and starts req. It releases e.mu.
func (e *CatalogEngine) commitLocked(req fetchRequest) {
	st, notify := e.snapshotLocked()
	e.wg.Add(1)
	e.mu.Unlock()

	e.publish(st, notify)
	go e.run(req)
}

func (e *CatalogEngine) run(req fetchRequest) {
	defer e.wg.Done()

	if req.store != nil {
		if req.purge {
			if err := req.store.DeletePages(e.ctx); err != nil {
				e.logger.Warn("purge page store", zap.Error(err))
			}
		} else if req.cold {
			e.loadStored(req)
		}
	}

	page, err := e.api.ListProperties(e.ctx, req.filter)
	e.complete(req, page, err)
}

// loadStored shows a second-level cache hit while the network request runs
func (e *CatalogEngine) loadStored(req fetchRequest) {
	page, err := req.store.LoadPage(e.ctx, req.key)
	if err != nil {
		e.logger.Warn("load stored page", zap.String("key", req.key), zap.Error(err))
		return
	}
	if page == nil {
		return
	}

	e.mu.Lock()
	if e.issued[req.key] != req.n || e.pages[req.key] != nil {
		e.mu.Unlock()
		return
	}
	e.pages[req.key] = page
	base := identity.BaseKey(req.filter)
	if _, ok := e.lastPage[base]; !ok {
		e.lastPage[base] = page.LastPage()
	}
	if req.key != e.currentKeyLocked() {
		e.mu.Unlock()
		return
	}
	st, notify := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(st, notify)
}

func (e *CatalogEngine) complete(req fetchRequest, page *models.CatalogPage, err error) {
	e.mu.Lock()
	if e.issued[req.key] != req.n {
		e.mu.Unlock()
		e.logger.Debug("discarding superseded response", zap.String("key", req.key), zap.Uint64("request", req.n))
		return
	}
	delete(e.inflight, req.key)
	current := req.key == e.currentKeyLocked()

	if err != nil {
		if !current {
			e.mu.Unlock()
			return
		}
		if e.ctx.Err() == nil {
			e.logger.Warn("catalog fetch failed", zap.String("key", req.key), zap.Error(err))
		}
		e.err = err
		st, notify := e.snapshotLocked()
		e.mu.Unlock()
		e.publish(st, notify)
		return
	}

	e.pages[req.key] = page
	e.lastPage[identity.BaseKey(req.filter)] = page.LastPage()
	var st CatalogState
	var notify []func(CatalogState)
	if current {
		e.err = nil
		st, notify = e.snapshotLocked()
	}
	e.mu.Unlock()

	if current {
		e.publish(st, notify)
	}
	if req.store != nil {
		if err := req.store.SavePage(e.ctx, req.key, page); err != nil {
			e.logger.Warn("save page", zap.String("key", req.key), zap.Error(err))
		}
	}
}

func (e *CatalogEngine) currentKeyLocked() string {
	return identity.FilterKey(e.filter)
}

func (e *CatalogEngine) stateLocked() CatalogState {
	key := e.currentKeyLocked()
	page := e.pages[key]
	busy := e.inflight[key]
	return CatalogState{
		Version:    e.version,
		Filter:     e.filter,
		Key:        key,
		Page:       page,
		Loading:    busy && page == nil,
		Refreshing: busy && page != nil,
		Err:        e.err,
	}
}

func (e *CatalogEngine) snapshotLocked() (CatalogState, []func(CatalogState)) {
	e.version++
	notify := make([]func(CatalogState), 0, len(e.subs))
	for _, fn := range e.subs {
		notify = append(notify, fn)
	}
	return e.stateLocked(), notify
}

func (e *CatalogEngine) publish(st CatalogState, notify []func(CatalogState)) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	if st.Version <= e.delivered {
		return
	}
	e.delivered = st.Version
	for _, fn := range notify {
		fn(st)
	}
}
