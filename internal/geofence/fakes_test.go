package geofence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlesng35/parkpal/internal/models"
)

var (
	madison      = Location{Latitude: 43.0731, Longitude: -89.4012}
	madisonAfar  = Location{Latitude: 43.0900, Longitude: -89.3800}
	fixedNow     = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fastRetry    = RetryOptions{MaxElapsedTime: time.Second, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxRetries: 2}
	noRetry      = RetryOptions{MaxElapsedTime: time.Second, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	testFixedNow = func() time.Time { return fixedNow }
)

func report(id string, loc Location, available bool, at time.Time) models.ParkingReport {
	lat, lon := loc.Latitude, loc.Longitude
	ts := at.UnixMilli()
	r := models.ParkingReport{
		Latitude:    &lat,
		Longitude:   &lon,
		IsAvailable: available,
		Timestamp:   &ts,
	}
	r.ID = id
	return r
}

type fakeHistory struct {
	mu        sync.Mutex
	records   map[string]models.NotificationRecord
	nextID    int
	indexErr  error
	createErr error
	deleteErr error
	creates   int
	deletes   int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{records: make(map[string]models.NotificationRecord)}
}

func (h *fakeHistory) IndexByReport(_ context.Context, userID string) (map[string]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.indexErr != nil {
		return nil, h.indexErr
	}
	index := make(map[string]string)
	for id, record := range h.records {
		if record.UserID == userID {
			index[record.ReportID] = id
		}
	}
	return index, nil
}

func (h *fakeHistory) CreateRecord(_ context.Context, record *models.NotificationRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.creates++
	if h.createErr != nil {
		return h.createErr
	}
	for _, existing := range h.records {
		if existing.UserID == record.UserID && existing.ReportID == record.ReportID {
			return ErrDuplicateRecord
		}
	}
	h.nextID++
	record.ID = fmt.Sprintf("rec-%d", h.nextID)
	h.records[record.ID] = *record
	return nil
}

func (h *fakeHistory) DeleteRecord(_ context.Context, userID, recordID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deletes++
	if h.deleteErr != nil {
		return h.deleteErr
	}
	if record, ok := h.records[recordID]; ok && record.UserID == userID {
		delete(h.records, recordID)
	}
	return nil
}

func (h *fakeHistory) reportIDs(userID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var ids []string
	for _, record := range h.records {
		if record.UserID == userID {
			ids = append(ids, record.ReportID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (h *fakeHistory) deleteCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deletes
}

func (h *fakeHistory) seed(userID, reportID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := fmt.Sprintf("rec-%d", h.nextID)
	record := models.NotificationRecord{UserID: userID, ReportID: reportID}
	record.ID = id
	h.records[id] = record
}

type pushCall struct {
	UserID  string
	Request PushRequest
}

type fakePusher struct {
	mu      sync.Mutex
	calls   []pushCall
	err     error
	block   chan struct{}
	waiting atomic.Int32
}

func (p *fakePusher) Push(ctx context.Context, userID string, request PushRequest) error {
	if p.block != nil {
		p.waiting.Add(1)
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, pushCall{UserID: userID, Request: request})
	return nil
}

func (p *fakePusher) reportIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.calls))
	for _, call := range p.calls {
		ids = append(ids, call.Request.Data.ReportID)
	}
	sort.Strings(ids)
	return ids
}

func (p *fakePusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeDeleter struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (d *fakeDeleter) DeleteReport(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.deleted = append(d.deleted, id)
	return nil
}

func (d *fakeDeleter) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deleted...)
}

// fakeFeed is an in-memory report feed that publishes like the real store.
type fakeFeed struct {
	fakeDeleter

	mu          sync.Mutex
	seq         uint64
	reports     []models.ParkingReport
	subscribers map[int]func(Snapshot)
	nextSub     int
}

func newFakeFeed(reports ...models.ParkingReport) *fakeFeed {
	return &fakeFeed{reports: reports, subscribers: make(map[int]func(Snapshot))}
}

func (f *fakeFeed) SubscribeReports(_ context.Context, fn func(Snapshot)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subscribers[id] = fn
	fn(Snapshot{Seq: f.seq, Reports: append([]models.ParkingReport(nil), f.reports...)})
	return func() {
		f.mu.Lock()
		delete(f.subscribers, id)
		f.mu.Unlock()
	}, nil
}

func (f *fakeFeed) publish(reports ...models.ParkingReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.reports = reports
	for _, fn := range f.subscribers {
		fn(Snapshot{Seq: f.seq, Reports: append([]models.ParkingReport(nil), reports...)})
	}
}

func (f *fakeFeed) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

type fakePrefs struct {
	mu          sync.Mutex
	prefs       map[string]Preferences
	subscribers map[string][]func(Preferences)
	released    int
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{prefs: make(map[string]Preferences), subscribers: make(map[string][]func(Preferences))}
}

func (p *fakePrefs) get(userID string) Preferences {
	if prefs, ok := p.prefs[userID]; ok {
		return prefs
	}
	return DefaultPreferences
}

func (p *fakePrefs) Radius(_ context.Context, userID string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.get(userID).Radius, nil
}

func (p *fakePrefs) NotificationsEnabled(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.get(userID).NotificationsEnabled, nil
}

func (p *fakePrefs) SubscribePreferences(_ context.Context, userID string, fn func(Preferences)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[userID] = append(p.subscribers[userID], fn)
	fn(p.get(userID))
	return func() {
		p.mu.Lock()
		p.released++
		p.mu.Unlock()
	}, nil
}

func (p *fakePrefs) set(userID string, prefs Preferences) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prefs[userID] = prefs
	for _, fn := range p.subscribers[userID] {
		fn(prefs)
	}
}
