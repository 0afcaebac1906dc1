package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/agazso/runtracker/internal/shared/geo"

	"github.com/google/uuid"
)

const (
	DefaultLatitudeDelta = 0.0922

	strokeCompleted = "#000"
	strokeCurrent   = "#F01A1A"
	overlayFill     = "rgba(255,0,0,0.5)"
	overlayWidth    = 5
	readoutIdle     = "black"
	readoutTracking = "#F01A1A"
)

var (
	ErrPathNotFound = errors.New("path not found")
	ErrNoGeolocator = errors.New("no geolocator configured")
	DefaultRegion   = geo.Region{Lat: 37.78825, Lng: -122.4324, LatDelta: 0.0922, LngDelta: 0.0421}
)

// Handlers receives the events a LocationProvider emits.
type Handlers struct {
	Location   func(Fix)
	Stationary func(Fix)
	Error      func(error)
}

// LocationProvider is the background location source. Start and Stop only request
// a change; fixes may still arrive after Stop returns.
type LocationProvider interface {
	Configure(ctx context.Context) error
	Subscribe(h Handlers)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Geolocator answers a single "where is the device now" request.
type Geolocator interface {
	CurrentPosition(ctx context.Context) (Fix, error)
}

// Renderer draws a view: the map viewport, its overlays and the controls.
type Renderer interface {
	Render(view View)
}

// SealSink is notified when tracking stops and the current path is sealed.
type SealSink interface {
	PathSealed(ctx context.Context, path SealedPath)
}

type Options struct {
	DeviceID      string
	InitialRegion geo.Region
	AspectRatio   float64 // width/height of the map client, scales the centering span
	StartPolicy   StartPolicy
	Provider      LocationProvider
	Geolocator    Geolocator
	Renderer      Renderer
	Sinks         []SealSink
	Now           func() time.Time
	NewID         func() string
}

type Tracker struct {
	deviceID   string
	policy     StartPolicy
	centerSpan geo.Region
	provider   LocationProvider
	locator    Geolocator
	renderer   Renderer
	sinks      []SealSink
	now        func() time.Time
	newID      func() string

	// ctlMu keeps provider start/stop requests in the same order as the
	// transitions that issued them. Taken before mu.
	ctlMu sync.Mutex

	mu    sync.Mutex
	state State

	// renderMu keeps renders in the same order as the state changes they describe.
	renderMu sync.Mutex
}

func NewTracker(opts Options) *Tracker {
	region := opts.InitialRegion
	if region == (geo.Region{}) {
		region = DefaultRegion
	}
	aspect := opts.AspectRatio
	if aspect <= 0 {
		aspect = 1
	}
	policy := opts.StartPolicy
	if policy == "" {
		policy = StartResume
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &Tracker{
		deviceID: opts.DeviceID,
		policy:   policy,
		centerSpan: geo.Region{
			LatDelta: DefaultLatitudeDelta,
			LngDelta: DefaultLatitudeDelta * aspect,
		},
		provider: opts.Provider,
		locator:  opts.Geolocator,
		renderer: opts.Renderer,
		sinks:    opts.Sinks,
		now:      now,
		newID:    newID,
		state: State{
			Paths:  []SealedPath{},
			Region: region,
		},
	}
}

func (t *Tracker) DeviceID() string {
	return t.deviceID
}

// Setup configures the provider and subscribes the tracker to its events.
// The provider is not started until tracking starts.
func (t *Tracker) Setup(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	t.provider.Subscribe(Handlers{
		Location:   t.OnLocation,
		Stationary: t.OnStationary,
		Error:      t.OnError,
	})
	if err := t.provider.Configure(ctx); err != nil {
		return fmt.Errorf("configure location provider: %w", err)
	}
	return nil
}

// OnLocation appends a fix to the current path, adds the leg distance and
// re-centers the viewport on the fix.
func (t *Tracker) OnLocation(fix Fix) {
	t.mu.Lock()
	cur := t.state
	next := cur
	if n := len(cur.Current); n > 0 {
		last := cur.Current[n-1]
		next.DistanceKm = cur.DistanceKm + geo.HaversineKm(fix.Lat, fix.Lng, last.Lat, last.Lng)
	}
	next.Current = append(cur.Current[:len(cur.Current):len(cur.Current)], fix)
	next.Region = cur.Region.CenteredOn(fix.Point())
	t.commit(next)
}

func (t *Tracker) OnStationary(fix Fix) {
	log.Printf("[DEBUG] device %s stationary at %.6f,%.6f", t.deviceID, fix.Lat, fix.Lng)
}

func (t *Tracker) OnError(err error) {
	log.Printf("[ERROR] location provider error: %v", err)
}

func (t *Tracker) Start(ctx context.Context) State {
	return t.transition(ctx, func(State) bool { return true })
}

func (t *Tracker) Stop(ctx context.Context) State {
	return t.transition(ctx, func(State) bool { return false })
}

func (t *Tracker) Toggle(ctx context.Context) State {
	return t.transition(ctx, func(s State) bool { return !s.Tracking })
}

// SetRegion replaces the viewport, e.g. after the user pans the map.
func (t *Tracker) SetRegion(region geo.Region) State {
	t.mu.Lock()
	next := t.state
	next.Region = region
	return t.commit(next)
}

// Center moves the viewport to the device's current position with the default span.
func (t *Tracker) Center(ctx context.Context) (State, error) {
	if t.locator == nil {
		return State{}, ErrNoGeolocator
	}
	fix, err := t.locator.CurrentPosition(ctx)
	if err != nil {
		return State{}, fmt.Errorf("current position: %w", err)
	}

	t.mu.Lock()
	next := t.state
	next.Region = t.centerSpan.CenteredOn(fix.Point())
	return t.commit(next), nil
}

func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone()
}

func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewOf(t.state)
}

func (t *Tracker) Paths() []SealedPath {
	return t.Snapshot().Paths
}

func (t *Tracker) Path(id string) (SealedPath, error) {
	for _, p := range t.Paths() {
		if p.ID == id {
			return p, nil
		}
	}
	return SealedPath{}, ErrPathNotFound
}

func (t *Tracker) transition(ctx context.Context, decide func(State) bool) State {
	t.ctlMu.Lock()
	t.mu.Lock()
	cur := t.state
	want := decide(cur)
	if want == cur.Tracking {
		t.mu.Unlock()
		t.ctlMu.Unlock()
		return cur.clone()
	}

	var (
		next   State
		sealed *SealedPath
	)
	if want {
		next = t.started(cur)
	} else {
		next, sealed = t.stopped(cur)
	}
	snapshot := t.commit(next)
	t.request(ctx, want)
	t.ctlMu.Unlock()

	if sealed != nil {
		for _, sink := range t.sinks {
			sink.PathSealed(ctx, clonePath(*sealed))
		}
	}
	return snapshot
}

func (t *Tracker) started(cur State) State {
	next := cur
	next.Tracking = true
	if t.policy == StartFresh {
		next.Current = nil
		next.DistanceKm = 0
	}
	return next
}

func (t *Tracker) stopped(cur State) (State, *SealedPath) {
	sealed := SealedPath{
		ID:         t.newID(),
		DeviceID:   t.deviceID,
		Fixes:      append([]Fix{}, cur.Current...),
		DistanceKm: cur.DistanceKm,
		SealedAt:   t.now(),
	}

	next := cur
	next.Paths = append(cur.Paths[:len(cur.Paths):len(cur.Paths)], sealed)
	next.Current = nil
	next.DistanceKm = 0
	next.Tracking = false
	return next, &sealed
}

// commit swaps in next, releases t.mu and renders the new view. t.mu must be held.
func (t *Tracker) commit(next State) State {
	t.state = next
	snapshot := next.clone()
	view := t.viewOf(next)

	t.renderMu.Lock()
	t.mu.Unlock()
	defer t.renderMu.Unlock()
	if t.renderer != nil {
		t.renderer.Render(view)
	}
	return snapshot
}

func (t *Tracker) request(ctx context.Context, start bool) {
	if t.provider == nil {
		return
	}
	if start {
		if err := t.provider.Start(ctx); err != nil {
			log.Printf("[ERROR] location provider start: %v", err)
			return
		}
		log.Printf("[DEBUG] location provider started for %s", t.deviceID)
		return
	}
	if err := t.provider.Stop(ctx); err != nil {
		log.Printf("[ERROR] location provider stop: %v", err)
	}
}

func (t *Tracker) viewOf(s State) View {
	polylines := make([]Polyline, 0, len(s.Paths)+1)
	for i, p := range s.Paths {
		polylines = append(polylines, Polyline{
			Key:         fmt.Sprintf("path-%d", i),
			Coordinates: p.Points(),
			StrokeColor: strokeCompleted,
			FillColor:   overlayFill,
			StrokeWidth: overlayWidth,
		})
	}
	current := make([]geo.Point, len(s.Current))
	for i, f := range s.Current {
		current[i] = f.Point()
	}
	polylines = append(polylines, Polyline{
		Key:         "currentPolyline",
		Coordinates: current,
		StrokeColor: strokeCurrent,
		FillColor:   overlayFill,
		StrokeWidth: overlayWidth,
	})

	primary := Button{Action: "start", Label: "Start"}
	color := readoutIdle
	if s.Tracking {
		primary = Button{Action: "stop", Label: "Stop"}
		color = readoutTracking
	}

	return View{
		DeviceID:      t.deviceID,
		Status:        s.Status(),
		Region:        s.Region,
		Polylines:     polylines,
		Buttons:       []Button{primary, {Action: "center", Label: "Center"}},
		Distance:      geo.FormatKm(s.DistanceKm),
		DistanceColor: color,
		DistanceKm:    s.DistanceKm,
	}
}

func clonePath(p SealedPath) SealedPath {
	p.Fixes = append([]Fix{}, p.Fixes...)
	return p
}
