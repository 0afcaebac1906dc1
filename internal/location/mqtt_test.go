package location

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agazso/runtracker/internal/tracking"
)

func TestTopic(t *testing.T) {
	if got := Topic("phone-1", TopicLocation); got != "runtracker/phone-1/location" {
		t.Fatalf("unexpected topic %s", got)
	}
}

func TestConfigurePublishesRetainedRecord(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTProvider(client, "phone-1", DefaultProviderConfig())

	if err := p.Configure(context.Background()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	msgs := client.publishedTo("/config")
	if len(msgs) != 1 || !msgs[0].retained {
		t.Fatalf("expected one retained config message, got %+v", msgs)
	}

	var record map[string]any
	if err := json.Unmarshal(msgs[0].payload, &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record["distanceFilter"] != float64(50) || record["stopOnTerminate"] != true {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestConfigurePublishError(t *testing.T) {
	client := newFakeClient()
	client.publishErr = errors.New("not connected")
	p := NewMQTTProvider(client, "phone-1", DefaultProviderConfig())
	if err := p.Configure(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStartSubscribesAndDeliversFixes(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTProvider(client, "phone-1", DefaultProviderConfig())

	var fixes []tracking.Fix
	var stationary []tracking.Fix
	var errs []error
	p.Subscribe(tracking.Handlers{
		Location:   func(f tracking.Fix) { fixes = append(fixes, f) },
		Stationary: func(f tracking.Fix) { stationary = append(stationary, f) },
		Error:      func(err error) { errs = append(errs, err) },
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	cmds := client.publishedTo("/command")
	if len(cmds) != 1 || string(cmds[0].payload) != CommandStart {
		t.Fatalf("expected start command, got %+v", cmds)
	}

	payload, _ := json.Marshal(Message{Latitude: 37.78825, Longitude: -122.4324, Accuracy: 5, Time: 1488362400000})
	if err := client.deliver(Topic("phone-1", TopicLocation), payload); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := client.deliver(Topic("phone-1", TopicStationary), payload); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(fixes) != 1 || fixes[0].Lat != 37.78825 || fixes[0].Accuracy != 5 {
		t.Fatalf("unexpected fixes %+v", fixes)
	}
	if !fixes[0].RecordedAt.Equal(time.UnixMilli(1488362400000)) {
		t.Fatalf("unexpected fix time %v", fixes[0].RecordedAt)
	}
	if len(stationary) != 1 {
		t.Fatalf("expected stationary fix")
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestInvalidPayloadBecomesErrorEvent(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTProvider(client, "phone-1", DefaultProviderConfig())

	var fixes int
	var errs []error
	p.Subscribe(tracking.Handlers{
		Location: func(tracking.Fix) { fixes++ },
		Error:    func(err error) { errs = append(errs, err) },
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	_ = client.deliver(Topic("phone-1", TopicLocation), []byte("{"))
	_ = client.deliver(Topic("phone-1", TopicLocation), []byte(`{"latitude":91,"longitude":0}`))
	_ = client.deliver(Topic("phone-1", TopicLocation), []byte(`{"latitude":0,"longitude":-181}`))
	_ = client.deliver(Topic("phone-1", TopicLocation), []byte(`{}`))
	_ = client.deliver(Topic("phone-1", TopicLocation), []byte(`{"lat":47.5,"lon":19.04}`))
	_ = client.deliver(Topic("phone-1", TopicLocation), []byte(`{"latitude":47.5}`))
	_ = client.deliver(Topic("phone-1", TopicLocation), []byte(`{"latitude":null,"longitude":19.04}`))
	_ = client.deliver(Topic("phone-1", TopicLocation), []byte(`{"latitude":47.5,"longitude":19.04,"time":-1}`))

	if fixes != 0 {
		t.Fatalf("expected invalid fixes dropped")
	}
	if len(errs) != 8 {
		t.Fatalf("expected eight error events, got %d", len(errs))
	}
}

func TestMissingCoordinatesDoNotMoveTheTracker(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTProvider(client, "phone-1", DefaultProviderConfig())
	tr := tracking.NewTracker(tracking.Options{DeviceID: "phone-1", Provider: p})
	if err := tr.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	tr.Start(context.Background())

	_ = client.deliver(Topic("phone-1", TopicLocation), []byte(`{"latitude":47.5,"longitude":19.04}`))
	_ = client.deliver(Topic("phone-1", TopicLocation), []byte(`{}`))

	s := tr.Snapshot()
	if len(s.Current) != 1 || s.DistanceKm != 0 {
		t.Fatalf("expected only the real fix, got %d fixes and %.2f km", len(s.Current), s.DistanceKm)
	}
}

func TestEquatorFixIsAccepted(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTProvider(client, "phone-1", DefaultProviderConfig())

	var got []tracking.Fix
	p.Subscribe(tracking.Handlers{
		Location: func(f tracking.Fix) { got = append(got, f) },
		Error:    func(err error) { t.Errorf("unexpected error event: %v", err) },
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	_ = client.deliver(Topic("phone-1", TopicLocation), []byte(`{"latitude":0,"longitude":0}`))
	if len(got) != 1 || got[0].Lat != 0 || got[0].Lng != 0 {
		t.Fatalf("expected a fix at 0,0, got %+v", got)
	}
}

func TestErrorTopicEmitsProviderError(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTProvider(client, "phone-1", DefaultProviderConfig())

	var got error
	p.Subscribe(tracking.Handlers{Error: func(err error) { got = err }})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	_ = client.deliver(Topic("phone-1", TopicError), []byte(`{"code":2,"message":"location unavailable"}`))
	var perr *ProviderError
	if !errors.As(got, &perr) || perr.Code != 2 {
		t.Fatalf("expected provider error, got %v", got)
	}

	_ = client.deliver(Topic("phone-1", TopicError), []byte("gps off"))
	if !errors.As(got, &perr) || perr.Message != "gps off" {
		t.Fatalf("expected raw payload as message, got %v", got)
	}
}

func TestErrorWithoutHandlerIsLogged(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTProvider(client, "phone-1", DefaultProviderConfig())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := client.deliver(Topic("phone-1", TopicError), []byte("boom")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
}

func TestStopPublishesAndUnsubscribes(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTProvider(client, "phone-1", DefaultProviderConfig())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	cmds := client.publishedTo("/command")
	if len(cmds) != 2 || string(cmds[1].payload) != CommandStop {
		t.Fatalf("expected stop command, got %+v", cmds)
	}
	if len(client.unsubscribed) != 3 {
		t.Fatalf("expected three topics unsubscribed, got %v", client.unsubscribed)
	}
	if err := client.deliver(Topic("phone-1", TopicLocation), []byte(`{}`)); err == nil {
		t.Fatalf("expected no subscriber after stop")
	}
}

func TestStartSubscribeError(t *testing.T) {
	client := newFakeClient()
	client.subscribeErr = errors.New("denied")
	p := NewMQTTProvider(client, "phone-1", DefaultProviderConfig())
	if err := p.Start(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if len(client.publishedTo("/command")) != 0 {
		t.Fatalf("expected no start command after subscribe failure")
	}
}

func TestStopHonorsContext(t *testing.T) {
	client := newFakeClient()
	client.pending = true
	p := NewMQTTProvider(client, "phone-1", DefaultProviderConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Stop(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestGeolocatorCurrentPosition(t *testing.T) {
	client := newFakeClient()
	client.onPublish = func(topic string, payload []byte) {
		if topic != Topic("phone-1", TopicPositionRequest) {
			return
		}
		var req map[string]string
		_ = json.Unmarshal(payload, &req)
		reply, _ := json.Marshal(Message{Latitude: 47.5, Longitude: 19.05, RequestID: req["request_id"]})
		go func() { _ = client.deliver(Topic("phone-1", TopicPosition), reply) }()
	}

	g := NewMQTTGeolocator(client, "phone-1", time.Second)
	fix, err := g.CurrentPosition(context.Background())
	if err != nil {
		t.Fatalf("current position: %v", err)
	}
	if fix.Lat != 47.5 || fix.Lng != 19.05 {
		t.Fatalf("unexpected fix %+v", fix)
	}
}

func TestGeolocatorIgnoresOtherRequests(t *testing.T) {
	client := newFakeClient()
	client.onPublish = func(topic string, _ []byte) {
		if topic != Topic("phone-1", TopicPositionRequest) {
			return
		}
		reply, _ := json.Marshal(Message{Latitude: 1, Longitude: 1, RequestID: "someone-else"})
		go func() { _ = client.deliver(Topic("phone-1", TopicPosition), reply) }()
	}

	g := NewMQTTGeolocator(client, "phone-1", 50*time.Millisecond)
	if _, err := g.CurrentPosition(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestGeolocatorConcurrentRequests(t *testing.T) {
	client := newFakeClient()
	var (
		mu  sync.Mutex
		ids []string
	)
	client.onPublish = func(topic string, payload []byte) {
		if topic != Topic("phone-1", TopicPositionRequest) {
			return
		}
		var req map[string]string
		_ = json.Unmarshal(payload, &req)

		mu.Lock()
		ids = append(ids, req["request_id"])
		ready := append([]string{}, ids...)
		mu.Unlock()
		if len(ready) < 2 {
			return
		}
		// answer only once both requests are in flight
		go func() {
			for i, id := range ready {
				reply, _ := json.Marshal(Message{Latitude: float64(10 + i), Longitude: 20, RequestID: id})
				_ = client.deliver(Topic("phone-1", TopicPosition), reply)
			}
		}()
	}

	g := NewMQTTGeolocator(client, "phone-1", time.Second)
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.CurrentPosition(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("current position: %v", err)
	}

	var positionUnsubscribes int
	for _, topic := range client.unsubscribed {
		if topic == Topic("phone-1", TopicPosition) {
			positionUnsubscribes++
		}
	}
	if positionUnsubscribes != 1 {
		t.Fatalf("expected one unsubscribe after both requests, got %d", positionUnsubscribes)
	}
}

func TestGeolocatorSkipsReplyWithoutCoordinates(t *testing.T) {
	client := newFakeClient()
	client.onPublish = func(topic string, payload []byte) {
		if topic != Topic("phone-1", TopicPositionRequest) {
			return
		}
		var req map[string]string
		_ = json.Unmarshal(payload, &req)
		empty, _ := json.Marshal(map[string]string{"request_id": req["request_id"]})
		reply, _ := json.Marshal(Message{Latitude: 47.5, Longitude: 19.05, RequestID: req["request_id"]})
		go func() {
			_ = client.deliver(Topic("phone-1", TopicPosition), empty)
			_ = client.deliver(Topic("phone-1", TopicPosition), reply)
		}()
	}

	g := NewMQTTGeolocator(client, "phone-1", time.Second)
	fix, err := g.CurrentPosition(context.Background())
	if err != nil {
		t.Fatalf("current position: %v", err)
	}
	if fix.Lat != 47.5 || fix.Lng != 19.05 {
		t.Fatalf("unexpected fix %+v", fix)
	}
}

func TestGeolocatorSubscribeError(t *testing.T) {
	client := newFakeClient()
	client.subscribeErr = errors.New("denied")
	g := NewMQTTGeolocator(client, "phone-1", time.Second)
	if _, err := g.CurrentPosition(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadProviderConfigDefaults(t *testing.T) {
	cfg, err := LoadProviderConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != DefaultProviderConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadProviderConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provider.yml")
	body := "distance_filter: 10\nnotification_text: recording\ninterval: 2000\nfastest_interval: 1000\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadProviderConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DistanceFilter != 10 || cfg.NotificationText != "recording" || cfg.Interval != 2000 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.StationaryRadius != 50 || !cfg.StopOnTerminate {
		t.Fatalf("expected untouched defaults, got %+v", cfg)
	}
}

func TestLoadProviderConfigInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yml")
	_ = os.WriteFile(bad, []byte("desired_accuracy: 7\n"), 0o600)
	if _, err := LoadProviderConfig(bad); err == nil {
		t.Fatalf("expected validation error")
	}

	inverted := filepath.Join(dir, "inverted.yml")
	_ = os.WriteFile(inverted, []byte("interval: 1000\nfastest_interval: 5000\n"), 0o600)
	if _, err := LoadProviderConfig(inverted); err == nil {
		t.Fatalf("expected fastest_interval validation error")
	}

	broken := filepath.Join(dir, "broken.yml")
	_ = os.WriteFile(broken, []byte("interval: [\n"), 0o600)
	if _, err := LoadProviderConfig(broken); err == nil {
		t.Fatalf("expected parse error")
	}

	if _, err := LoadProviderConfig(filepath.Join(dir, "missing.yml")); err == nil {
		t.Fatalf("expected read error")
	}
}
