package lifecycle

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/any-hub/offline-agent/internal/config"
)

func newTestDispatcher(t *testing.T, clients *fakeClients, notifier *fakeNotifier) *Dispatcher {
	t.Helper()
	var cfg config.Config
	config.ApplyDefaults(&cfg)
	scope, _ := url.Parse(testOrigin + "/")
	d, err := NewDispatcher(DispatcherOptions{
		Notifier: notifier,
		Clients:  clients,
		Logger:   discardLogger(),
		Config:   cfg.Notification,
		Scope:    scope,
	})
	if err != nil {
		t.Fatalf("dispatcher init error: %v", err)
	}
	d.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return d
}

func TestDispatcherPushWithoutDataShowsNothing(t *testing.T) {
	notifier := &fakeNotifier{}
	d := newTestDispatcher(t, &fakeClients{}, notifier)
	if err := d.Push(context.Background(), nil); err != nil {
		t.Fatalf("push error: %v", err)
	}
	if err := d.Push(context.Background(), []byte("  ")); err != nil {
		t.Fatalf("push error: %v", err)
	}
	if len(notifier.shown) != 0 {
		t.Fatalf("empty push must not show a notification")
	}
}

func TestDispatcherPushMalformedPayload(t *testing.T) {
	notifier := &fakeNotifier{}
	d := newTestDispatcher(t, &fakeClients{}, notifier)
	if err := d.Push(context.Background(), []byte("{not json")); err != nil {
		t.Fatalf("malformed payload should be logged, not returned: %v", err)
	}
	if len(notifier.shown) != 0 {
		t.Fatalf("malformed push must not show a notification")
	}
}

func TestDispatcherPushDefaults(t *testing.T) {
	notifier := &fakeNotifier{}
	d := newTestDispatcher(t, &fakeClients{}, notifier)
	if err := d.Push(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("push error: %v", err)
	}
	if len(notifier.shown) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.shown))
	}
	shown := notifier.shown[0]
	if shown.title != "🕌 Salah Times" {
		t.Fatalf("unexpected title %q", shown.title)
	}
	opts := shown.opts
	if opts.Body != "Time for prayer" || opts.Icon != "./icon-192.png" || opts.Badge != "./icon-192.png" {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if opts.Data.PrimaryKey != 1 || opts.Data.URL != "./index.html" || opts.Data.DateOfArrival != 1700000000000 {
		t.Fatalf("unexpected data: %+v", opts.Data)
	}
	if opts.Tag != "prayer-notification" || !opts.Renotify || opts.RequireInteraction {
		t.Fatalf("unexpected flags: %+v", opts)
	}
	if len(opts.Vibrate) != 3 || opts.Vibrate[0] != 100 || opts.Vibrate[1] != 50 {
		t.Fatalf("unexpected vibrate pattern %v", opts.Vibrate)
	}
	if len(opts.Actions) != 2 || opts.Actions[0].Action != ActionViewTimes || opts.Actions[1].Action != ActionClose {
		t.Fatalf("unexpected actions %+v", opts.Actions)
	}
}

func TestDispatcherPushUsesPayload(t *testing.T) {
	notifier := &fakeNotifier{}
	d := newTestDispatcher(t, &fakeClients{}, notifier)
	payload := `{"body":"Maghrib in 5 minutes","primaryKey":"maghrib","url":"./index.html#maghrib"}`
	if err := d.Push(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("push error: %v", err)
	}
	opts := notifier.shown[0].opts
	if opts.Body != "Maghrib in 5 minutes" || opts.Data.PrimaryKey != "maghrib" || opts.Data.URL != "./index.html#maghrib" {
		t.Fatalf("payload fields not applied: %+v", opts)
	}
}

func TestDispatcherClickViewTimesFocusesAppWindow(t *testing.T) {
	clients := &fakeClients{windows: []ClientInfo{
		{ID: "w1", URL: testOrigin + "/settings", Type: ClientTypeWindow},
		{ID: "w2", URL: testOrigin + "/index.html", Type: ClientTypeWindow},
	}}
	notifier := &fakeNotifier{}
	d := newTestDispatcher(t, clients, notifier)

	if err := d.Click(context.Background(), Click{Action: ActionViewTimes, Tag: "prayer-notification"}); err != nil {
		t.Fatalf("click error: %v", err)
	}
	if len(notifier.closed) != 1 || notifier.closed[0] != "prayer-notification" {
		t.Fatalf("notification should be closed, got %v", notifier.closed)
	}
	if len(clients.focused) != 1 || clients.focused[0] != "w2" {
		t.Fatalf("expected w2 focused, got %v", clients.focused)
	}
	if len(clients.opened) != 0 {
		t.Fatalf("no window should be opened, got %v", clients.opened)
	}
}

func TestDispatcherClickViewTimesOpensWindow(t *testing.T) {
	clients := &fakeClients{windows: []ClientInfo{{ID: "w1", URL: testOrigin + "/settings", Type: ClientTypeWindow}}}
	d := newTestDispatcher(t, clients, &fakeNotifier{})

	click := Click{Action: ActionViewTimes, Data: NotificationData{URL: "./index.html#isha"}}
	if err := d.Click(context.Background(), click); err != nil {
		t.Fatalf("click error: %v", err)
	}
	if len(clients.opened) != 1 || clients.opened[0] != testOrigin+"/index.html#isha" {
		t.Fatalf("expected window opened at resolved url, got %v", clients.opened)
	}
}

func TestDispatcherDefaultClickFocusesFirstWindow(t *testing.T) {
	clients := &fakeClients{windows: []ClientInfo{
		{ID: "w1", URL: testOrigin + "/settings", Type: ClientTypeWindow},
		{ID: "w2", URL: testOrigin + "/index.html", Type: ClientTypeWindow},
	}}
	d := newTestDispatcher(t, clients, &fakeNotifier{})
	if err := d.Click(context.Background(), Click{}); err != nil {
		t.Fatalf("click error: %v", err)
	}
	if len(clients.focused) != 1 || clients.focused[0] != "w1" {
		t.Fatalf("expected first window focused, got %v", clients.focused)
	}
}

func TestDispatcherDefaultClickOpensWhenNoWindows(t *testing.T) {
	clients := &fakeClients{}
	d := newTestDispatcher(t, clients, &fakeNotifier{})
	if err := d.Click(context.Background(), Click{Action: ActionClose}); err != nil {
		t.Fatalf("click error: %v", err)
	}
	if len(clients.opened) != 1 || clients.opened[0] != testOrigin+"/index.html" {
		t.Fatalf("expected default url opened, got %v", clients.opened)
	}
}
