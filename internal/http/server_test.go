package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	applog "livespese/internal/log"
	"livespese/internal/storage/memory"
)

type testEnv struct {
	srv    *Server
	ts     *httptest.Server
	client *http.Client
	store  *memory.Store
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	store := memory.New()
	opts := Options{
		Store:      store,
		Collection: "items",
		Logger:     applog.New(applog.Config{Output: io.Discard}),
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv, err := NewServer(":0", opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler)
	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	t.Cleanup(func() { _ = store.Close() })
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, ts: ts, client: client, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, form url.Values, htmx bool) (*http.Response, string) {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func (e *testEnv) snapshot(t *testing.T) apiSnapshot {
	t.Helper()
	resp, body := e.do(t, http.MethodGet, "/api/items", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/items status=%d", resp.StatusCode)
	}
	var snap apiSnapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		t.Fatalf("decode snapshot: %v (%s)", err, body)
	}
	return snap
}

// waitSnapshot polls the JSON endpoint until cond holds.
func (e *testEnv) waitSnapshot(t *testing.T, cond func(apiSnapshot) bool) apiSnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		snap := e.snapshot(t)
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last snapshot %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (e *testEnv) addItem(t *testing.T, name, price string) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/items", url.Values{"name": {name}, "price": {price}}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status=%d body=%s", resp.StatusCode, body)
	}
	if !strings.Contains(resp.Header.Get("HX-Trigger"), EventItemAdded) {
		t.Fatalf("add did not succeed: %s", body)
	}
}

func TestIndexAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index status=%d", resp.StatusCode)
	}
	if !strings.Contains(body, "<h1>Expenses</h1>") || !strings.Contains(body, "No expenses yet.") {
		t.Fatalf("index body missing heading or empty state:\n%s", body)
	}
	if strings.Contains(body, `class="total"`) {
		t.Error("total row rendered for an empty list")
	}
	if !strings.Contains(body, `type="number" name="price"`) || !strings.Contains(body, `min="0" step="0.01"`) {
		t.Error("price input is not a non-negative number field with a cent step")
	}
	var hasCookie bool
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie && c.HttpOnly {
			hasCookie = true
		}
	}
	if !hasCookie {
		t.Error("session cookie not set")
	}
	if resp.Header.Get("Content-Security-Policy") == "" || resp.Header.Get("Cache-Control") != "no-store" {
		t.Error("missing security or cache headers")
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, body := env.do(t, http.MethodGet, path, nil, false)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, resp.StatusCode, body)
		}
	}

	resp, body = env.do(t, http.MethodGet, "/metrics", nil, false)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "sessions_active 1") {
		t.Fatalf("metrics status=%d body=%s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodGet, "/static/app.css", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("static status=%d", resp.StatusCode)
	}
}

func TestReadyReportsBackendFailure(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Ping = func(context.Context) error { return errors.New("connection refused") }
	})
	resp, body := env.do(t, http.MethodGet, "/readyz", nil, false)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if !strings.Contains(body, "connection refused") {
		t.Errorf("body does not name the failure: %s", body)
	}
}

func TestAddItemValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.snapshot(t)

	tests := []struct {
		name, price, want string
	}{
		{"   ", "3", "Please enter an expense name."},
		{"Coffee", "  ", "Please enter an amount."},
		{"Coffee", "abc", "Please enter a valid amount."},
		{"Coffee", "-2", "Please enter a valid amount."},
	}
	for _, tt := range tests {
		resp, body := env.do(t, http.MethodPost, "/items", url.Values{"name": {tt.name}, "price": {tt.price}}, true)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d", resp.StatusCode)
		}
		if !strings.Contains(body, tt.want) {
			t.Errorf("name=%q price=%q: body missing %q:\n%s", tt.name, tt.price, tt.want, body)
		}
		if !strings.Contains(body, `hx-swap-oob="innerHTML"`) {
			t.Error("error banner not sent out of band")
		}
		if strings.Contains(resp.Header.Get("HX-Trigger"), EventItemAdded) {
			t.Error("failed add triggered item:added")
		}
	}

	if snap := env.snapshot(t); len(snap.Items) != 0 {
		t.Fatalf("invalid drafts reached the store: %+v", snap.Items)
	}
}

func TestAddItemUpdatesListAndResetsDraft(t *testing.T) {
	env := newTestEnv(t, nil)
	env.snapshot(t)

	resp, body := env.do(t, http.MethodPost, "/items", url.Values{"name": {"coffee break"}, "price": {"3.5"}}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if strings.Contains(body, `value="coffee break"`) {
		t.Error("draft not reset after a successful add")
	}
	if !strings.Contains(resp.Header.Get("HX-Trigger"), EventFormReset) {
		t.Errorf("HX-Trigger = %q", resp.Header.Get("HX-Trigger"))
	}

	snap := env.waitSnapshot(t, func(s apiSnapshot) bool { return len(s.Items) == 1 })
	if snap.Items[0].Name != "coffee break" || snap.Items[0].Price.String() != "3.5" || snap.Total != "3.50" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Items[0].CreatedAt == nil {
		t.Error("createdAt missing")
	}

	env.addItem(t, "B", "2")
	snap = env.waitSnapshot(t, func(s apiSnapshot) bool { return len(s.Items) == 2 })
	if snap.Items[0].Name != "B" {
		t.Errorf("newest item should come first, got %q", snap.Items[0].Name)
	}
	if snap.Total != "5.50" {
		t.Errorf("total = %q, want 5.50", snap.Total)
	}

	_, page := env.do(t, http.MethodGet, "/", nil, false)
	if !strings.Contains(page, "Coffee Break") {
		t.Error("names should be displayed capitalized")
	}
	if !strings.Contains(page, "5.50") || !strings.Contains(page, `class="total"`) {
		t.Error("total row missing")
	}
}

func TestDraftKeystrokesAndPlainFormPost(t *testing.T) {
	env := newTestEnv(t, nil)
	env.snapshot(t)

	resp, _ := env.do(t, http.MethodPost, "/draft", url.Values{"name": {"Tea"}, "price": {"1,2"}}, true)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("draft status=%d", resp.StatusCode)
	}
	_, page := env.do(t, http.MethodGet, "/", nil, false)
	if !strings.Contains(page, `value="Tea"`) || !strings.Contains(page, `value="1,2"`) {
		t.Fatal("draft not kept between requests")
	}

	// A plain post without fields submits the stored draft.
	resp, _ = env.do(t, http.MethodPost, "/items", url.Values{}, false)
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("plain post: status=%d location=%q", resp.StatusCode, resp.Header.Get("Location"))
	}
	snap := env.waitSnapshot(t, func(s apiSnapshot) bool { return len(s.Items) == 1 })
	if snap.Total != "1.20" {
		t.Errorf("total = %q", snap.Total)
	}
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.snapshot(t)
	env.addItem(t, "Lunch", "12")
	snap := env.waitSnapshot(t, func(s apiSnapshot) bool { return len(s.Items) == 1 })
	id := snap.Items[0].ID

	// Confirming without a request is refused.
	resp, _ := env.do(t, http.MethodPost, "/items/"+id+"/delete/confirm", url.Values{}, true)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("unrequested confirm status=%d", resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodPost, "/items/"+id+"/delete", url.Values{}, true)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "Delete &ldquo;Lunch&rdquo;") {
		t.Fatalf("request delete status=%d body=%s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/delete/cancel", url.Values{}, true)
	if resp.StatusCode != http.StatusOK || strings.Contains(body, "alertdialog") {
		t.Fatalf("cancel status=%d body=%s", resp.StatusCode, body)
	}
	if snap := env.snapshot(t); len(snap.Items) != 1 {
		t.Fatal("cancelled delete removed the item")
	}

	env.do(t, http.MethodPost, "/items/"+id+"/delete", url.Values{}, true)
	resp, _ = env.do(t, http.MethodPost, "/items/"+id+"/delete/confirm", url.Values{}, true)
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("HX-Trigger"), EventItemDeleted) {
		t.Fatalf("confirm status=%d trigger=%q", resp.StatusCode, resp.Header.Get("HX-Trigger"))
	}
	env.waitSnapshot(t, func(s apiSnapshot) bool { return len(s.Items) == 0 && s.Total == "0.00" })
}

func TestRequestDeleteUnknownItem(t *testing.T) {
	env := newTestEnv(t, nil)
	env.snapshot(t)
	resp, _ := env.do(t, http.MethodPost, "/items/missing/delete", url.Values{}, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.do(t, http.MethodGet, "/items", nil, false)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestRateLimitOnPosts(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.RateLimitPerMinute = 1 })

	resp, _ := env.do(t, http.MethodPost, "/draft", url.Values{"name": {"a"}}, true)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("first post status=%d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/draft", url.Values{"name": {"ab"}}, true)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second post status=%d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET limited: %d", resp.StatusCode)
	}
}

func TestEventStreamPushesChanges(t *testing.T) {
	env := newTestEnv(t, nil)
	env.snapshot(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/events", nil)
	stream := &http.Client{Jar: env.client.Jar}
	resp, err := stream.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	events := make(chan string, 64)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		var cur strings.Builder
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				if cur.Len() > 0 {
					events <- cur.String()
					cur.Reset()
				}
				continue
			}
			cur.WriteString(line)
			cur.WriteByte('\n')
		}
	}()

	waitFor := func(substr string) string {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					t.Fatalf("stream closed before %q", substr)
				}
				if strings.Contains(ev, substr) {
					return ev
				}
			case <-timeout:
				t.Fatalf("no event containing %q", substr)
			}
		}
	}

	waitFor("event: items\n")
	env.addItem(t, "espresso", "1.2")
	ev := waitFor("Espresso")
	if !strings.HasPrefix(ev, "event: items\n") || !strings.Contains(ev, "1.20") {
		t.Fatalf("unexpected items event:\n%s", ev)
	}

	snap := env.snapshot(t)
	env.do(t, http.MethodPost, "/items/"+snap.Items[0].ID+"/delete", url.Values{}, true)
	ev = waitFor("event: confirm\n")
	if !strings.Contains(ev, "alertdialog") {
		t.Fatalf("confirm event without dialog:\n%s", ev)
	}
}

func TestSessionEvictionStopsController(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.MaxSessions = 1 })

	first, c1 := env.srv.sessions.open(context.Background())
	_, _ = env.srv.sessions.open(context.Background())

	if _, ok := env.srv.sessions.lookup(first); ok {
		t.Fatal("oldest session should have been evicted")
	}
	if err := c1.Add(context.Background()); err == nil {
		t.Fatal("evicted controller still accepts intents")
	}
	if env.srv.sessions.size() != 1 {
		t.Errorf("sessions = %d", env.srv.sessions.size())
	}
}

func TestShutdownPurgesSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.snapshot(t)
	if env.srv.sessions.size() != 1 {
		t.Fatalf("sessions = %d", env.srv.sessions.size())
	}
	if err := env.srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if env.srv.sessions.size() != 0 {
		t.Errorf("sessions left after shutdown: %d", env.srv.sessions.size())
	}
	// Second call is a no-op.
	if err := env.srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestWriteEventSplitsLines(t *testing.T) {
	var b strings.Builder
	if err := writeEvent(&b, "items", []byte("<p>a</p>\r\n<p>b</p>")); err != nil {
		t.Fatal(err)
	}
	want := "event: items\ndata: <p>a</p>\ndata: <p>b</p>\n\n"
	if b.String() != want {
		t.Errorf("got %q, want %q", b.String(), want)
	}
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"coffee":         "Coffee",
		"coffee break":   "Coffee Break",
		"mcDonald lunch": "McDonald Lunch",
		"":               "",
	}
	for in, want := range tests {
		if got := displayName(in); got != want {
			t.Errorf("displayName(%q) = %q, want %q", in, got, want)
		}
	}
}
