package cache

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"
)

func TestResponseCloneBeforeRead(t *testing.T) {
	resp := NewResponse(http.StatusOK, http.Header{"X-Test": []string{"1"}}, []byte("body"))
	dup, err := resp.Clone()
	if err != nil {
		t.Fatalf("clone error: %v", err)
	}
	dup.Header.Set("X-Test", "2")

	a, _ := io.ReadAll(resp.Body)
	b, _ := io.ReadAll(dup.Body)
	if string(a) != "body" || string(b) != "body" {
		t.Fatalf("both copies should deliver the body, got %q %q", a, b)
	}
	if resp.Header.Get("X-Test") != "1" {
		t.Fatalf("clone must not share headers")
	}
}

func TestResponseCloneAfterReadFails(t *testing.T) {
	resp := NewResponse(http.StatusOK, nil, []byte("body"))
	io.ReadAll(resp.Body)
	if !resp.BodyUsed() {
		t.Fatalf("body should be marked used")
	}
	if _, err := resp.Clone(); !errors.Is(err, ErrBodyUsed) {
		t.Fatalf("expected ErrBodyUsed, got %v", err)
	}
}

func TestRequestIsNavigation(t *testing.T) {
	cases := []struct {
		req  Request
		want bool
	}{
		{Request{Destination: "document"}, true},
		{Request{Mode: "navigate"}, true},
		{Request{Destination: "script", Mode: "no-cors"}, false},
		{Request{}, false},
	}
	for _, tc := range cases {
		if got := tc.req.IsNavigation(); got != tc.want {
			t.Fatalf("IsNavigation(%+v)=%v, want %v", tc.req, got, tc.want)
		}
	}
}

func TestNewKeyNormalizes(t *testing.T) {
	key, err := NewKey("get", "HTTPS://Salah.Example.com/index.html#top")
	if err != nil {
		t.Fatalf("key error: %v", err)
	}
	if key.Method != http.MethodGet || key.URL != "https://salah.example.com/index.html" {
		t.Fatalf("unexpected key: %+v", key)
	}
	if _, err := NewKey(http.MethodPost, "https://salah.example.com/"); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
	if _, err := NewKey(http.MethodGet, "/relative"); err == nil {
		t.Fatalf("relative url should be rejected")
	}
}

func TestResolveManifestAgainstScope(t *testing.T) {
	scope, _ := url.Parse("https://salah.example.com/app/")
	resolved, err := ResolveManifest(scope, []string{"./", "./index.html", "./icon-192.png"})
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	want := []string{
		"https://salah.example.com/app/",
		"https://salah.example.com/app/index.html",
		"https://salah.example.com/app/icon-192.png",
	}
	for i := range want {
		if resolved[i] != want[i] {
			t.Fatalf("entry %d: got %s want %s", i, resolved[i], want[i])
		}
	}
}

func TestResponseFromEntryIndependentReaders(t *testing.T) {
	entry := &Entry{Status: http.StatusOK, Body: []byte("x"), Header: http.Header{}}
	first := ResponseFromEntry(entry)
	second := ResponseFromEntry(entry)
	io.ReadAll(first.Body)
	if second.BodyUsed() {
		t.Fatalf("each lookup must yield an unread body")
	}
	b, _ := io.ReadAll(second.Body)
	if string(b) != "x" {
		t.Fatalf("unexpected body %q", b)
	}
}
