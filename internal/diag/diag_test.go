package diag

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify_WrappedCodeSurvivesFurtherWrapping(t *testing.T) {
	base := Wrap(CodeNoMicrophone, errors.New("no capture device"))
	wrapped := fmt.Errorf("connect failed: %w", base)
	if got := Classify(wrapped); got != CodeNoMicrophone {
		t.Fatalf("expected NO_MICROPHONE, got %s", got)
	}
}

func TestClassify_UnclassifiedDefaultsToConnectionError(t *testing.T) {
	if got := Classify(errors.New("dial tcp: refused")); got != CodeConnectionError {
		t.Fatalf("expected CONNECTION_ERROR, got %s", got)
	}
}

func TestSecureEndpoint(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://example.supabase.co/functions/v1/agent", true},
		{"wss://api.elevenlabs.io/v1/convai?token=abc", true},
		{"http://localhost:8080/functions/v1/agent", true},
		{"ws://127.0.0.1:9000/stream", true},
		{"http://[::1]:3000/", true},
		{"http://example.com/functions/v1/agent", false},
		{"ws://example.com/stream", false},
		{"ftp://example.com/", false},
		{"://not-a-url", false},
	}
	for _, tc := range cases {
		if got := SecureEndpoint(tc.url); got != tc.want {
			t.Fatalf("SecureEndpoint(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestDetectBrowser(t *testing.T) {
	cases := []struct {
		ua   string
		want Browser
	}{
		{"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0", BrowserEdge},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", BrowserFirefox},
		{"Mozilla/5.0 (Macintosh) AppleWebKit/537.36 Chrome/120.0 Safari/537.36", BrowserChrome},
		{"Mozilla/5.0 (Macintosh) AppleWebKit/605.1.15 Version/17.1 Safari/605.1.15", BrowserSafari},
		{"curl/8.4.0", BrowserOther},
		{"", BrowserOther},
	}
	for _, tc := range cases {
		if got := DetectBrowser(tc.ua); got != tc.want {
			t.Fatalf("DetectBrowser(%q) = %s, want %s", tc.ua, got, tc.want)
		}
	}
}

func TestInstructions_EveryFamilyHasText(t *testing.T) {
	for _, b := range []Browser{BrowserChrome, BrowserFirefox, BrowserSafari, BrowserEdge, BrowserOther} {
		if Instructions(b) == "" {
			t.Fatalf("expected instructions for %s", b)
		}
	}
}

func TestTitleAndMessage_CoverTaxonomy(t *testing.T) {
	codes := []Code{
		CodeUnsupportedBrowser, CodeInsecureContext, CodePermissionDenied,
		CodeNoMicrophone, CodeMicrophoneBusy, CodeMicrophoneError, CodeConnectionError,
	}
	for _, c := range codes {
		if Title(c) == "" || Message(c) == "" {
			t.Fatalf("expected title and message for %s", c)
		}
	}
}
