// Package diag classifies device, permission, and connection failures into a
// closed taxonomy and provides the static remediation text shown to users.
package diag

import (
	"errors"
	"net/url"
	"strings"
)

// Code identifies one entry of the failure taxonomy attached to the error state.
type Code string

const (
	CodeUnsupportedBrowser Code = "UNSUPPORTED_BROWSER"
	CodeInsecureContext    Code = "INSECURE_CONTEXT"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeNoMicrophone       Code = "NO_MICROPHONE"
	CodeMicrophoneBusy     Code = "MICROPHONE_BUSY"
	CodeMicrophoneError    Code = "MICROPHONE_ERROR"
	CodeConnectionError    Code = "CONNECTION_ERROR"
)

// ClassifiedError carries a taxonomy code alongside the underlying cause.
type ClassifiedError struct {
	Code  Code
	Cause error
}

func (e *ClassifiedError) Error() string {
	if e.Cause == nil {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Cause.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Cause }

// Wrap attaches a taxonomy code to err. A nil err yields a bare classified error
// so callers can always surface the code.
func Wrap(code Code, err error) error {
	return &ClassifiedError{Code: code, Cause: err}
}

// Classify extracts the taxonomy code from err. Unclassified failures during
// connect are connection errors by policy.
func Classify(err error) Code {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeConnectionError
}

// SecureEndpoint reports whether rawURL points at a secure origin: https/wss,
// or plain http/ws to a local loopback host.
func SecureEndpoint(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return true
	case "http", "ws":
		host := u.Hostname()
		return host == "localhost" || host == "127.0.0.1" || host == "::1"
	}
	return false
}

// Browser is a recognized browser family, used only to pick remediation text.
type Browser string

const (
	BrowserChrome  Browser = "Chrome"
	BrowserFirefox Browser = "Firefox"
	BrowserSafari  Browser = "Safari"
	BrowserEdge    Browser = "Edge"
	BrowserOther   Browser = "Other"
)

// DetectBrowser classifies a user-agent string into a browser family.
// Edge is checked before Chrome because Edge user agents also contain "Chrome",
// and Chrome before Safari for the same reason.
func DetectBrowser(userAgent string) Browser {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge"):
		return BrowserEdge
	case strings.Contains(ua, "firefox"):
		return BrowserFirefox
	case strings.Contains(ua, "chrome") || strings.Contains(ua, "chromium"):
		return BrowserChrome
	case strings.Contains(ua, "safari"):
		return BrowserSafari
	default:
		return BrowserOther
	}
}

// Instructions returns the static, per-family help text for re-enabling
// microphone access. Pure lookup; never blocks a retry.
func Instructions(b Browser) string {
	switch b {
	case BrowserChrome:
		return "Click the lock icon in the address bar, set Microphone to Allow, then reload the page."
	case BrowserFirefox:
		return "Click the microphone icon in the address bar and remove the block, then reload the page."
	case BrowserSafari:
		return "Open Safari > Settings for This Website and set Microphone to Allow, then reload the page."
	case BrowserEdge:
		return "Click the lock icon in the address bar, set Microphone permissions to Allow, then reload the page."
	default:
		return "Open your browser's site settings and allow microphone access for this site, then reload the page."
	}
}

// Title returns the short, user-facing headline for a taxonomy entry.
func Title(c Code) string {
	switch c {
	case CodePermissionDenied:
		return "Microphone Access Denied"
	case CodeNoMicrophone:
		return "No Microphone Found"
	case CodeMicrophoneBusy:
		return "Microphone In Use"
	case CodeUnsupportedBrowser:
		return "Browser Not Supported"
	case CodeInsecureContext:
		return "Secure Connection Required"
	case CodeMicrophoneError:
		return "Microphone Error"
	default:
		return "Connection Error"
	}
}

// Message returns the user-facing explanation for a taxonomy entry.
func Message(c Code) string {
	switch c {
	case CodePermissionDenied:
		return "Microphone access was denied. Please click \"Allow\" when your browser asks for permission, or enable it in your browser settings."
	case CodeNoMicrophone:
		return "No microphone found. Please connect a microphone and try again."
	case CodeMicrophoneBusy:
		return "Your microphone is being used by another application. Please close other applications and try again."
	case CodeUnsupportedBrowser:
		return "Your browser does not support microphone access. Please use Chrome, Firefox, Safari, or Edge."
	case CodeInsecureContext:
		return "Microphone access requires HTTPS or localhost."
	case CodeMicrophoneError:
		return "Failed to access microphone."
	default:
		return "Connection error occurred."
	}
}
