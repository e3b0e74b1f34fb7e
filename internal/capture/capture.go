// Package capture acquires exclusive microphone access and buffers raw PCM
// for the uplink encoder. Failures are surfaced as classified errors from the
// diag taxonomy so the session can report them without inspecting the device
// layer.
package capture

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/rkaruturi/PranicSoil-MVP/internal/diag"
)

const (
	// SampleRate is the capture rate in Hz. 48kHz mono matches the Opus
	// frame size used by the uplink encoder.
	SampleRate = 48000
	// Channels is the capture channel count.
	Channels = 1
)

// Device is a malgo-backed microphone source. At most one stream is open at a
// time; Open while open is a caller error and leaves the live stream intact.
type Device struct {
	mu     sync.Mutex
	actx   *malgo.AllocatedContext
	device *malgo.Device
	open   bool

	// bufMu guards only the PCM staging buffer. The data callback runs on
	// the audio thread and must never contend with Close holding mu while
	// it waits for that same thread to stop.
	bufMu sync.Mutex
	buf   []byte
}

// NewDevice constructs an unopened microphone device.
func NewDevice() *Device {
	return &Device{}
}

// Supported reports whether the host has a usable audio capture backend.
func (d *Device) Supported() bool {
	actx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return false
	}
	_ = actx.Uninit()
	return true
}

// Open acquires exclusive microphone access and starts capturing. On failure
// every partially-acquired resource is released and a classified error is
// returned.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return diag.Wrap(diag.CodeMicrophoneError, fmt.Errorf("capture stream already open"))
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	actx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return diag.Wrap(diag.CodeUnsupportedBrowser, fmt.Errorf("init audio context: %w", err))
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = Channels
	deviceConfig.SampleRate = SampleRate
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			d.bufMu.Lock()
			d.buf = append(d.buf, input...)
			// Cap the staging buffer at one second so a stalled consumer
			// cannot grow it without bound.
			if max := SampleRate * 2; len(d.buf) > max {
				d.buf = d.buf[len(d.buf)-max:]
			}
			d.bufMu.Unlock()
		},
	}

	device, err := malgo.InitDevice(actx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = actx.Uninit()
		return classifyDeviceError(fmt.Errorf("init capture device: %w", err))
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = actx.Uninit()
		return classifyDeviceError(fmt.Errorf("start capture device: %w", err))
	}

	d.actx = actx
	d.device = device
	d.bufMu.Lock()
	d.buf = d.buf[:0]
	d.bufMu.Unlock()
	d.open = true
	log.Printf("capture: microphone open at %dHz mono", SampleRate)
	return nil
}

// DrainPCM returns all buffered PCM (s16le mono) and clears the staging
// buffer. Returns nil when nothing was captured since the last drain.
func (d *Device) DrainPCM() []byte {
	d.bufMu.Lock()
	defer d.bufMu.Unlock()
	if len(d.buf) == 0 {
		return nil
	}
	out := make([]byte, len(d.buf))
	copy(out, d.buf)
	d.buf = d.buf[:0]
	return out
}

// IsOpen reports whether a capture stream is live.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Close stops capture and releases the device. Idempotent; safe to call when
// never opened.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return
	}
	if d.device != nil {
		_ = d.device.Stop()
		d.device.Uninit()
		d.device = nil
	}
	if d.actx != nil {
		_ = d.actx.Uninit()
		d.actx = nil
	}
	d.bufMu.Lock()
	d.buf = nil
	d.bufMu.Unlock()
	d.open = false
	log.Println("capture: microphone released")
}

// classifyDeviceError maps a device-acquisition failure onto the taxonomy by
// inspecting the backend's message. miniaudio reports denial, absence and
// contention as free-form text, so this is a substring match.
func classifyDeviceError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no device"), strings.Contains(msg, "device not found"), strings.Contains(msg, "does not exist"):
		return diag.Wrap(diag.CodeNoMicrophone, err)
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "permission"):
		return diag.Wrap(diag.CodePermissionDenied, err)
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"), strings.Contains(msg, "preempted"):
		return diag.Wrap(diag.CodeMicrophoneBusy, err)
	default:
		return diag.Wrap(diag.CodeMicrophoneError, err)
	}
}
