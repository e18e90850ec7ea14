// Package audio handles Pulse input discovery, selection, and PCM capture streams.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Selection is the resolved capture source plus an optional fallback warning.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

func newClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("earshot"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, classifyPulseError(fmt.Errorf("connect pulse server: %w", err))
	}
	return client, nil
}

// ListDevices returns Pulse input sources with default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, classifyPulseError(fmt.Errorf("read default source: %w", err))
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, classifyPulseError(fmt.Errorf("list sources: %w", err))
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// SelectDevice resolves the input/fallback preferences against live devices.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, input, fallback)
}

// selectDeviceFromList applies the selection policy to a fetched device list.
//
// A muted selection is reported as ErrPermissionDenied; a missing or
// unavailable one as ErrDeviceUnavailable.
func selectDeviceFromList(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, fmt.Errorf("%w: no audio input devices found", ErrDeviceUnavailable)
	}

	input = normalizeTerm(input)
	fallback = normalizeTerm(fallback)

	var defaultDevice, byInput, byFallback *Device
	for i := range devices {
		dev := &devices[i]
		if dev.Default {
			defaultDevice = dev
		}
		if byInput == nil && input != "" && deviceMatches(*dev, input) {
			byInput = dev
		}
		if byFallback == nil && fallback != "" && deviceMatches(*dev, fallback) {
			byFallback = dev
		}
	}

	primary := byInput
	switch {
	case input == "":
		if defaultDevice == nil {
			return Selection{}, fmt.Errorf("%w: default audio source is unavailable", ErrDeviceUnavailable)
		}
		primary = defaultDevice
	case byInput == nil:
		return Selection{}, fmt.Errorf("%w: audio.input %q did not match any device", ErrDeviceUnavailable, input)
	}

	if primary.Available && !primary.Muted {
		return Selection{Device: *primary}, nil
	}

	reason := "unavailable"
	if primary.Muted {
		reason = "muted"
	}

	chosen := defaultDevice
	if fallback != "" {
		if byFallback == nil {
			return Selection{}, fmt.Errorf("%w: primary input %q is %s and fallback %q not found", ErrDeviceUnavailable, primary.ID, reason, fallback)
		}
		chosen = byFallback
	} else if chosen == nil {
		return Selection{}, fmt.Errorf("%w: primary input %q is %s and no default source exists", ErrDeviceUnavailable, primary.ID, reason)
	}

	if !chosen.Available {
		return Selection{}, fmt.Errorf("%w: audio device %q is not available", ErrDeviceUnavailable, chosen.ID)
	}
	if chosen.Muted {
		return Selection{}, fmt.Errorf("%w: audio device %q is muted", ErrPermissionDenied, chosen.ID)
	}

	return Selection{
		Device:   *chosen,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, reason, chosen.ID),
		Fallback: primary.ID != chosen.ID,
	}, nil
}

func normalizeTerm(term string) string {
	term = strings.TrimSpace(strings.ToLower(term))
	if term == "default" {
		return ""
	}
	return term
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(device.ID), term) ||
		strings.Contains(strings.ToLower(device.Description), term)
}

func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps the active port's availability to a boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available != 1
	}
	return true
}

var (
	// ErrPermissionDenied reports that microphone access was refused.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable reports a missing or unusable input device.
	ErrDeviceUnavailable = errors.New("audio input unavailable")
)

// classifyPulseError tags access failures reported by the Pulse server.
func classifyPulseError(err error) error {
	if err == nil || errors.Is(err, ErrPermissionDenied) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return err
}
