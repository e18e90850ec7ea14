package audio

import (
	"context"
	"log/slog"
)

// PulseSource opens capture streams on the device resolved from Input/Fallback.
//
// Selection is re-run on every Open so a device plugged in mid-session is picked up
// by the next engine restart.
type PulseSource struct {
	Input     string
	Fallback  string
	MediaName string
	Logger    *slog.Logger

	selectDevice func(ctx context.Context, input, fallback string) (Selection, error)
	start        func(ctx context.Context, device Device, mediaName string) (Stream, error)
}

var _ Source = (*PulseSource)(nil)

// Open selects a device and starts a record stream on it.
func (s *PulseSource) Open(ctx context.Context) (Stream, error) {
	selection, err := s.selectFn()(ctx, s.Input, s.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" && s.Logger != nil {
		s.Logger.Warn(selection.Warning, "device", selection.Device.ID)
	}
	mediaName := s.MediaName
	if mediaName == "" {
		mediaName = "earshot capture"
	}
	return s.startFn()(ctx, selection.Device, mediaName)
}

// Probe opens a stream and closes it immediately.
func (s *PulseSource) Probe(ctx context.Context) error {
	stream, err := s.Open(ctx)
	if err != nil {
		return err
	}
	return stream.Stop()
}

func (s *PulseSource) selectFn() func(context.Context, string, string) (Selection, error) {
	if s.selectDevice != nil {
		return s.selectDevice
	}
	return SelectDevice
}

func (s *PulseSource) startFn() func(context.Context, Device, string) (Stream, error) {
	if s.start != nil {
		return s.start
	}
	return func(ctx context.Context, device Device, mediaName string) (Stream, error) {
		capture, err := StartCapture(ctx, device, mediaName)
		if err != nil {
			return nil, err
		}
		if s.Logger == nil {
			return capture, nil
		}
		s.Logger.Debug("capture stream opened", "device", capture.Device().ID, "media", mediaName)
		return loggedCapture{Capture: capture, logger: s.Logger}, nil
	}
}

// loggedCapture reports how much audio a stream delivered when it stops.
type loggedCapture struct {
	*Capture
	logger *slog.Logger
}

func (l loggedCapture) Stop() error {
	err := l.Capture.Stop()
	l.logger.Debug("capture stream stopped", "device", l.Device().ID, "bytes", l.BytesCaptured())
	return err
}
