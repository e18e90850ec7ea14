package recognizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/earshot/internal/audio"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultDialTimeout = 3 * time.Second
	defaultOpenTimeout = 3 * time.Second
)

var streamDesc = &grpc.StreamDesc{
	StreamName:    "StreamingRecognize",
	ServerStreams: true,
	ClientStreams: true,
}

// StreamOptions configures a StreamEngine.
type StreamOptions struct {
	Endpoint    string
	Config      Config
	Source      audio.Source
	DialTimeout time.Duration
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// StreamEngine runs one StreamingRecognize RPC per Start, feeding it PCM from
// its own microphone stream. The connection is shared across runs.
type StreamEngine struct {
	opts   StreamOptions
	logger *slog.Logger

	mu   sync.Mutex
	conn *grpc.ClientConn
	run  *streamRun
}

var _ Engine = (*StreamEngine)(nil)

// NewStreamEngine validates options and returns an engine. No connection is
// made until the first Start.
func NewStreamEngine(opts StreamOptions) (*StreamEngine, error) {
	opts.Endpoint = strings.TrimSpace(opts.Endpoint)
	if opts.Endpoint == "" {
		return nil, errors.New("recognizer endpoint is empty")
	}
	if opts.Source == nil {
		return nil, errors.New("recognizer audio source is nil")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	if strings.TrimSpace(opts.Config.Language) == "" {
		opts.Config.Language = "en-US"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StreamEngine{opts: opts, logger: logger}, nil
}

// Start launches one recognition run. Connection and stream failures are
// delivered through emit as an error followed by end.
func (e *StreamEngine) Start(ctx context.Context, emit func(Event)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != nil && !e.run.finished() {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &streamRun{
		engine: e,
		ctx:    runCtx,
		cancel: cancel,
		emitFn: emit,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.run = run
	go run.execute()
	return nil
}

// Stop closes the audio side so the server can flush its final results.
func (e *StreamEngine) Stop() error {
	if run := e.activeRun(); run != nil {
		run.requestStop()
	}
	return nil
}

// Abort cancels the current run; the engine reports aborted then end.
func (e *StreamEngine) Abort() error {
	if run := e.activeRun(); run != nil {
		run.cancel()
	}
	return nil
}

// Close aborts any active run and releases the gRPC connection.
func (e *StreamEngine) Close() error {
	run := e.activeRun()
	if run != nil {
		run.cancel()
		<-run.done
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}

func (e *StreamEngine) activeRun() *streamRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run
}

// connect dials lazily and waits for READY; a failed connection is discarded.
func (e *StreamEngine) connect(ctx context.Context) (*grpc.ClientConn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn, nil
	}

	conn, err := dialReady(ctx, e.opts.Endpoint, e.opts.DialTimeout)
	if err != nil {
		return nil, err
	}

	e.conn = conn
	return conn, nil
}

// streamRun is one Start..end lifecycle.
type streamRun struct {
	engine *StreamEngine
	ctx    context.Context
	cancel context.CancelFunc

	emitMu sync.Mutex
	emitFn func(Event)
	ended  atomic.Bool
	failed bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// finished reports whether end has been emitted; cleanup may still be running.
func (r *streamRun) finished() bool {
	return r.ended.Load()
}

func (r *streamRun) requestStop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *streamRun) stopRequested() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *streamRun) emit(ev Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.ended.Load() {
		return
	}
	if ev.Kind == EventError {
		// The first failure wins; cancellation it triggers is not reported again.
		if r.failed {
			return
		}
		r.failed = true
	}
	if ev.Kind == EventEnd {
		r.ended.Store(true)
	}
	if r.emitFn != nil {
		r.emitFn(ev)
	}
}

func (r *streamRun) fail(code string, err error) {
	r.engine.logger.Debug("recognizer run failed", "code", code, "error", err.Error())
	r.emit(Event{Kind: EventError, Code: code, Message: err.Error()})
}

func (r *streamRun) execute() {
	defer close(r.done)
	defer r.cancel()
	defer r.emit(Event{Kind: EventEnd})

	e := r.engine
	conn, err := e.connect(r.ctx)
	if err != nil {
		r.fail(codeForError(r.ctx, err, CodeNetwork), err)
		return
	}

	stream, err := callWithTimeout(r.ctx, e.opts.OpenTimeout, func() (grpc.ClientStream, error) {
		return conn.NewStream(r.ctx, streamDesc, streamingRecognizeMethod)
	})
	if err != nil {
		r.fail(codeForError(r.ctx, err, CodeNetwork), fmt.Errorf("open streaming recognizer: %w", err))
		return
	}

	cfgMsg, err := configMessage(e.opts.Config)
	if err != nil {
		r.fail(CodeLanguageUnsupported, fmt.Errorf("encode recognizer config: %w", err))
		return
	}
	if err := runWithTimeout(r.ctx, e.opts.OpenTimeout, func() error { return stream.SendMsg(cfgMsg) }); err != nil {
		r.fail(codeForError(r.ctx, err, CodeNetwork), fmt.Errorf("send streaming config: %w", err))
		return
	}

	if r.stopRequested() {
		_ = stream.CloseSend()
	} else {
		mic, err := e.opts.Source.Open(r.ctx)
		if err != nil {
			code := CodeAudioCapture
			if errors.Is(err, audio.ErrPermissionDenied) {
				code = CodeNotAllowed
			}
			r.fail(code, fmt.Errorf("open microphone: %w", err))
			return
		}
		r.emit(Event{Kind: EventAudioStart})
		go r.pump(stream, mic)
	}

	r.receive(stream)
}

// pump forwards microphone chunks until Stop, cancellation, or capture loss.
func (r *streamRun) pump(stream grpc.ClientStream, mic audio.Stream) {
	defer func() { _ = mic.Stop() }()

	chunks := mic.Chunks()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.stopCh:
			_ = mic.Stop()
			// Flush whatever the capture buffered before closing the send side.
			for chunk := range chunks {
				if err := r.send(stream, chunk); err != nil {
					return
				}
			}
			_ = stream.CloseSend()
			return
		case chunk, ok := <-chunks:
			if !ok {
				if r.stopRequested() {
					_ = stream.CloseSend()
					return
				}
				r.fail(CodeAudioCapture, errors.New("microphone stream closed unexpectedly"))
				r.cancel()
				return
			}
			if err := r.send(stream, chunk); err != nil {
				r.engine.logger.Debug("recognizer audio send failed", "error", err.Error())
				return
			}
		}
	}
}

func (r *streamRun) send(stream grpc.ClientStream, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	msg, err := audioMessage(chunk)
	if err != nil {
		return err
	}
	return stream.SendMsg(msg)
}

func (r *streamRun) receive(stream grpc.ClientStream) {
	for {
		msg := &structpb.Struct{}
		err := stream.RecvMsg(msg)
		if err == nil {
			for _, ev := range decodeResponse(msg) {
				r.emit(ev)
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}
		r.fail(codeForError(r.ctx, err, ""), err)
		return
	}
}

// codeForError maps transport failures onto engine error codes.
func codeForError(ctx context.Context, err error, fallback string) string {
	if errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled)) {
		return CodeAborted
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable:
			return CodeNetwork
		case codes.InvalidArgument:
			return CodeLanguageUnsupported
		case codes.PermissionDenied:
			return CodeNotAllowed
		case codes.Canceled:
			return CodeAborted
		case codes.DeadlineExceeded:
			return CodeNoSpeech
		case codes.OK:
		default:
			if fallback == "" {
				return strings.ToLower(st.Code().String())
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return "unknown"
}
