package datalogger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHeaderPending
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHeaderPending:
		return "header_pending"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Reason says why a session ended.
type Reason string

const (
	ReasonInterrupted   Reason = "interrupted"
	ReasonConnectFailed Reason = "connect_failed"
	ReasonIOError       Reason = "io_error"
	ReasonWriteError    Reason = "write_error"
)

// Summary is what a finished session reports back.
type Summary struct {
	Device      string
	Path        string
	Records     int
	StatusLines int
	Discarded   int
	Reason      Reason
	PortClosed  bool
	Started     time.Time
	Ended       time.Time
}

type SessionConfig struct {
	Baud          int
	Settle        time.Duration
	PollTimeout   time.Duration
	Idle          time.Duration
	OutputPath    string
	Resume        bool
	Fsync         bool
	ProgressEvery int
	Classifier    Classifier
}

const (
	DefaultBaud          = 115200
	DefaultSettle        = 2 * time.Second
	DefaultIdle          = time.Millisecond
	DefaultProgressEvery = 50
)

// Session is one logging run: it owns the serial endpoint and the destination
// file from connect until both are released.
type Session struct {
	cfg SessionConfig

	Open      PortOpener
	Console   Console
	Publisher Publisher
	Metrics   *Metrics
	Recorder  SessionRecorder

	now func() time.Time

	state       State
	device      string
	endpoint    *Endpoint
	dest        *CSVWriter
	records     int
	statusLines int
	discarded   int
	latest      string
}

func NewSession(cfg SessionConfig, console Console) *Session {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.Idle <= 0 {
		cfg.Idle = DefaultIdle
	}
	if cfg.Classifier.Schema == "" {
		cfg.Classifier = NewClassifier(SchemaHeader)
	}
	return &Session{
		cfg:     cfg,
		Open:    OpenSerial,
		Console: console,
		now:     time.Now,
	}
}

func (s *Session) State() State { return s.state }

func (s *Session) Records() int { return s.records }

// Run connects to device and logs until ctx is cancelled or the port fails.
// An interrupt ends the session with a nil error.
func (s *Session) Run(ctx context.Context, device string) (sum Summary, err error) {
	s.device = device
	sum = Summary{Device: device, Path: s.cfg.OutputPath, Started: s.now()}

	s.setState(StateConnecting)
	s.Console.Connecting(device, s.cfg.Baud)
	port, err := s.Open(device, s.cfg.Baud, s.cfg.PollTimeout)
	if err != nil {
		s.setState(StateClosed)
		sum.Reason = ReasonConnectFailed
		sum.Ended = s.now()
		cerr := &ConnectError{Device: device, Err: err}
		s.Console.Failure(cerr)
		return sum, cerr
	}
	s.endpoint = &Endpoint{Device: device, port: port}
	log.Info().Str("device", device).Int("baud", s.cfg.Baud).Msg("serial port opened")

	defer func() {
		if rerr := s.release(&sum); rerr != nil && err == nil {
			err = rerr
		}
		if err != nil {
			s.Console.Failure(err)
		}
		s.Console.Stopped(sum)
	}()

	if !sleepCtx(ctx, s.cfg.Settle) {
		sum.Reason = ReasonInterrupted
		return sum, nil
	}

	s.dest, err = OpenCSV(s.cfg.OutputPath, s.cfg.Resume, s.cfg.Fsync)
	if err != nil {
		sum.Reason = ReasonWriteError
		return sum, err
	}
	if err := s.checkResumedHeader(); err != nil {
		sum.Reason = ReasonWriteError
		return sum, err
	}
	s.beginRecording()

	s.setState(StateHeaderPending)
	if s.dest.HeaderWritten() {
		s.setState(StateStreaming)
	}
	s.Console.Connected(s.dest.Path())

	reader := NewLineReader(s.endpoint)
	for {
		if ctx.Err() != nil {
			sum.Reason = ReasonInterrupted
			return sum, nil
		}

		raw, ok, rerr := reader.Next()
		if rerr != nil {
			sum.Reason = ReasonIOError
			return sum, &IOError{Device: device, Err: rerr}
		}
		if !ok {
			time.Sleep(s.cfg.Idle)
			continue
		}

		if err := s.handle(raw); err != nil {
			sum.Reason = ReasonWriteError
			return sum, err
		}
	}
}

func (s *Session) handle(raw []byte) error {
	text, repaired := DecodeLine(raw)
	if repaired {
		s.Metrics.ObserveDecodeRepair()
		log.Debug().Str("device", s.device).Int("bytes", len(raw)).Msg("dropped invalid bytes from line")
	}

	line := s.cfg.Classifier.Classify(text, s.dest.HeaderWritten())
	s.Metrics.ObserveLine(line.Kind)

	switch line.Kind {
	case KindHeader:
		return s.writeHeader(line.Text)
	case KindData:
		return s.writeRecord(line.Text)
	case KindStatus:
		s.statusLines++
		s.Console.Status(line.Text)
		s.publish(Event{Type: EventStatus, Text: line.Text})
	default:
		s.discarded++
		if line.Text != "" {
			log.Debug().Str("line", line.Text).Msg("discarded line")
		}
	}
	return nil
}

func (s *Session) writeHeader(deviceHeader string) error {
	row := "Timestamp," + deviceHeader
	if s.cfg.Classifier.Schema == SchemaPrefixed {
		row = strings.Join(PrefixedColumns, ",")
	}
	if err := s.dest.WriteHeader(row); err != nil {
		return err
	}
	s.setState(StateStreaming)
	s.Console.HeaderWritten(row)
	s.publish(Event{Type: EventHeader, Text: row})
	return nil
}

func (s *Session) writeRecord(payload string) error {
	if !s.dest.HeaderWritten() {
		if err := s.writeHeader(""); err != nil {
			return err
		}
	}

	ts := s.now()
	start := time.Now()
	if err := s.dest.WriteRecord(ts, payload); err != nil {
		return err
	}
	s.Metrics.ObserveRecord(time.Since(start).Seconds())

	s.records++
	s.latest = payload
	s.setState(StateStreaming)
	s.publish(Event{Type: EventRecord, Text: ts.Format(TimestampLayout) + "," + payload, Records: s.records})

	if s.records%s.cfg.ProgressEvery == 0 {
		s.Console.Progress(s.records, s.progressDetail(ts))
		if s.Recorder != nil {
			if err := s.Recorder.Progress(s.records); err != nil {
				log.Warn().Err(err).Msg("catalog progress update failed")
			}
		}
	}
	return nil
}

// checkResumedHeader refuses to continue a file whose header belongs to the
// other schema.
func (s *Session) checkResumedHeader() error {
	if !s.dest.HeaderWritten() {
		return nil
	}
	header := s.dest.Header()
	cl := s.cfg.Classifier
	var ok bool
	if cl.Schema == SchemaPrefixed {
		ok = header == strings.Join(PrefixedColumns, ",")
	} else {
		ok = strings.HasPrefix(header, "Timestamp,"+cl.HeaderSentinel)
	}
	if !ok {
		return &HeaderMismatchError{Path: s.dest.Path(), Header: header, Schema: cl.Schema}
	}
	return nil
}

// progressDetail is the latest timestamp for header-announced files and a
// snapshot of the humidity/temperature channels for prefixed ones.
func (s *Session) progressDetail(ts time.Time) string {
	stamp := ts.Format(TimestampLayout)
	if s.cfg.Classifier.Schema != SchemaPrefixed {
		return stamp
	}
	fields := strings.Split(s.latest, ",")
	if len(fields) < 5 {
		return stamp
	}
	return fmt.Sprintf("H1=%s%% T1=%s°C H2=%s%% T2=%s°C",
		strings.TrimSpace(fields[1]), strings.TrimSpace(fields[2]),
		strings.TrimSpace(fields[3]), strings.TrimSpace(fields[4]))
}

func (s *Session) beginRecording() {
	if s.Recorder == nil {
		return
	}
	info := SessionInfo{Device: s.device, Path: s.cfg.OutputPath, Schema: s.cfg.Classifier.Schema}
	if err := s.Recorder.Begin(info); err != nil {
		log.Warn().Err(err).Msg("catalog unavailable for this session")
		s.Recorder = nil
	}
}

// release runs on every exit path once the port has been opened.
func (s *Session) release(sum *Summary) error {
	s.setState(StateClosing)

	var errs []error
	if err := s.endpoint.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close serial port: %w", err))
	}
	if s.dest != nil {
		if err := s.dest.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output file: %w", err))
		}
	}
	if s.Recorder != nil {
		if err := s.Recorder.End(s.records, sum.Reason); err != nil {
			log.Warn().Err(err).Msg("catalog end update failed")
		}
	}

	sum.Records = s.records
	sum.StatusLines = s.statusLines
	sum.Discarded = s.discarded
	sum.PortClosed = s.endpoint.Closed()
	sum.Ended = s.now()

	s.setState(StateClosed)
	log.Info().Str("device", s.device).Int("records", s.records).Str("reason", string(sum.Reason)).Msg("session closed")
	return errors.Join(errs...)
}

func (s *Session) setState(st State) {
	s.state = st
	s.Metrics.SetState(st)
	s.publish(Event{Type: EventSession, State: st.String(), Device: s.device, Records: s.records, Path: s.cfg.OutputPath})
}

func (s *Session) publish(ev Event) {
	if s.Publisher == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = s.now()
	}
	s.Publisher.Publish(ev)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
