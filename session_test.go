package datalogger

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakePort plays back chunks of device output. Once they are used up it
// returns err, or calls onDrain and reports empty polls.
type fakePort struct {
	chunks  []string
	err     error
	onDrain func()
	closes  int
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.chunks) == 0 {
		if p.err != nil {
			return 0, p.err
		}
		if p.onDrain != nil {
			p.onDrain()
			p.onDrain = nil
		}
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	p.chunks[0] = p.chunks[0][n:]
	if p.chunks[0] == "" {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *fakePort) Close() error {
	p.closes++
	return nil
}

type recordingConsole struct {
	connecting []string
	connected  []string
	headers    []string
	statuses   []string
	progress   []int
	details    []string
	stopped    *Summary
	failures   []error
}

func (c *recordingConsole) Connecting(device string, baud int) {
	c.connecting = append(c.connecting, device)
}

func (c *recordingConsole) Connected(path string) { c.connected = append(c.connected, path) }

func (c *recordingConsole) HeaderWritten(header string) { c.headers = append(c.headers, header) }

func (c *recordingConsole) Status(text string) { c.statuses = append(c.statuses, text) }

func (c *recordingConsole) Progress(count int, latest string) {
	c.progress = append(c.progress, count)
	c.details = append(c.details, latest)
}

func (c *recordingConsole) Stopped(sum Summary) { c.stopped = &sum }

func (c *recordingConsole) Failure(err error) { c.failures = append(c.failures, err) }

type recordingPublisher struct {
	events []Event
}

func (p *recordingPublisher) Publish(ev Event) { p.events = append(p.events, ev) }

func (p *recordingPublisher) ofType(typ string) []Event {
	var out []Event
	for _, ev := range p.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type recordingRecorder struct {
	began    []SessionInfo
	progress []int
	ended    []Reason
	records  int
	beginErr error
}

func (r *recordingRecorder) Begin(info SessionInfo) error {
	r.began = append(r.began, info)
	return r.beginErr
}

func (r *recordingRecorder) Progress(records int) error {
	r.progress = append(r.progress, records)
	return nil
}

func (r *recordingRecorder) End(records int, reason Reason) error {
	r.records = records
	r.ended = append(r.ended, reason)
	return nil
}

type harness struct {
	session *Session
	console *recordingConsole
	port    *fakePort
	pub     *recordingPublisher
	path    string
	ctx     context.Context
}

func newHarness(t *testing.T, schema Schema, chunks ...string) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		console: &recordingConsole{},
		port:    &fakePort{chunks: chunks, onDrain: cancel},
		pub:     &recordingPublisher{},
		path:    filepath.Join(t.TempDir(), "capture.csv"),
		ctx:     ctx,
	}
	h.session = NewSession(SessionConfig{
		OutputPath:    h.path,
		Fsync:         true,
		ProgressEvery: 2,
		Classifier:    NewClassifier(schema),
	}, h.console)
	h.session.Open = func(device string, baud int, poll time.Duration) (io.ReadCloser, error) {
		if baud != DefaultBaud {
			t.Errorf("opened at %d baud, want %d", baud, DefaultBaud)
		}
		return h.port, nil
	}
	h.session.Publisher = h.pub
	h.session.now = func() time.Time { return testStamp }
	return h
}

func (h *harness) run(t *testing.T) (Summary, error) {
	t.Helper()
	return h.session.Run(h.ctx, "/dev/ttyUSB0")
}

func TestSessionHeaderSchema(t *testing.T) {
	h := newHarness(t, SchemaHeader,
		"ESP32 Dehumidifier booting\r\n",
		"Time(ms),H1,T1\r\n",
		"100,55.2,21.0\r\n",
		"mode=auto,fans=on\r\n",
	)
	reg := prometheus.NewRegistry()
	h.session.Metrics = NewMetrics(reg)

	sum, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "Timestamp,Time(ms),H1,T1\n2026-03-14 09:26:53.589,100,55.2,21.0\n"
	if got := readFile(t, h.path); got != want {
		t.Fatalf("file = %q, want %q", got, want)
	}

	if sum.Reason != ReasonInterrupted || !sum.PortClosed || sum.Records != 1 || sum.StatusLines != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if h.port.closes != 1 {
		t.Fatalf("port closed %d times", h.port.closes)
	}
	if len(h.console.statuses) != 2 || h.console.statuses[0] != "ESP32 Dehumidifier booting" || h.console.statuses[1] != "mode=auto,fans=on" {
		t.Fatalf("statuses = %q", h.console.statuses)
	}
	if len(h.console.headers) != 1 || h.console.headers[0] != "Timestamp,Time(ms),H1,T1" {
		t.Fatalf("headers = %q", h.console.headers)
	}
	if h.console.stopped == nil || h.console.stopped.Records != 1 {
		t.Fatalf("Stopped not reported: %+v", h.console.stopped)
	}
	if len(h.console.failures) != 0 {
		t.Fatalf("unexpected failures %v", h.console.failures)
	}
	if h.session.State() != StateClosed {
		t.Fatalf("state = %v", h.session.State())
	}

	if got := testutil.ToFloat64(h.session.Metrics.records); got != 1 {
		t.Fatalf("records metric = %v", got)
	}
	if got := testutil.ToFloat64(h.session.Metrics.lines.WithLabelValues("status")); got != 2 {
		t.Fatalf("status lines metric = %v", got)
	}

	records := h.pub.ofType(EventRecord)
	if len(records) != 1 || records[0].Text != "2026-03-14 09:26:53.589,100,55.2,21.0" || records[0].Records != 1 {
		t.Fatalf("record events = %+v", records)
	}
}

func TestSessionDataBeforeHeaderIsNotPersisted(t *testing.T) {
	h := newHarness(t, SchemaHeader,
		"100,55.2,21.0\n",
		"Time(ms),H1,T1\n",
		"200,55.3,21.1\n",
	)

	sum, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "Timestamp,Time(ms),H1,T1\n2026-03-14 09:26:53.589,200,55.3,21.1\n"
	if got := readFile(t, h.path); got != want {
		t.Fatalf("file = %q, want %q", got, want)
	}
	if sum.StatusLines != 1 || sum.Records != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestSessionDuplicateHeaderDiscarded(t *testing.T) {
	h := newHarness(t, SchemaHeader,
		"Time(ms),H1\n",
		"100,1\n",
		"Time(ms),H1\n",
		"\r\n",
		"200,2\n",
	)

	sum, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.Count(readFile(t, h.path), "Time(ms)"); got != 1 {
		t.Fatalf("header written %d times", got)
	}
	if sum.Records != 2 || sum.Discarded != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestSessionPrefixedSchema(t *testing.T) {
	h := newHarness(t, SchemaPrefixed,
		"Compressor warming up\n",
		"DATA,100,55.2,21.0,60.1,22.3,1,0,0,0,0,0,0\n",
		"DATA,200,55.0,20.9,60.0,22.2,1,1,0,0,0,0,0\n",
		"DATA,300,54.8,20.8,59.8,22.1,1,1,0,0,1,0,0\n",
	)
	rec := &recordingRecorder{}
	h.session.Recorder = rec

	sum, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(readFile(t, h.path), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines: %q", len(lines), lines)
	}
	if lines[0] != strings.Join(PrefixedColumns, ",") {
		t.Fatalf("header = %q", lines[0])
	}
	if lines[1] != "2026-03-14 09:26:53.589,100,55.2,21.0,60.1,22.3,1,0,0,0,0,0,0" {
		t.Fatalf("first row = %q", lines[1])
	}
	if sum.Records != 3 || sum.StatusLines != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	if len(h.console.progress) != 1 || h.console.progress[0] != 2 {
		t.Fatalf("progress = %v", h.console.progress)
	}
	if h.console.details[0] != "H1=55.0% T1=20.9°C H2=60.0% T2=22.2°C" {
		t.Fatalf("progress detail = %q", h.console.details[0])
	}

	if len(rec.began) != 1 || rec.began[0].Schema != SchemaPrefixed || rec.began[0].Device != "/dev/ttyUSB0" {
		t.Fatalf("Begin calls = %+v", rec.began)
	}
	if len(rec.progress) != 1 || rec.progress[0] != 2 {
		t.Fatalf("Progress calls = %v", rec.progress)
	}
	if len(rec.ended) != 1 || rec.ended[0] != ReasonInterrupted || rec.records != 3 {
		t.Fatalf("End calls = %v records=%d", rec.ended, rec.records)
	}
}

func TestSessionProgressEveryN(t *testing.T) {
	chunks := []string{"Time(ms),V\n"}
	for i := 0; i < 7; i++ {
		chunks = append(chunks, "1,2\n")
	}
	h := newHarness(t, SchemaHeader, chunks...)

	if _, err := h.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int{2, 4, 6}
	if len(h.console.progress) != len(want) {
		t.Fatalf("progress = %v, want %v", h.console.progress, want)
	}
	for i := range want {
		if h.console.progress[i] != want[i] {
			t.Fatalf("progress = %v, want %v", h.console.progress, want)
		}
	}
	if h.console.details[0] != "2026-03-14 09:26:53.589" {
		t.Fatalf("progress detail = %q", h.console.details[0])
	}
}

func TestSessionResumeKeepsHeader(t *testing.T) {
	h := newHarness(t, SchemaHeader, "Time(ms),H1\n", "300,3\n")
	os.WriteFile(h.path, []byte("Timestamp,Time(ms),H1\n2026-03-14 09:00:00.000,100,1\n2026-03-14 09:00"), 0o644)
	h.session.cfg.Resume = true

	sum, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "Timestamp,Time(ms),H1\n2026-03-14 09:00:00.000,100,1\n2026-03-14 09:26:53.589,300,3\n"
	if got := readFile(t, h.path); got != want {
		t.Fatalf("file = %q, want %q", got, want)
	}
	if sum.Discarded != 1 || len(h.console.headers) != 0 {
		t.Fatalf("header re-announced: summary %+v headers %q", sum, h.console.headers)
	}
}

func TestSessionConnectFailure(t *testing.T) {
	h := newHarness(t, SchemaHeader)
	busy := errors.New("device or resource busy")
	h.session.Open = func(string, int, time.Duration) (io.ReadCloser, error) { return nil, busy }

	sum, err := h.run(t)
	var cerr *ConnectError
	if !errors.As(err, &cerr) || !errors.Is(err, busy) {
		t.Fatalf("expected ConnectError wrapping the cause, got %v", err)
	}
	if Remediation(err) == "" {
		t.Fatal("connect failure carries no remediation")
	}
	if sum.Reason != ReasonConnectFailed || sum.PortClosed {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if len(h.console.failures) != 1 {
		t.Fatalf("failures = %v", h.console.failures)
	}
	if _, err := os.Stat(h.path); !os.IsNotExist(err) {
		t.Fatalf("output file should not exist: %v", err)
	}
	if h.session.State() != StateClosed {
		t.Fatalf("state = %v", h.session.State())
	}
}

func TestSessionIOFailure(t *testing.T) {
	h := newHarness(t, SchemaHeader, "Time(ms),H1\n", "100,1\n", "200,")
	unplugged := errors.New("port has been closed")
	h.port.err = unplugged

	sum, err := h.run(t)
	var ioerr *IOError
	if !errors.As(err, &ioerr) || !errors.Is(err, unplugged) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if sum.Reason != ReasonIOError || !sum.PortClosed || sum.Records != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if h.port.closes != 1 {
		t.Fatalf("port closed %d times", h.port.closes)
	}
	want := "Timestamp,Time(ms),H1\n2026-03-14 09:26:53.589,100,1\n"
	if got := readFile(t, h.path); got != want {
		t.Fatalf("file = %q, want %q", got, want)
	}
	if len(h.console.failures) != 1 || h.console.stopped == nil {
		t.Fatalf("failure not reported: %v %v", h.console.failures, h.console.stopped)
	}
}

func TestSessionInterruptedWhileSettling(t *testing.T) {
	h := newHarness(t, SchemaHeader, "Time(ms),H1\n")
	h.session.cfg.Settle = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := h.session.Run(ctx, "/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Reason != ReasonInterrupted || !sum.PortClosed || sum.Records != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if _, err := os.Stat(h.path); !os.IsNotExist(err) {
		t.Fatalf("output file should not exist: %v", err)
	}
}

func TestSessionOutputNotWritable(t *testing.T) {
	h := newHarness(t, SchemaHeader, "Time(ms),H1\n")
	h.session.cfg.OutputPath = t.TempDir()

	sum, err := h.run(t)
	if err == nil {
		t.Fatal("expected error opening a directory as the output file")
	}
	if sum.Reason != ReasonWriteError || !sum.PortClosed {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestSessionPublishesStateChanges(t *testing.T) {
	h := newHarness(t, SchemaHeader, "Time(ms),H1\n", "1,2\n")
	if _, err := h.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var states []string
	for _, ev := range h.pub.ofType(EventSession) {
		if len(states) == 0 || states[len(states)-1] != ev.State {
			states = append(states, ev.State)
		}
	}
	want := []string{"connecting", "header_pending", "streaming", "closing", "closed"}
	if strings.Join(states, " ") != strings.Join(want, " ") {
		t.Fatalf("states = %v, want %v", states, want)
	}
}

func TestSessionRepairsInvalidBytes(t *testing.T) {
	h := newHarness(t, SchemaHeader, "Time(ms),H1,T1\n", "100,55.2,\xff21.0\n")
	reg := prometheus.NewRegistry()
	h.session.Metrics = NewMetrics(reg)

	sum, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "Timestamp,Time(ms),H1,T1\n2026-03-14 09:26:53.589,100,55.2,21.0\n"
	if got := readFile(t, h.path); got != want {
		t.Fatalf("file = %q, want %q", got, want)
	}
	if sum.Records != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if got := testutil.ToFloat64(h.session.Metrics.decodeRepairs); got != 1 {
		t.Fatalf("decode repairs metric = %v", got)
	}
}

func TestSessionResumeRefusesOtherSchema(t *testing.T) {
	tests := []struct {
		name     string
		schema   Schema
		existing string
	}{
		{"header file under prefixed", SchemaPrefixed, "Timestamp,Time(ms),H1,T1\n2026-03-14 09:00:00.000,100,1,2\n"},
		{"prefixed file under header", SchemaHeader, "Timestamp,H1\n2026-03-14 09:00:00.000,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.schema, "DATA,100,1,2,3,4,0,0,0,0,0,0,0\n")
			os.WriteFile(h.path, []byte(tt.existing), 0o644)
			h.session.cfg.Resume = true

			sum, err := h.run(t)
			var mismatch *HeaderMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("expected HeaderMismatchError, got %v", err)
			}
			if Remediation(err) == "" {
				t.Fatal("mismatch carries no remediation")
			}
			if sum.Reason != ReasonWriteError || sum.Records != 0 || !sum.PortClosed {
				t.Fatalf("unexpected summary %+v", sum)
			}
			if got := readFile(t, h.path); got != tt.existing {
				t.Fatalf("existing file changed: %q", got)
			}
		})
	}
}

func TestSessionResumeMatchingPrefixedHeader(t *testing.T) {
	h := newHarness(t, SchemaPrefixed, "DATA,200,1,2,3,4,0,0,0,0,0,0,0\n")
	existing := strings.Join(PrefixedColumns, ",") + "\n2026-03-14 09:00:00.000,100,1,2,3,4,0,0,0,0,0,0,0\n"
	os.WriteFile(h.path, []byte(existing), 0o644)
	h.session.cfg.Resume = true

	if _, err := h.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := existing + "2026-03-14 09:26:53.589,200,1,2,3,4,0,0,0,0,0,0,0\n"
	if got := readFile(t, h.path); got != want {
		t.Fatalf("file = %q, want %q", got, want)
	}
}

func TestNewSessionDefaults(t *testing.T) {
	s := NewSession(SessionConfig{}, &recordingConsole{})
	if s.cfg.Idle != DefaultIdle {
		t.Fatalf("Idle = %v, want %v", s.cfg.Idle, DefaultIdle)
	}
	if s.cfg.Baud != DefaultBaud || s.cfg.ProgressEvery != DefaultProgressEvery {
		t.Fatalf("unexpected defaults %+v", s.cfg)
	}

	s = NewSession(SessionConfig{Idle: -time.Second}, &recordingConsole{})
	if s.cfg.Idle != DefaultIdle {
		t.Fatalf("negative Idle kept: %v", s.cfg.Idle)
	}
}
