package telemetry

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/relabs-tech/imu_bridge/internal/header"
	"github.com/relabs-tech/imu_bridge/internal/imu"
	"github.com/relabs-tech/imu_bridge/internal/metrics"
	"github.com/relabs-tech/imu_bridge/internal/orientation"
	"github.com/relabs-tech/imu_bridge/internal/publish"
)

// encode lays out words the way the bridge board sends them.
func encode(order binary.ByteOrder, words ...float32) []byte {
	rec := make([]byte, RecordSize)
	for i, w := range words {
		order.PutUint32(rec[i*4:], math.Float32bits(w))
	}
	return rec
}

// sampleRecord is identity orientation, linear (0.5, -1, 9.75),
// angular (10, -20, 30) °/s.
func sampleRecord(order binary.ByteOrder) []byte {
	return encode(order, 0, 0, 0, 1, 0.5, -1, 9.75, 10, -20, 30)
}

func checkSampleRecord(t *testing.T, s imu.Sample) {
	t.Helper()
	if s.Orientation != orientation.Identity {
		t.Errorf("orientation = %+v, want identity", s.Orientation)
	}
	if s.LinearAcceleration != (imu.Vector3{X: 0.5, Y: -1, Z: 9.75}) {
		t.Errorf("linear acceleration = %+v", s.LinearAcceleration)
	}
	rad := math.Pi / 180
	want := imu.Vector3{X: 10 * rad, Y: -20 * rad, Z: 30 * rad}
	got := s.AngularVelocity
	if math.Abs(got.X-want.X) > 1e-12 || math.Abs(got.Y-want.Y) > 1e-12 || math.Abs(got.Z-want.Z) > 1e-12 {
		t.Errorf("angular velocity = %+v, want %+v", got, want)
	}
}

func TestDecodeLittleEndian(t *testing.T) {
	s, err := Decode(sampleRecord(binary.LittleEndian), binary.LittleEndian)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	checkSampleRecord(t, s)
	if s.Header != (header.Header{}) {
		t.Errorf("decoded header should be empty, got %+v", s.Header)
	}
}

func TestDecodeBigEndian(t *testing.T) {
	s, err := Decode(sampleRecord(binary.BigEndian), binary.BigEndian)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	checkSampleRecord(t, s)
}

func TestDecodeIgnoresReservedWord(t *testing.T) {
	rec := sampleRecord(binary.LittleEndian)
	copy(rec[40:], []byte{0xff, 0xff, 0xff, 0xff}) // NaN bit pattern
	if _, err := Decode(rec, binary.LittleEndian); err != nil {
		t.Errorf("reserved word should be ignored, got %v", err)
	}
}

func TestDecodeTruncatedThenValid(t *testing.T) {
	if _, err := Decode(make([]byte, 10), binary.LittleEndian); !errors.Is(err, ErrDecode) {
		t.Fatalf("10-byte record error = %v, want ErrDecode", err)
	}
	s, err := Decode(sampleRecord(binary.LittleEndian), binary.LittleEndian)
	if err != nil {
		t.Fatalf("valid record after bad one failed: %v", err)
	}
	checkSampleRecord(t, s)
}

func TestDecodeRejectsBadValues(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	tests := []struct {
		name string
		rec  []byte
	}{
		{"too long", append(sampleRecord(binary.LittleEndian), 0)},
		{"nan quaternion", encode(binary.LittleEndian, nan, 0, 0, 1, 0, 0, 0, 0, 0, 0)},
		{"inf quaternion", encode(binary.LittleEndian, 0, inf, 0, 1, 0, 0, 0, 0, 0, 0)},
		{"inf acceleration", encode(binary.LittleEndian, 0, 0, 0, 1, 0, inf, 0, 0, 0, 0)},
		{"nan gyro", encode(binary.LittleEndian, 0, 0, 0, 1, 0, 0, 0, 0, 0, nan)},
		{"zero quaternion", encode(binary.LittleEndian, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.rec, binary.LittleEndian); !errors.Is(err, ErrDecode) {
				t.Errorf("error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestDecodeNormalizesOrientation(t *testing.T) {
	s, err := Decode(encode(binary.LittleEndian, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0), binary.LittleEndian)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if s.Orientation != orientation.Identity {
		t.Errorf("orientation = %+v, want identity", s.Orientation)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const tol = 1e-5
	for i := 0; i < 200; i++ {
		q, err := orientation.FromEuler(rng.Float64()*6-3, rng.Float64()*6-3, rng.Float64()*6-3)
		if err != nil {
			t.Fatal(err)
		}
		lin := imu.Vector3{X: rng.Float64()*40 - 20, Y: rng.Float64()*40 - 20, Z: rng.Float64()*40 - 20}
		ang := imu.Vector3{X: rng.Float64()*10 - 5, Y: rng.Float64()*10 - 5, Z: rng.Float64()*10 - 5}

		deg := 180 / math.Pi
		rec := encode(binary.LittleEndian,
			float32(q.X), float32(q.Y), float32(q.Z), float32(q.W),
			float32(lin.X), float32(lin.Y), float32(lin.Z),
			float32(ang.X*deg), float32(ang.Y*deg), float32(ang.Z*deg))

		s, err := Decode(rec, binary.LittleEndian)
		if err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		got := []float64{s.Orientation.W, s.Orientation.X, s.Orientation.Y, s.Orientation.Z,
			s.LinearAcceleration.X, s.LinearAcceleration.Y, s.LinearAcceleration.Z,
			s.AngularVelocity.X, s.AngularVelocity.Y, s.AngularVelocity.Z}
		want := []float64{q.W, q.X, q.Y, q.Z, lin.X, lin.Y, lin.Z, ang.X, ang.Y, ang.Z}
		for j := range want {
			if math.Abs(got[j]-want[j]) > tol*math.Max(1, math.Abs(want[j])) {
				t.Fatalf("sample %d field %d = %v, want %v", i, j, got[j], want[j])
			}
		}
	}
}

func TestParseByteOrderAndFraming(t *testing.T) {
	if o, err := ParseByteOrder(""); err != nil || o != binary.LittleEndian {
		t.Errorf("default byte order = %v, %v", o, err)
	}
	if o, err := ParseByteOrder("BIG"); err != nil || o != binary.BigEndian {
		t.Errorf("big byte order = %v, %v", o, err)
	}
	if _, err := ParseByteOrder("middle"); err == nil {
		t.Error("unknown byte order accepted")
	}
	if f, err := ParseFraming("crlf"); err != nil || f != FramingCRLF {
		t.Errorf("crlf framing = %v, %v", f, err)
	}
	if f, err := ParseFraming("report"); err != nil || f != FramingReport {
		t.Errorf("ParseFraming(report) = %v, %v", f, err)
	}
	if DefaultFraming(TransportHIDRaw) != FramingReport || DefaultFraming(TransportSerial) != FramingFixed {
		t.Error("DefaultFraming does not follow the transport")
	}
	if _, err := ParseFraming("slip"); err == nil {
		t.Error("unknown framing accepted")
	}
}

func TestFramerFixedSplitChunks(t *testing.T) {
	stream := bytes.Repeat(sampleRecord(binary.LittleEndian), 3)
	f := NewFramer(FramingFixed)

	var records [][]byte
	for off := 0; off < len(stream); off += 7 {
		end := min(off+7, len(stream))
		records = append(records, f.Push(stream[off:end])...)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for i, rec := range records {
		if !bytes.Equal(rec, sampleRecord(binary.LittleEndian)) {
			t.Errorf("record %d mismatch", i)
		}
	}
	if f.Buffered() != 0 {
		t.Errorf("buffered = %d, want 0", f.Buffered())
	}
}

func TestFramerKeepsRemainder(t *testing.T) {
	rec := sampleRecord(binary.LittleEndian)
	f := NewFramer(FramingFixed)

	out := f.Push(append(append([]byte{}, rec...), rec[:6]...))
	if len(out) != 1 || f.Buffered() != 6 {
		t.Fatalf("got %d records with %d buffered, want 1 and 6", len(out), f.Buffered())
	}
	out = f.Push(rec[6:])
	if len(out) != 1 || !bytes.Equal(out[0], rec) {
		t.Fatalf("remainder not completed: %d records", len(out))
	}
}

func TestFramerCRLF(t *testing.T) {
	rec := sampleRecord(binary.LittleEndian)
	// A payload may contain "\r\n" bytes itself.
	tricky := append([]byte{}, rec...)
	tricky[20], tricky[21] = '\r', '\n'

	var stream []byte
	stream = append(stream, "bad\r\n"...)
	stream = append(stream, rec...)
	stream = append(stream, "\r\n"...)
	stream = append(stream, tricky...)
	stream = append(stream, "\r\n"...)

	f := NewFramer(FramingCRLF)
	var out [][]byte
	for _, b := range stream {
		out = append(out, f.Push([]byte{b})...)
	}
	if len(out) != 3 {
		t.Fatalf("got %d segments, want 3", len(out))
	}
	if string(out[0]) != "bad" {
		t.Errorf("first segment = %q, want garbage", out[0])
	}
	if !bytes.Equal(out[1], rec) || !bytes.Equal(out[2], tricky) {
		t.Error("records not split on their terminators")
	}
	if f.Buffered() != 0 {
		t.Errorf("buffered = %d, want 0", f.Buffered())
	}
}

func TestFramerBounded(t *testing.T) {
	f := NewFramer(FramingCRLF)
	f.Push(bytes.Repeat([]byte{'x'}, MaxBuffered+904))
	if f.Buffered() != MaxBuffered {
		t.Errorf("buffered = %d, want %d", f.Buffered(), MaxBuffered)
	}
	if f.Dropped() != 904 {
		t.Errorf("dropped = %d, want 904", f.Dropped())
	}
}

type fakeTransport struct {
	mu       sync.Mutex
	payloads []any
}

func (f *fakeTransport) Publish(_ string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func TestNodeContinuesAfterBadRecord(t *testing.T) {
	tr := &fakeTransport{}
	sched := publish.NewScheduler(publish.SchedulerConfig{
		Topic:   "bno055/imu/data",
		FrameID: header.NewFrameID("imu"),
	}, tr)
	n := NewNode(NodeConfig{}, sched)
	before := testutil.ToFloat64(metrics.DecodeErrors)

	nan := float32(math.NaN())
	chunk := append(encode(binary.LittleEndian, nan, 0, 0, 1, 0, 0, 0, 0, 0, 0), sampleRecord(binary.LittleEndian)...)
	st, err := n.OnBytes(context.Background(), chunk)
	if err != nil {
		t.Fatalf("OnBytes failed: %v", err)
	}
	if st.Published != 1 || st.DecodeErrors != 1 {
		t.Errorf("stats = %+v, want 1 published and 1 decode error", st)
	}
	if got := testutil.ToFloat64(metrics.DecodeErrors); got != before+1 {
		t.Errorf("decode error metric = %v, want %v", got, before+1)
	}

	if len(tr.payloads) != 1 {
		t.Fatalf("transport got %d messages", len(tr.payloads))
	}
	s := tr.payloads[0].(*imu.Sample)
	if s.Header.Seq != 1 || s.Header.FrameID != "imu" {
		t.Errorf("header = %+v", s.Header)
	}
	checkSampleRecord(t, *s)
}

func TestNodeCRLFGarbageIsDecodeError(t *testing.T) {
	tr := &fakeTransport{}
	sched := publish.NewScheduler(publish.SchedulerConfig{Topic: "bno055/imu/data"}, tr)
	n := NewNode(NodeConfig{ByteOrder: binary.BigEndian, Framing: FramingCRLF}, sched)

	var chunk []byte
	chunk = append(chunk, "noise\r\n"...)
	chunk = append(chunk, sampleRecord(binary.BigEndian)...)
	chunk = append(chunk, "\r\n"...)
	chunk = append(chunk, sampleRecord(binary.BigEndian)[:12]...)

	st, err := n.OnBytes(context.Background(), chunk)
	if err != nil {
		t.Fatal(err)
	}
	if st.Published != 1 || st.DecodeErrors != 1 {
		t.Errorf("stats = %+v", st)
	}
	if n.Buffered() != 12 {
		t.Errorf("buffered = %d, want 12", n.Buffered())
	}
}

// hidReport is what one hidraw read returns: a record at offset 0, the
// "\r\n" terminator, then zero padding up to 64 bytes.
func hidReport(order binary.ByteOrder) []byte {
	report := make([]byte, 64)
	copy(report, sampleRecord(order))
	copy(report[RecordSize:], "\r\n")
	return report
}

func TestFramerReport(t *testing.T) {
	f := NewFramer(FramingReport)
	report := hidReport(binary.LittleEndian)

	for i := 0; i < 3; i++ {
		recs := f.Push(report)
		if len(recs) != 1 || !bytes.Equal(recs[0], sampleRecord(binary.LittleEndian)) {
			t.Fatalf("report %d: got %d records", i, len(recs))
		}
	}
	if recs := f.Push(report[:10]); len(recs) != 1 || len(recs[0]) != 10 {
		t.Errorf("short report should come back whole, got %v", recs)
	}
	if recs := f.Push(nil); recs != nil {
		t.Errorf("empty read produced %v", recs)
	}
	if f.Buffered() != 0 {
		t.Errorf("report framing buffered %d bytes", f.Buffered())
	}
}

func TestFramerReset(t *testing.T) {
	f := NewFramer(FramingFixed)
	f.Push(sampleRecord(binary.LittleEndian)[:20])
	if n := f.Reset(); n != 20 {
		t.Errorf("Reset discarded %d bytes, want 20", n)
	}
	recs := f.Push(sampleRecord(binary.LittleEndian))
	if len(recs) != 1 || !bytes.Equal(recs[0], sampleRecord(binary.LittleEndian)) {
		t.Errorf("record after reset = %v", recs)
	}
}

// step is one device event seen by a Node: a chunk, or a reconnect.
type step struct {
	chunk     []byte
	reconnect bool
}

func TestNodeDeviceShapes(t *testing.T) {
	le := binary.LittleEndian
	rec := sampleRecord(le)
	repeat := func(n int, b []byte) []step {
		var steps []step
		for i := 0; i < n; i++ {
			steps = append(steps, step{chunk: b})
		}
		return steps
	}
	withCRLF := append(append([]byte(nil), rec...), "\r\n"...)

	tests := []struct {
		name      string
		framing   Framing
		steps     []step
		published int
		decodeErr int
	}{
		{
			name:      "hid reports",
			framing:   FramingReport,
			steps:     repeat(10, hidReport(le)),
			published: 10,
		},
		{
			name:      "hid report too short",
			framing:   FramingReport,
			steps:     []step{{chunk: hidReport(le)}, {chunk: rec[:30]}, {chunk: hidReport(le)}},
			published: 2,
			decodeErr: 1,
		},
		{
			name:      "fixed reconnect mid-record",
			framing:   FramingFixed,
			steps:     append([]step{{chunk: rec[:20]}, {reconnect: true}}, repeat(5, rec)...),
			published: 5,
		},
		{
			name:      "crlf reconnect mid-record",
			framing:   FramingCRLF,
			steps:     append([]step{{chunk: withCRLF[:30]}, {reconnect: true}}, repeat(3, withCRLF)...),
			published: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{}
			sched := publish.NewScheduler(publish.SchedulerConfig{Topic: "bno055/imu/data"}, tr)
			n := NewNode(NodeConfig{ByteOrder: le, Framing: tt.framing}, sched)

			var total Stats
			for _, st := range tt.steps {
				if st.reconnect {
					n.Reset()
					continue
				}
				got, err := n.OnBytes(context.Background(), st.chunk)
				if err != nil {
					t.Fatal(err)
				}
				total.Published += got.Published
				total.DecodeErrors += got.DecodeErrors
			}

			if total.Published != tt.published || total.DecodeErrors != tt.decodeErr {
				t.Errorf("stats = %+v, want %d published, %d decode errors", total, tt.published, tt.decodeErr)
			}
			for i, p := range tr.payloads {
				s := p.(*imu.Sample)
				if s.Orientation != orientation.Identity || s.LinearAcceleration != (imu.Vector3{X: 0.5, Y: -1, Z: 9.75}) {
					t.Errorf("sample %d decoded from the wrong offset: %+v", i, *s)
				}
			}
			if n.Buffered() != 0 {
				t.Errorf("buffered = %d, want 0", n.Buffered())
			}
		})
	}
}

type fakePort struct {
	data   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakePort(chunks ...string) *fakePort {
	p := &fakePort{data: make(chan []byte, len(chunks)), closed: make(chan struct{})}
	for _, c := range chunks {
		p.data <- []byte(c)
	}
	return p
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case d, ok := <-p.data:
		if !ok {
			return 0, errors.New("device unplugged")
		}
		return copy(b, d), nil
	case <-p.closed:
		return 0, os.ErrClosed
	}
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func TestReaderReconnects(t *testing.T) {
	first := newFakePort("ab")
	close(first.data) // read error after the first chunk
	second := newFakePort("cd")

	var mu sync.Mutex
	calls := 0
	open := func() (io.ReadCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 1, 2:
			return nil, errors.New("no such device")
		case 3:
			return first, nil
		default:
			return second, nil
		}
	}

	var got bytes.Buffer
	sink := func(_ context.Context, chunk []byte) {
		mu.Lock()
		got.Write(chunk)
		mu.Unlock()
	}

	before := testutil.ToFloat64(metrics.DeviceReconnects)
	r := NewReader(ReaderConfig{RetryDelay: time.Millisecond, MaxRetryDelay: 4 * time.Millisecond}, open, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		s := got.String()
		mu.Unlock()
		if s == "abcd" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("received %q, want abcd", s)
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if !first.isClosed() || !second.isClosed() {
		t.Error("ports not closed")
	}
	if got := testutil.ToFloat64(metrics.DeviceReconnects); got != before+2 {
		t.Errorf("reconnect metric = %v, want %v", got, before+2)
	}
	if got := testutil.ToFloat64(metrics.DeviceConnected); got != 0 {
		t.Errorf("connected gauge = %v after stop", got)
	}
}

func TestReaderResetsNodeOnConnect(t *testing.T) {
	rec := sampleRecord(binary.LittleEndian)
	first := newFakePort(string(rec[:20]))
	close(first.data) // unplugged mid-record
	second := newFakePort(string(rec), string(rec))

	var mu sync.Mutex
	opens := 0
	open := func() (io.ReadCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if opens == 1 {
			return first, nil
		}
		return second, nil
	}

	tr := &fakeTransport{}
	sched := publish.NewScheduler(publish.SchedulerConfig{Topic: "bno055/imu/data"}, tr)
	n := NewNode(NodeConfig{Framing: FramingFixed}, sched)
	r := NewReader(ReaderConfig{RetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond}, open,
		func(ctx context.Context, chunk []byte) { n.OnBytes(ctx, chunk) })
	connects := 0
	r.OnConnect(func() {
		connects++
		n.Reset()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		tr.mu.Lock()
		got := len(tr.payloads)
		tr.mu.Unlock()
		if got == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("published %d samples, want 2", got)
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	if connects != 2 {
		t.Errorf("OnConnect ran %d times, want 2", connects)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, p := range tr.payloads {
		checkSampleRecord(t, *p.(*imu.Sample))
	}
}

func TestReaderStopsWhileDisconnected(t *testing.T) {
	open := func() (io.ReadCloser, error) { return nil, errors.New("unplugged") }
	r := NewReader(ReaderConfig{RetryDelay: time.Hour, MaxRetryDelay: time.Hour}, open, func(context.Context, []byte) {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run returned %v, want DeadlineExceeded", err)
	}
}

func TestBackoff(t *testing.T) {
	cfg := DefaultReaderConfig()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{6, 16 * time.Second},
		{7, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.attempt, cfg); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestFindHIDRaw(t *testing.T) {
	root := t.TempDir()
	write := func(node, id string) {
		dir := filepath.Join(root, node, "device")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		uevent := "DRIVER=hid-generic\nHID_ID=" + id + "\nHID_NAME=test\n"
		if err := os.WriteFile(filepath.Join(dir, "uevent"), []byte(uevent), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("hidraw0", "0003:0000046D:0000C52B")
	write("hidraw1", "0003:00000483:00005750")

	got, err := FindHIDRaw(root, BridgeVendorID, BridgeProductID)
	if err != nil {
		t.Fatalf("FindHIDRaw failed: %v", err)
	}
	if got != "/dev/hidraw1" {
		t.Errorf("FindHIDRaw = %q, want /dev/hidraw1", got)
	}

	if _, err := FindHIDRaw(root, 0x1234, 0x5678); err == nil || !strings.Contains(err.Error(), "1234:5678") {
		t.Errorf("missing device error = %v", err)
	}
}

func TestOpenPortUnknownTransport(t *testing.T) {
	if _, err := OpenPort(PortConfig{Transport: "bluetooth"}); err == nil {
		t.Error("unknown transport accepted")
	}
}
