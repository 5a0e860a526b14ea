package sensors

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/imu_bridge/internal/imu"
)

type countingListener struct {
	mu                 sync.Mutex
	accel, gyro, orien int
}

func (l *countingListener) OnAccelerometer(imu.Reading) { l.mu.Lock(); l.accel++; l.mu.Unlock() }
func (l *countingListener) OnGyroscope(imu.Reading)     { l.mu.Lock(); l.gyro++; l.mu.Unlock() }
func (l *countingListener) OnOrientation(imu.Reading)   { l.mu.Lock(); l.orien++; l.mu.Unlock() }

func (l *countingListener) counts() (int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accel, l.gyro, l.orien
}

func TestRunDeliversAllStreams(t *testing.T) {
	l := &countingListener{}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	iv := Intervals{Accelerometer: time.Millisecond, Gyroscope: 2 * time.Millisecond, Orientation: 3 * time.Millisecond}
	if err := Run(ctx, NewMockSource(), iv, l); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run returned %v, want DeadlineExceeded", err)
	}

	a, g, o := l.counts()
	if a == 0 || g == 0 || o == 0 {
		t.Errorf("counts accel=%d gyro=%d orientation=%d, want all > 0", a, g, o)
	}
}

type failingGyro struct{ Source }

func (failingGyro) Gyroscope() ([3]float64, error) { return [3]float64{}, errors.New("bus error") }

func TestFailingStreamDoesNotBlockOthers(t *testing.T) {
	l := &countingListener{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	iv := Intervals{Accelerometer: time.Millisecond, Gyroscope: time.Millisecond, Orientation: time.Millisecond}
	_ = Run(ctx, failingGyro{NewMockSource()}, iv, l)

	a, g, o := l.counts()
	if g != 0 {
		t.Errorf("failing gyroscope delivered %d readings", g)
	}
	if a == 0 || o == 0 {
		t.Errorf("healthy streams starved: accel=%d orientation=%d", a, o)
	}
}

func TestMockSourceAtStart(t *testing.T) {
	start := time.Unix(1000, 0)
	m := &mockSource{start: start, now: func() time.Time { return start }}

	o, _ := m.Orientation()
	if o != [3]float64{0, 15, 0} {
		t.Errorf("orientation at t=0 = %v, want [0 15 0]", o)
	}

	a, _ := m.Accelerometer()
	norm := math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
	if math.Abs(norm-imu.StandardGravity) > 1e-9 {
		t.Errorf("|accel| = %v, want g", norm)
	}
	if a[0] >= 0 {
		t.Errorf("positive pitch should tilt gravity onto -x, got %v", a)
	}
}

type fakeRaw struct {
	raw   imu.IMURaw
	err   error
	reads int
}

func (f *fakeRaw) ReadRaw() (imu.IMURaw, error) {
	f.reads++
	return f.raw, f.err
}

func TestRawSourceScalesAndTilts(t *testing.T) {
	// 1g on y at ±2g: rolled 90°.
	r := &fakeRaw{raw: imu.IMURaw{Ay: 16384, Gz: 131}}
	src := newRawSource(r, 0, 0)

	a, err := src.Accelerometer()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(a[1]-imu.StandardGravity) > 1e-9 {
		t.Errorf("accel y = %v, want g", a[1])
	}

	g, _ := src.Gyroscope()
	if math.Abs(g[2]-1) > 1e-9 {
		t.Errorf("gyro z = %v °/s, want 1", g[2])
	}

	o, _ := src.Orientation()
	if math.Abs(o[2]-90) > 1e-9 || o[0] != 0 {
		t.Errorf("orientation = %v, want azimuth 0 and roll 90", o)
	}

	r.err = errors.New("spi timeout")
	if _, err := src.Orientation(); err == nil {
		t.Error("read error not propagated")
	}
	if r.reads != 4 {
		t.Errorf("reads = %d, want 4", r.reads)
	}
}
