// Package sensor reads raw tri-axial acceleration from the accelerometer and
// scales it to g. It is the lowest layer of the sampler domain (spec §4.2).
package sensor

import "sync"

// AccelScale converts the device's fixed-point register output to g. The
// value mirrors the MPU6050 ±2g full-scale range (16384 LSB/g), carried
// forward from the reference firmware this specification was distilled
// from.
const AccelScale = 1.0 / 16384.0

// Frame is one raw tri-axial reading, already scaled to g.
type Frame struct {
	AX, AY, AZ float64
}

// RawReader is the external collaborator: the actual bus transaction. A
// production implementation talks to I2C/SPI; tests inject a fake.
type RawReader interface {
	// ReadRaw returns fixed-point register counts for one frame.
	ReadRaw() (x, y, z int32, err error)
}

// Driver wraps a RawReader with the begin()/steady-state contract from
// spec §4.2 and §7: a failed Begin is fatal at startup, but a failed
// steady-state Read is transient — the last good frame is returned so the
// sampler's cadence is never starved.
type Driver struct {
	reader RawReader

	mu          sync.Mutex
	last        Frame
	hasLast     bool
	transientFails uint64
}

func New(reader RawReader) *Driver {
	return &Driver{reader: reader}
}

// Begin performs one read to confirm the device responds. Returns false on
// failure; callers must refuse to start detection in that case (spec §7).
func (d *Driver) Begin() bool {
	f, err := d.read()
	if err != nil {
		return false
	}
	d.mu.Lock()
	d.last = f
	d.hasLast = true
	d.mu.Unlock()
	return true
}

// Read returns the next frame plus whether this call fell back to the last
// known-good frame after a transient read failure (spec §7: "use last
// sample's components, magnitude 0"). Callers must force the magnitude they
// derive from this frame to zero when transient is true, rather than
// recomputing it from the reused components, so a stuck bus never looks
// like a sustained real reading to the detector.
func (d *Driver) Read() (f Frame, transient bool) {
	f, err := d.read()
	if err != nil {
		d.mu.Lock()
		d.transientFails++
		last := d.last
		hasLast := d.hasLast
		d.mu.Unlock()
		if hasLast {
			return last, true
		}
		return Frame{}, true
	}
	d.mu.Lock()
	d.last = f
	d.hasLast = true
	d.mu.Unlock()
	return f, false
}

// TransientFailures returns the number of reads that fell back to the last
// known-good frame.
func (d *Driver) TransientFailures() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transientFails
}

func (d *Driver) read() (Frame, error) {
	x, y, z, err := d.reader.ReadRaw()
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		AX: float64(x) * AccelScale,
		AY: float64(y) * AccelScale,
		AZ: float64(z) * AccelScale,
	}, nil
}
