package sensor

import (
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	frameHeader = 0xFF
	frameLen    = 4
	// Any byte written to the RX line of a controlled-mode sensor triggers
	// a single measurement.
	triggerByte = 0x55
)

// port is the part of serial.Port the sensor uses.
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

var _ Sensor = &Serial{}

// Serial reads a UART ultrasonic ranger (A02YYUW, JSN-SR04T mode 3 and
// similar). Each reading is a 4-byte frame:
//
//	0xFF | distance high | distance low | checksum
//
// with the distance in millimetres and the checksum the low byte of the
// sum of the first three bytes.
type Serial struct {
	port    port
	timeout time.Duration
	now     func() time.Time
}

// OpenSerial opens the sensor on name. timeout bounds a single reading.
func OpenSerial(name string, baud int, timeout time.Duration) (*Serial, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open sensor port %s", name)
	}

	// Short per-read timeout so ReadDistance can enforce its own deadline.
	readTimeout := timeout / 4
	if readTimeout < 10*time.Millisecond {
		readTimeout = 10 * time.Millisecond
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, pkgerrors.Wrap(err, "failed to set sensor read timeout")
	}

	logrus.WithFields(logrus.Fields{
		"port":    name,
		"baud":    baud,
		"timeout": timeout,
	}).Info("sensor opened")

	return newSerial(p, timeout), nil
}

func newSerial(p port, timeout time.Duration) *Serial {
	return &Serial{
		port:    p,
		timeout: timeout,
		now:     time.Now,
	}
}

func (s *Serial) ReadDistance() (float64, error) {
	if err := s.port.ResetInputBuffer(); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to flush sensor input")
	}
	if _, err := s.port.Write([]byte{triggerByte}); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to trigger sensor")
	}

	var (
		frame    []byte
		buf      = make([]byte, 16)
		deadline = s.now().Add(s.timeout)
		lastErr  error
	)
	for s.now().Before(deadline) {
		n, err := s.port.Read(buf)
		if err != nil {
			return 0, pkgerrors.Wrap(err, "failed to read sensor")
		}
		for _, b := range buf[:n] {
			frame = append(frame, b)
			if frame[0] != frameHeader {
				frame = frame[:0]
				continue
			}
			if len(frame) < frameLen {
				continue
			}
			mm, err := ParseFrame(frame)
			if err == nil {
				return float64(mm) / 10, nil
			}
			lastErr = err
			frame = resync(frame)
		}
	}

	if lastErr != nil {
		return 0, lastErr
	}
	return 0, ErrTimeout
}

func (s *Serial) Close() error {
	return s.port.Close()
}

// ParseFrame decodes a 4-byte frame into millimetres.
func ParseFrame(frame []byte) (int, error) {
	if len(frame) != frameLen || frame[0] != frameHeader {
		return 0, pkgerrors.Errorf("malformed sensor frame % x", frame)
	}
	sum := byte(int(frame[0]) + int(frame[1]) + int(frame[2]))
	if sum != frame[3] {
		return 0, pkgerrors.Wrapf(ErrChecksum, "frame % x", frame)
	}
	return int(frame[1])<<8 | int(frame[2]), nil
}

// resync drops the header of a bad frame and keeps any later header so a
// misaligned stream recovers.
func resync(frame []byte) []byte {
	for i := 1; i < len(frame); i++ {
		if frame[i] == frameHeader {
			return append(frame[:0], frame[i:]...)
		}
	}
	return frame[:0]
}
