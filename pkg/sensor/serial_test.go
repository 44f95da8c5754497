package sensor

import (
	"errors"
	"testing"
	"time"
)

// fakePort answers reads from a list of chunks. Once they run out it
// behaves like a timed-out serial read and moves the fake clock forward.
type fakePort struct {
	chunks  [][]byte
	written []byte
	resets  int
	now     time.Time
}

func (f *fakePort) Read(p []byte) (int, error) {
	if len(f.chunks) == 0 {
		f.now = f.now.Add(50 * time.Millisecond)
		return 0, nil
	}
	n := copy(p, f.chunks[0])
	f.chunks[0] = f.chunks[0][n:]
	if len(f.chunks[0]) == 0 {
		f.chunks = f.chunks[1:]
	}
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.resets++
	return nil
}

func (f *fakePort) Close() error { return nil }

func frame(mm int) []byte {
	h, l := byte(mm>>8), byte(mm)
	return []byte{0xFF, h, l, byte(0xFF + int(h) + int(l))}
}

func newFakeSerial(chunks ...[]byte) (*Serial, *fakePort) {
	p := &fakePort{chunks: chunks, now: time.Unix(0, 0)}
	s := newSerial(p, 200*time.Millisecond)
	s.now = func() time.Time { return p.now }
	return s, p
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    int
		wantErr bool
	}{
		{name: "valid", in: frame(1234), want: 1234},
		{name: "zero", in: frame(0), want: 0},
		{name: "max", in: frame(0xFFFF), want: 0xFFFF},
		{name: "bad checksum", in: []byte{0xFF, 0x04, 0xD2, 0x00}, wantErr: true},
		{name: "bad header", in: []byte{0xFE, 0x04, 0xD2, 0xD5}, wantErr: true},
		{name: "short", in: []byte{0xFF, 0x04}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrame(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFrame returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseFrame = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSerialReadDistance(t *testing.T) {
	f := frame(1234)
	tests := []struct {
		name   string
		chunks [][]byte
		want   float64
	}{
		{name: "single read", chunks: [][]byte{f}, want: 123.4},
		{name: "split frame", chunks: [][]byte{f[:1], f[1:3], f[3:]}, want: 123.4},
		{name: "leading noise", chunks: [][]byte{{0x01, 0x02}, f}, want: 123.4},
		{name: "bad frame then good", chunks: [][]byte{{0xFF, 0x00, 0x10, 0x00}, frame(550)}, want: 55},
		{name: "header inside bad frame", chunks: [][]byte{{0xFF, 0x02, 0xFF}, frame(100)}, want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, p := newFakeSerial(tt.chunks...)
			got, err := s.ReadDistance()
			if err != nil {
				t.Fatalf("ReadDistance returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ReadDistance = %v, want %v", got, tt.want)
			}
			if p.resets != 1 || len(p.written) != 1 || p.written[0] != triggerByte {
				t.Fatalf("expected one flush and one trigger, got %d and % x", p.resets, p.written)
			}
		})
	}
}

func TestSerialReadTimeout(t *testing.T) {
	s, _ := newFakeSerial()
	if _, err := s.ReadDistance(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	s, _ = newFakeSerial([]byte{0xFF, 0x00, 0x10, 0x00})
	if _, err := s.ReadDistance(); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
}

func TestSim(t *testing.T) {
	s := NewSim(42)
	if d, err := s.ReadDistance(); err != nil || d != 42 {
		t.Fatalf("ReadDistance = %v, %v", d, err)
	}
	boom := errors.New("boom")
	s.Fail(boom)
	if _, err := s.ReadDistance(); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	s.Set(10)
	if d, _ := s.ReadDistance(); d != 10 {
		t.Fatalf("ReadDistance = %v, want 10", d)
	}
	if s.Reads() != 3 {
		t.Fatalf("Reads = %d, want 3", s.Reads())
	}
}
