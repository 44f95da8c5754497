package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/charlie0129/tankmon/pkg/utils/ptr"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	fs, err := NewFileStore(filepath.Join(t.TempDir(), "config"))
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	bs, err := NewBoltStore(filepath.Join(t.TempDir(), "tankmon.db"))
	if err != nil {
		t.Fatalf("NewBoltStore returned error: %v", err)
	}
	t.Cleanup(func() { _ = bs.Close() })

	return map[string]Store{
		"file":   fs,
		"bolt":   bs,
		"memory": NewMemoryStore(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			in := RawNetwork{
				Mode:    ptr.To(ModeSTA),
				STASSID: ptr.To("home"),
			}
			if err := s.Save(NetworkRecord, in); err != nil {
				t.Fatalf("Save returned error: %v", err)
			}

			var out RawNetwork
			if err := s.Load(NetworkRecord, &out); err != nil {
				t.Fatalf("Load returned error: %v", err)
			}
			if out.Mode == nil || *out.Mode != ModeSTA {
				t.Fatalf("expected mode STA, got %v", out.Mode)
			}
			if out.APSSID != nil {
				t.Fatalf("expected ap_ssid to stay absent, got %q", *out.APSSID)
			}

			got := out.Resolve()
			if got.APSSID != DefaultAPSSID || got.STASSID != "home" {
				t.Fatalf("unexpected resolved record: %+v", got)
			}
		})
	}
}

func TestStoreMissingRecord(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var out RawTank
			err := s.Load(TankRecord, &out)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if !IsMissing(err) {
				t.Fatalf("expected IsMissing to accept %v", err)
			}
		})
	}
}

func TestFileStoreMalformedAndEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(s.Path(TankRecord), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	var tank RawTank
	if err := s.Load(TankRecord, &tank); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}

	if err := os.WriteFile(s.Path(SystemRecord), []byte("  \n"), 0644); err != nil {
		t.Fatal(err)
	}
	var sys RawSystem
	if err := s.Load(SystemRecord, &sys); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty file, got %v", err)
	}
}

func TestFileStoreUsesDeviceFileNames(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(TankRecord, RawTank{TankDepth: ptr.To(120.0)}); err != nil {
		t.Fatal(err)
	}
	if filepath.Base(s.Path(TankRecord)) != "tank_params.json" {
		t.Fatalf("unexpected tank file name %s", s.Path(TankRecord))
	}
	if _, err := os.Stat(s.Path(TankRecord)); err != nil {
		t.Fatalf("expected tank file to exist: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path(TankRecord)))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no temp files to be left behind, got %d entries", len(entries))
	}
}

func TestBoltStoreMalformed(t *testing.T) {
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Save(PinsRecord, "just a string"); err != nil {
		t.Fatal(err)
	}
	var pins RawPins
	if err := s.Load(PinsRecord, &pins); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}
