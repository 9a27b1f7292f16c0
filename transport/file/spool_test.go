package file

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/otsense/otcollector/models"
)

func sampleEnvelope(host string) models.Envelope {
	info := models.SystemInfo{Type: models.TypeSystem, SysName: host}
	rec := models.NewRecord(models.SourceSNMP, "snmp", "t1", host, info)
	return models.NewEnvelope("snmp", models.SourceSNMP, []models.TelemetryRecord{rec})
}

func TestEmitWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.jsonl")
	s, err := NewSpool(Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	defer s.Close()

	for _, host := range []string{"h1", "h2"} {
		if err := s.Emit(sampleEnvelope(host)); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
		var env map[string]any
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			t.Fatalf("line %d not JSON: %v", lines, err)
		}
		if env["collector"] != "snmp" || env["count"] != float64(1) {
			t.Errorf("line %d envelope = %v", lines, env)
		}
	}
	if lines != 2 {
		t.Errorf("lines = %d, want 2", lines)
	}
}

func TestEmitToWriter(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSpool(Config{Writer: &buf}, nil)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	if err := s.Emit(sampleEnvelope("h1")); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if buf.Len() == 0 || buf.Bytes()[buf.Len()-1] != '\n' {
		t.Error("writer output must be newline-terminated")
	}
}

func TestRotationAndPrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.jsonl")
	s, err := NewSpool(Config{FilePath: path, MaxBytes: 1, MaxBackups: 2}, nil)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	defer s.Close()

	// Every emit exceeds MaxBytes, so each one after the first rotates.
	for i := 0; i < 5; i++ {
		if err := s.Emit(sampleEnvelope("h1")); err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("active file missing: %v", err)
	}
	for _, backup := range []string{path + ".1", path + ".2"} {
		if _, err := os.Stat(backup); err != nil {
			t.Errorf("backup %s missing: %v", backup, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("backup beyond MaxBackups must be pruned")
	}
}

func TestReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.jsonl")

	s, err := NewSpool(Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	if err := s.Emit(sampleEnvelope("h1")); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := NewSpool(Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if err := s2.Emit(sampleEnvelope("h2")); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := bytes.Count(data, []byte("\n")); got != 2 {
		t.Errorf("lines = %d, want 2 (append across reopen)", got)
	}
}
