package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readEntries(t *testing.T, path string) []LogEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []LogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e LogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestNewAuditLogger_CreatesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "audit.jsonl")

	logger, err := NewAuditLogger(logPath, DefaultMaxLogSize)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("log file was not created: %v", err)
	}
}

func TestAuditLogger_LogLiftsKnownKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(logPath, DefaultMaxLogSize)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}

	err = logger.Log(string(EventTaskCreated), map[string]any{
		KeyAccountID:      "acc-1",
		KeyTaskID:         "task-1",
		KeyTaskType:       "AWS_AMI_INSTANCE_SYNC",
		KeyInfraMappingID: "infra-1",
		"identity":        "asgName=asg-1",
	})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	logger.Close()

	entries := readEntries(t, logPath)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.AccountID != "acc-1" || e.TaskID != "task-1" || e.TaskType != "AWS_AMI_INSTANCE_SYNC" || e.InfraMappingID != "infra-1" {
		t.Errorf("lifted fields: %+v", e)
	}
	if len(e.Details) != 1 || e.Details["identity"] != "asgName=asg-1" {
		t.Errorf("details: %v", e.Details)
	}
}

func TestAuditLogger_AttachRecordsBusEvents(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(logPath, DefaultMaxLogSize)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	bus := NewBus(10)
	detach := logger.Attach(bus, func(err error) { t.Errorf("audit write: %v", err) })

	bus.Publish(EventTaskCreated, map[string]any{KeyTaskID: "t1"})
	bus.Publish(EventTaskReset, map[string]any{KeyTaskID: "t1"})
	bus.Publish(EventTaskDeleted, map[string]any{KeyTaskID: "t1", KeyReason: "infra_mapping_deleted"})

	bus.Close()
	detach()
	logger.Close()

	entries := readEntries(t, logPath)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	types := map[string]bool{}
	for _, e := range entries {
		types[e.EventType] = true
	}
	for _, et := range []EventType{EventTaskCreated, EventTaskReset, EventTaskDeleted} {
		if !types[string(et)] {
			t.Errorf("missing %s entry", et)
		}
	}
}

func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(logPath, DefaultMaxLogSize)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if err := logger.Log("task_created", map[string]any{KeyTaskID: fmt.Sprintf("t-%d-%d", g, i)}); err != nil {
					t.Errorf("Log: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()
	logger.Close()

	if n := len(readEntries(t, logPath)); n != 200 {
		t.Errorf("expected 200 entries, got %d", n)
	}
}

func TestAuditLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")
	logger, err := NewAuditLogger(logPath, 1024)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	defer logger.Close()

	details := map[string]any{
		"description": "Application: [checkout], Service: [api], Environment: [prod], Infrastructure: [fleet]",
	}
	for i := 0; i < 30; i++ {
		if err := logger.Log("task_created", details); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	files, err := os.ReadDir(filepath.Join(dir, ArchiveDir))
	if err != nil || len(files) == 0 {
		t.Fatalf("expected archived logs, err=%v", err)
	}
	if logger.CurrentSize() > 1024 {
		t.Errorf("current size %d exceeds max", logger.CurrentSize())
	}
}

func TestVerifyLogIntegrity(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(logPath, DefaultMaxLogSize)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}

	logger.EnableChecksum(true)
	for i := 0; i < 5; i++ {
		if err := logger.Log("task_reset", map[string]any{"index": i, KeyTaskID: "t"}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	logger.EnableChecksum(false)
	for i := 5; i < 8; i++ {
		if err := logger.Log("task_reset", map[string]any{"index": i}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	logger.Close()

	total, valid, err := VerifyLogIntegrity(logPath)
	if err != nil {
		t.Fatalf("VerifyLogIntegrity: %v", err)
	}
	if total != 8 || valid != 8 {
		t.Errorf("total=%d valid=%d, want 8/8", total, valid)
	}

	// tamper with the first entry
	entries := readEntries(t, logPath)
	entries[0].TaskID = "forged"
	f, _ := os.Create(logPath)
	for _, e := range entries {
		line, _ := json.Marshal(e)
		f.Write(append(line, '\n'))
	}
	f.Close()

	total, valid, err = VerifyLogIntegrity(logPath)
	if err != nil {
		t.Fatalf("VerifyLogIntegrity: %v", err)
	}
	if total != 8 || valid != 7 {
		t.Errorf("after tamper total=%d valid=%d, want 8/7", total, valid)
	}
}

func TestAuditLogger_ReopenAppends(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")

	for round := 0; round < 2; round++ {
		logger, err := NewAuditLogger(logPath, DefaultMaxLogSize)
		if err != nil {
			t.Fatalf("NewAuditLogger: %v", err)
		}
		for i := 0; i < 3; i++ {
			logger.Log("task_created", map[string]any{"round": round})
		}
		logger.Close()
	}

	if n := len(readEntries(t, logPath)); n != 6 {
		t.Errorf("expected 6 entries across restarts, got %d", n)
	}
}

func TestAuditLogger_WriteAfterClose(t *testing.T) {
	logger, err := NewAuditLogger(filepath.Join(t.TempDir(), "audit.jsonl"), DefaultMaxLogSize)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	logger.Close()
	if err := logger.WriteEntry(&LogEntry{Timestamp: time.Now(), EventType: "x"}); err == nil {
		t.Error("expected error writing to closed logger")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
