package events

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxLogSize = 100 * 1024 * 1024
	LogFileExtension  = ".jsonl"
	ArchiveDir        = "archive"
)

// LogEntry is one line of the audit log.
type LogEntry struct {
	Timestamp      time.Time      `json:"timestamp"`
	EventType      string         `json:"event_type"`
	AccountID      string         `json:"account_id,omitempty"`
	TaskID         string         `json:"task_id,omitempty"`
	TaskType       string         `json:"task_type,omitempty"`
	InfraMappingID string         `json:"infra_mapping_id,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	Checksum       string         `json:"checksum,omitempty"`
}

// AuditLogger appends JSONL entries and rotates the file into ArchiveDir
// once it would exceed maxSize.
type AuditLogger struct {
	mu              sync.Mutex
	file            *os.File
	currentSize     int64
	maxSize         int64
	logPath         string
	enableChecksum  bool
	rotationCounter int
}

func NewAuditLogger(logPath string, maxSize int64) (*AuditLogger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	l := &AuditLogger{logPath: logPath, maxSize: maxSize}
	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) openLogFile() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	l.file = file
	l.currentSize = stat.Size()
	return nil
}

// Log records an event, lifting the well-known keys out of details.
func (l *AuditLogger) Log(eventType string, details map[string]any) error {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
	}
	rest := make(map[string]any, len(details))
	for k, v := range details {
		s, isString := v.(string)
		switch {
		case k == KeyAccountID && isString:
			entry.AccountID = s
		case k == KeyTaskID && isString:
			entry.TaskID = s
		case k == KeyTaskType && isString:
			entry.TaskType = s
		case k == KeyInfraMappingID && isString:
			entry.InfraMappingID = s
		default:
			rest[k] = v
		}
	}
	if len(rest) > 0 {
		entry.Details = rest
	}
	return l.WriteEntry(&entry)
}

// Attach subscribes the logger to every task event on bus. errFn, if not
// nil, receives write failures.
func (l *AuditLogger) Attach(bus *Bus, errFn func(error)) func() {
	unsubs := make([]func(), 0, len(TaskEventTypes))
	for _, et := range TaskEventTypes {
		unsubs = append(unsubs, bus.Subscribe(et, func(e Event) {
			if err := l.Log(string(e.Type), e.Data); err != nil && errFn != nil {
				errFn(err)
			}
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (l *AuditLogger) WriteEntry(entry *LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log %s is closed", l.logPath)
	}
	if l.enableChecksum {
		sum, err := checksum(entry)
		if err != nil {
			return err
		}
		entry.Checksum = sum
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	data = append(data, '\n')

	if l.currentSize > 0 && l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write log entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log file: %w", err)
	}
	l.currentSize += int64(n)
	return nil
}

func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close current log file: %w", err)
	}
	l.file = nil

	archiveDir := filepath.Join(filepath.Dir(l.logPath), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	l.rotationCounter++
	base := strings.TrimSuffix(filepath.Base(l.logPath), LogFileExtension)
	archiveName := fmt.Sprintf("%s.%s.%d%s", base, time.Now().Format("20060102_150405"), l.rotationCounter, LogFileExtension)
	if err := os.Rename(l.logPath, filepath.Join(archiveDir, archiveName)); err != nil {
		return fmt.Errorf("archive log file: %w", err)
	}
	return l.openLogFile()
}

func checksum(entry *LogEntry) (string, error) {
	cp := *entry
	cp.Checksum = ""
	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

func (l *AuditLogger) EnableChecksum(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enableChecksum = enable
}

// VerifyLogIntegrity returns the number of entries in logPath and how many
// of them are intact. Entries without a checksum count as intact; malformed
// lines count as neither.
func VerifyLogIntegrity(logPath string) (total, valid int, err error) {
	file, err := os.Open(logPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			continue
		}
		total++
		if entry.Checksum == "" {
			valid++
			continue
		}
		want := entry.Checksum
		if got, err := checksum(&entry); err == nil && got == want {
			valid++
		}
	}
	return total, valid, sc.Err()
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	defer func() { l.file = nil }()
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

func (l *AuditLogger) Path() string {
	return l.logPath
}

func (l *AuditLogger) CurrentSize() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentSize
}
