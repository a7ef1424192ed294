package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/msageha/instsync/internal/catalog"
	"github.com/msageha/instsync/internal/lock"
	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/setup"
	"github.com/msageha/instsync/internal/uds"
	yamlutil "github.com/msageha/instsync/internal/yaml"
)

type Report struct {
	Daemon   DaemonStatus    `json:"daemon"`
	Intake   IntakeStatus    `json:"intake"`
	Mappings []MappingStatus `json:"mappings,omitempty"`
}

// DaemonStatus reports socket liveness. StalePid is the pid left in the
// daemon lock file by a daemon that no longer answers on the socket.
type DaemonStatus struct {
	Running  bool `json:"running"`
	Pid      int  `json:"pid,omitempty"`
	StalePid int  `json:"stale_pid,omitempty"`
}

type IntakeStatus struct {
	Pending     int `json:"pending"`
	Invalid     int `json:"invalid"`
	Processed   int `json:"processed"`
	Quarantined int `json:"quarantined"`
}

type MappingStatus struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	Kind      model.Kind `json:"kind"`
}

// Run collects the status of the data directory and prints it to w.
func Run(ctx context.Context, dataDir string, jsonOutput bool, w io.Writer) error {
	r := Collect(ctx, dataDir)

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	printReport(w, r)
	return nil
}

// Collect gathers the report without printing. Unreadable parts are logged
// and left empty.
func Collect(ctx context.Context, dataDir string) Report {
	r := Report{
		Daemon: checkDaemon(filepath.Join(dataDir, uds.DefaultSocketName)),
		Intake: intakeDepth(dataDir),
	}
	if !r.Daemon.Running {
		if pid, err := lock.ReadPID(filepath.Join(dataDir, setup.DaemonLockFile)); err == nil && pid > 0 {
			r.Daemon.StalePid = pid
		}
	}

	mappings, err := catalog.New(dataDir).ListInfraMappings(ctx)
	if err != nil {
		log.Printf("status: read infrastructure mappings: %v", err)
		return r
	}
	for _, m := range mappings {
		r.Mappings = append(r.Mappings, MappingStatus{ID: m.ID, AccountID: m.AccountID, Kind: m.Kind})
	}
	return r
}

func checkDaemon(sockPath string) DaemonStatus {
	var pong struct {
		Pid int `json:"pid"`
	}
	if err := uds.NewClient(sockPath).Call(uds.CommandPing, nil, &pong); err != nil {
		return DaemonStatus{Running: false}
	}
	return DaemonStatus{Running: true, Pid: pong.Pid}
}

func intakeDepth(dataDir string) IntakeStatus {
	var s IntakeStatus

	intakeDir := filepath.Join(dataDir, setup.DeploymentsDir)
	entries, err := os.ReadDir(intakeDir)
	if err != nil {
		return s
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if ext := filepath.Ext(name); ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(intakeDir, name))
		if err != nil {
			log.Printf("status: failed to read %s: %v", name, err)
			continue
		}
		if err := yamlutil.ValidateSchemaHeaderFromBytes(data, yamlutil.FileTypeDeploymentBatch); err != nil {
			log.Printf("status: invalid schema in %s: %v", name, err)
			s.Invalid++
			continue
		}
		s.Pending++
	}

	s.Processed = countFiles(filepath.Join(dataDir, setup.ProcessedDir))
	s.Quarantined = countFiles(filepath.Join(dataDir, setup.QuarantineDir))
	return s
}

func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

func printReport(w io.Writer, r Report) {
	if r.Daemon.Running {
		fmt.Fprintf(w, "Daemon: running (pid %d)\n", r.Daemon.Pid)
	} else if r.Daemon.StalePid > 0 {
		fmt.Fprintf(w, "Daemon: stopped (stale lock from pid %d)\n", r.Daemon.StalePid)
	} else {
		fmt.Fprintln(w, "Daemon: stopped")
	}

	fmt.Fprintln(w, "\nIntake:")
	fmt.Fprintf(w, "  %7s  %7s  %9s  %11s\n", "PENDING", "INVALID", "PROCESSED", "QUARANTINED")
	fmt.Fprintf(w, "  %7d  %7d  %9d  %11d\n", r.Intake.Pending, r.Intake.Invalid, r.Intake.Processed, r.Intake.Quarantined)

	if len(r.Mappings) == 0 {
		fmt.Fprintln(w, "\nMappings: none")
		return
	}
	fmt.Fprintln(w, "\nMappings:")
	for _, m := range r.Mappings {
		fmt.Fprintf(w, "  %-20s  account=%-12s  kind=%s\n", m.ID, m.AccountID, m.Kind)
	}
}
