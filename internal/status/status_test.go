package status

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/msageha/instsync/internal/catalog"
	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/setup"
)

func newDataDir(t *testing.T) string {
	t.Helper()
	project := t.TempDir()
	if err := setup.Run(project, "status-test"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return filepath.Join(project, setup.DataDirName)
}

func TestIntakeDepth_EmptyDirs(t *testing.T) {
	got := intakeDepth(newDataDir(t))
	if got != (IntakeStatus{}) {
		t.Errorf("expected zero intake status, got %+v", got)
	}
}

func TestIntakeDepth_CountsFiles(t *testing.T) {
	dataDir := newDataDir(t)
	intake := filepath.Join(dataDir, setup.DeploymentsDir)

	batch := "schema_version: 1\nfile_type: \"deployment_batch\"\ninfra_mapping_id: \"m1\"\nsummaries: []\n"
	os.WriteFile(filepath.Join(intake, "b1.yaml"), []byte(batch), 0644)
	os.WriteFile(filepath.Join(intake, "b2.yml"), []byte(batch), 0644)
	// Wrong file type
	os.WriteFile(filepath.Join(intake, "bad.yaml"), []byte("schema_version: 1\nfile_type: \"services\"\n"), 0644)
	// Ignored: in-progress atomic write and non-yaml
	os.WriteFile(filepath.Join(intake, ".b3.yaml.tmp"), []byte(batch), 0644)
	os.WriteFile(filepath.Join(intake, "notes.txt"), []byte("x"), 0644)

	os.WriteFile(filepath.Join(dataDir, setup.ProcessedDir, "old.yaml"), []byte(batch), 0644)
	os.MkdirAll(filepath.Join(dataDir, setup.QuarantineDir), 0755)
	os.WriteFile(filepath.Join(dataDir, setup.QuarantineDir, "x.yaml"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dataDir, setup.QuarantineDir, "y.yaml"), []byte("y"), 0644)

	got := intakeDepth(dataDir)
	want := IntakeStatus{Pending: 2, Invalid: 1, Processed: 1, Quarantined: 2}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestIntakeDepth_NoDataDir(t *testing.T) {
	got := intakeDepth(filepath.Join(t.TempDir(), "missing"))
	if got != (IntakeStatus{}) {
		t.Errorf("expected zero intake status for missing dir, got %+v", got)
	}
}

func TestCheckDaemon_NotRunning(t *testing.T) {
	status := checkDaemon(filepath.Join(t.TempDir(), "nonexistent.sock"))
	if status.Running {
		t.Error("expected daemon not running")
	}
}

func TestCollect_ListsMappings(t *testing.T) {
	dataDir := newDataDir(t)
	cat := catalog.New(dataDir)
	if err := cat.PutInfraMapping(model.InfrastructureMapping{
		ID: "m1", AccountID: "acct-1", AppID: "app-1", Kind: model.KindAwsAmi,
	}); err != nil {
		t.Fatalf("put mapping: %v", err)
	}

	r := Collect(context.Background(), dataDir)
	if r.Daemon.Running {
		t.Error("expected daemon stopped")
	}
	if len(r.Mappings) != 1 || r.Mappings[0].ID != "m1" || r.Mappings[0].Kind != model.KindAwsAmi {
		t.Errorf("unexpected mappings: %+v", r.Mappings)
	}
}

func TestRun_JSON(t *testing.T) {
	dataDir := newDataDir(t)

	var buf bytes.Buffer
	if err := Run(context.Background(), dataDir, true, &buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	var r Report
	if err := json.Unmarshal(buf.Bytes(), &r); err != nil {
		t.Fatalf("decode: %v\n%s", err, buf.String())
	}
	if r.Daemon.Running {
		t.Error("expected daemon stopped")
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, Report{})
	if !strings.Contains(buf.String(), "Daemon: stopped") || !strings.Contains(buf.String(), "Mappings: none") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}

	buf.Reset()
	printReport(&buf, Report{
		Daemon:   DaemonStatus{Running: true, Pid: 42},
		Intake:   IntakeStatus{Pending: 3},
		Mappings: []MappingStatus{{ID: "m1", AccountID: "acct-1", Kind: model.KindPcf}},
	})
	out := buf.String()
	for _, want := range []string{"running (pid 42)", "m1", "kind=pcf"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCollect_StaleLock(t *testing.T) {
	dataDir := newDataDir(t)
	if err := os.WriteFile(filepath.Join(dataDir, setup.DaemonLockFile), []byte("4242\n"), 0600); err != nil {
		t.Fatal(err)
	}

	r := Collect(context.Background(), dataDir)
	if r.Daemon.Running || r.Daemon.StalePid != 4242 {
		t.Errorf("expected stale pid 4242, got %+v", r.Daemon)
	}

	var buf bytes.Buffer
	printReport(&buf, r)
	if !strings.Contains(buf.String(), "stale lock from pid 4242") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}
