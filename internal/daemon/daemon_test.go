package daemon

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/msageha/instsync/internal/catalog"
	"github.com/msageha/instsync/internal/events"
	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/setup"
	"github.com/msageha/instsync/internal/uds"
	yamlutil "github.com/msageha/instsync/internal/yaml"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	amiMapping = model.InfrastructureMapping{
		ID: "infra-ami", AccountID: "acc-1", AppID: "app-1", EnvID: "env-1", ServiceID: "svc-1",
		Kind: model.KindAwsAmi, DisplayName: "fleet",
	}
	sshMapping = model.InfrastructureMapping{
		ID: "infra-ssh", AccountID: "acc-1", AppID: "app-1", EnvID: "env-1", ServiceID: "svc-1",
		Kind: model.KindAwsSsh, DisplayName: "hosts",
	}
)

// syncBuffer guards the log buffer shared with daemon goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testEnv struct {
	d       *Daemon
	dataDir string
	cat     *catalog.Catalog
	client  *uds.Client
	logs    *syncBuffer
}

// newDataDir creates an initialised data directory with a seeded catalog.
// It lives under /tmp to keep the socket path short.
func newDataDir(t *testing.T) string {
	t.Helper()
	root, err := os.MkdirTemp("/tmp", "instsync-d-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	require.NoError(t, setup.Run(root, "test"))
	dataDir := filepath.Join(root, setup.DataDirName)

	cat := catalog.New(dataDir)
	require.NoError(t, cat.PutApplication(model.Application{ID: "app-1", AccountID: "acc-1", Name: "checkout"}))
	require.NoError(t, cat.PutEnvironment(model.Environment{ID: "env-1", AppID: "app-1", Name: "prod"}))
	require.NoError(t, cat.PutService(model.Service{ID: "svc-1", AppID: "app-1", Name: "api"}))
	require.NoError(t, cat.PutInfraMapping(amiMapping))
	require.NoError(t, cat.PutInstances("app-1", amiMapping.ID, []model.Instance{
		{ID: "i-1", AutoScalingGroup: &model.AutoScalingGroupInstanceInfo{InstanceID: "i-1", AutoScalingGroupName: "asg-a"}},
		{ID: "i-2", AutoScalingGroup: &model.AutoScalingGroupInstanceInfo{InstanceID: "i-2", AutoScalingGroupName: "asg-b"}},
	}))
	return dataDir
}

func testConfig(t *testing.T, dataDir string) model.Config {
	t.Helper()
	cfg, err := setup.LoadConfig(dataDir)
	require.NoError(t, err)
	cfg.Registry.DSN = ":memory:"
	cfg.Reconcile.ScanIntervalSec = 3600
	cfg.Daemon.ShutdownTimeoutSec = 5
	cfg.Logging.Level = "debug"
	return cfg
}

func startDaemon(t *testing.T, dataDir string, cfg model.Config) *testEnv {
	t.Helper()
	logs := &syncBuffer{}
	d, err := newDaemon(dataDir, cfg, logs, nil)
	require.NoError(t, err)
	require.NoError(t, d.start())
	t.Cleanup(d.Shutdown)

	client := uds.NewClient(filepath.Join(dataDir, uds.DefaultSocketName))
	client.SetTimeout(5 * time.Second)
	return &testEnv{d: d, dataDir: dataDir, cat: catalog.New(dataDir), client: client, logs: logs}
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	dataDir := newDataDir(t)
	return startDaemon(t, dataDir, testConfig(t, dataDir))
}

func (e *testEnv) listTasks(t *testing.T, mappingID string) []model.PerpetualTaskRecord {
	t.Helper()
	var tasks []model.PerpetualTaskRecord
	require.NoError(t, e.client.Call(uds.CommandListTasks,
		uds.TaskListParams{AccountID: "acc-1", InfraMappingID: mappingID}, &tasks))
	return tasks
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	var detail *uds.ErrorDetail
	require.True(t, errors.As(err, &detail), "expected *uds.ErrorDetail, got %v", err)
	return detail.Code
}

func TestNewDaemon(t *testing.T) {
	var buf bytes.Buffer
	cfg := model.Config{Logging: model.LoggingConfig{Level: "debug"}}

	d, err := newDaemon("/tmp/test-instsync", cfg, &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test-instsync", d.dataDir)
	assert.Equal(t, model.LogLevelDebug, d.logLevel)

	// never started: shutdown still completes and is idempotent
	d.Shutdown()
	d.Shutdown()
	<-d.Done()
}

func TestDaemonLog(t *testing.T) {
	var buf bytes.Buffer
	d, err := newDaemon("", model.Config{Logging: model.LoggingConfig{Level: "warn"}}, &buf, nil)
	require.NoError(t, err)

	d.log(model.LogLevelInfo, "should not appear")
	assert.Zero(t, buf.Len())

	d.log(model.LogLevelWarn, "warning message")
	assert.Contains(t, buf.String(), "WARN daemon: warning message")
}

func TestResolveDSN(t *testing.T) {
	tests := []struct {
		dsn, want string
	}{
		{"", "/data/registry.db"},
		{":memory:", ":memory:"},
		{"file:reg.db?cache=shared", "file:reg.db?cache=shared"},
		{"/var/lib/instsync.db", "/var/lib/instsync.db"},
		{"state/reg.db", "/data/state/reg.db"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveDSN("/data", tt.dsn), tt.dsn)
	}
}

func TestDaemon_SecondInstanceRejected(t *testing.T) {
	env := newEnv(t)

	other, err := newDaemon(env.dataDir, testConfig(t, env.dataDir), &bytes.Buffer{}, nil)
	require.NoError(t, err)
	err = other.start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon lock")

	require.NoError(t, env.client.Call(uds.CommandPing, nil, nil))
}

func TestDaemon_InitialScanBootstrapsMappings(t *testing.T) {
	env := newEnv(t)

	tasks := env.listTasks(t, amiMapping.ID)
	require.Len(t, tasks, 2)
	assert.Equal(t, "asg-a", tasks[0].ClientContext.Get(model.ParamAsgName))
	assert.Equal(t, model.TaskTypeAwsAmiInstanceSync, tasks[0].Type)
	assert.Equal(t, model.DefaultSchedule(), tasks[0].Schedule)

	var res uds.ScanResult
	require.NoError(t, env.client.Call(uds.CommandScan, nil, &res))
	assert.Equal(t, uds.ScanResult{Mappings: 1}, res)
}

func TestDaemon_ScanPicksUpNewMapping(t *testing.T) {
	env := newEnv(t)
	require.NoError(t, env.cat.PutInfraMapping(sshMapping))

	var res uds.ScanResult
	require.NoError(t, env.client.Call(uds.CommandScan, nil, &res))
	assert.Equal(t, 2, res.Mappings)
	assert.Equal(t, 1, res.Created)
	assert.Empty(t, res.Failed)

	assert.Len(t, env.listTasks(t, sshMapping.ID), 1)
}

func TestDaemon_ScanReportsFailures(t *testing.T) {
	env := newEnv(t)
	orphan := model.InfrastructureMapping{
		ID: "infra-orphan", AccountID: "acc-1", AppID: "app-missing", EnvID: "env-x", ServiceID: "svc-x",
		Kind: model.KindAwsSsh,
	}
	require.NoError(t, env.cat.PutInfraMapping(orphan))

	var res uds.ScanResult
	require.NoError(t, env.client.Call(uds.CommandScan, nil, &res))
	assert.Equal(t, []string{"infra-orphan"}, res.Failed)
	assert.Contains(t, env.logs.String(), "scan infra_mapping=infra-orphan")
}

func writeBatch(t *testing.T, dataDir, name string, batch model.DeploymentBatch) string {
	t.Helper()
	batch.SchemaVersion = 1
	batch.FileType = yamlutil.FileTypeDeploymentBatch
	path := filepath.Join(dataDir, setup.DeploymentsDir, name)
	require.NoError(t, yamlutil.AtomicWrite(path, batch))
	return path
}

func TestDaemon_DeploymentIntake(t *testing.T) {
	env := newEnv(t)

	path := writeBatch(t, env.dataDir, "batch-1.yaml", model.DeploymentBatch{
		AppID:          "app-1",
		InfraMappingID: amiMapping.ID,
		Summaries: []model.DeploymentSummary{
			{AutoScalingGroup: &model.AutoScalingGroupDeploymentInfo{AutoScalingGroupName: "asg-a"}},
			{AutoScalingGroup: &model.AutoScalingGroupDeploymentInfo{AutoScalingGroupName: "asg-c"}},
		},
	})

	processed := filepath.Join(env.dataDir, setup.ProcessedDir, "batch-1.yaml")
	require.Eventually(t, func() bool {
		_, err := os.Stat(processed)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.NoFileExists(t, path)

	tasks := env.listTasks(t, amiMapping.ID)
	require.Len(t, tasks, 3)
	assert.Equal(t, "asg-c", tasks[2].ClientContext.Get(model.ParamAsgName))
}

func TestDaemon_IntakeQuarantinesBadBatches(t *testing.T) {
	env := newEnv(t)

	require.NoError(t, os.WriteFile(
		filepath.Join(env.dataDir, setup.DeploymentsDir, "garbage.yaml"), []byte(":\n\t- ["), 0644))
	writeBatch(t, env.dataDir, "unknown.yaml", model.DeploymentBatch{InfraMappingID: "infra-gone"})

	quarantine := filepath.Join(env.dataDir, setup.QuarantineDir)
	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(quarantine)
		return len(entries) == 2
	}, 5*time.Second, 20*time.Millisecond)

	entries, err := os.ReadDir(filepath.Join(env.dataDir, setup.ProcessedDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDaemon_DrainsIntakeOnStart(t *testing.T) {
	dataDir := newDataDir(t)
	writeBatch(t, dataDir, "early.yaml", model.DeploymentBatch{
		InfraMappingID: amiMapping.ID,
		Summaries: []model.DeploymentSummary{
			{AutoScalingGroup: &model.AutoScalingGroupDeploymentInfo{AutoScalingGroupName: "asg-early"}},
		},
	})

	env := startDaemon(t, dataDir, testConfig(t, dataDir))

	assert.FileExists(t, filepath.Join(dataDir, setup.ProcessedDir, "early.yaml"))
	// the batch is ingested before the bulk scan, which then skips the mapping
	assert.Len(t, env.listTasks(t, amiMapping.ID), 1)
}

func TestDaemon_IsIntakeFile(t *testing.T) {
	d, err := newDaemon("/data", model.Config{}, &bytes.Buffer{}, nil)
	require.NoError(t, err)

	assert.True(t, d.isIntakeFile("/data/deployments/b.yaml"))
	assert.True(t, d.isIntakeFile("/data/deployments/b.yml"))
	assert.False(t, d.isIntakeFile("/data/deployments/.instsync-tmp-123"))
	assert.False(t, d.isIntakeFile("/data/deployments/b.yaml.bak"))
	assert.False(t, d.isIntakeFile("/data/deployments/processed/b.yaml"))
	assert.False(t, d.isIntakeFile("/data/catalog/services.yaml"))
}

func TestDaemon_TaskCommands(t *testing.T) {
	env := newEnv(t)
	require.NoError(t, env.cat.PutInfraMapping(sshMapping))

	var created uds.TaskIDsResult
	require.NoError(t, env.client.Call(uds.CommandCreateTasks,
		uds.MappingParams{InfraMappingID: sshMapping.ID}, &created))
	require.Len(t, created.TaskIDs, 1)
	taskID := created.TaskIDs[0]

	// per-mapping kinds reset their single task on a new deployment
	var again uds.TaskIDsResult
	require.NoError(t, env.client.Call(uds.CommandNewDeployment,
		uds.NewDeploymentParams{InfraMappingID: sshMapping.ID}, &again))
	assert.Empty(t, again.TaskIDs)

	require.NoError(t, env.client.Call(uds.CommandResetTask,
		uds.TaskParams{AccountID: "acc-1", TaskID: taskID}, nil))

	var syncRes uds.SyncResult
	require.NoError(t, env.client.Call(uds.CommandSyncResponse,
		uds.SyncResponseParams{TaskID: taskID, Response: model.SyncResponse{ErrorMessage: "timeout"}}, &syncRes))
	assert.Equal(t, "reset", syncRes.Outcome)

	tasks := env.listTasks(t, sshMapping.ID)
	require.Len(t, tasks, 1)
	assert.Equal(t, 3, tasks[0].ResetCount)

	require.NoError(t, env.client.Call(uds.CommandSetState,
		uds.SetStateParams{TaskID: taskID, State: model.TaskStateInvalid}, nil))
	var cleaned uds.CountResult
	require.NoError(t, env.client.Call(uds.CommandCleanupInvalid,
		uds.CleanupParams{AccountID: "acc-1", TaskType: model.TaskTypeAwsSshInstanceSync}, &cleaned))
	assert.Equal(t, 1, cleaned.Count)

	var deleted uds.CountResult
	require.NoError(t, env.client.Call(uds.CommandDeleteTasks,
		uds.DeleteTasksParams{AccountID: "acc-1", InfraMappingID: amiMapping.ID}, &deleted))
	assert.Equal(t, 2, deleted.Count)

	var all []model.PerpetualTaskRecord
	require.NoError(t, env.client.Call(uds.CommandListTasks, uds.TaskListParams{AccountID: "acc-1"}, &all))
	assert.Empty(t, all)
}

func TestDaemon_ErrorCodes(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name    string
		command string
		params  any
		code    string
	}{
		{"missing mapping id", uds.CommandCreateTasks, uds.MappingParams{}, uds.ErrCodeValidation},
		{"unknown mapping", uds.CommandCreateTasks, uds.MappingParams{InfraMappingID: "nope"}, uds.ErrCodeNotFound},
		{"unknown task", uds.CommandResetTask, uds.TaskParams{AccountID: "acc-1", TaskID: "nope"}, uds.ErrCodeNotFound},
		{"sync unknown task", uds.CommandSyncResponse, uds.SyncResponseParams{TaskID: "nope"}, uds.ErrCodeNotFound},
		{"list without account", uds.CommandListTasks, uds.TaskListParams{}, uds.ErrCodeValidation},
		{"cleanup unknown type", uds.CommandCleanupInvalid, uds.CleanupParams{AccountID: "acc-1", TaskType: "NOPE"}, uds.ErrCodeValidation},
		{"bad state", uds.CommandSetState, uds.SetStateParams{TaskID: "x", State: "TASK_EXPLODED"}, uds.ErrCodeValidation},
		{"bad params", uds.CommandDeleteTasks, map[string]int{"account_id": 1}, uds.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.client.Call(tt.command, tt.params, nil)
			assert.Equal(t, tt.code, errCode(t, err))
		})
	}
}

func TestErrorResponse_Mapping(t *testing.T) {
	resp := errorResponse(errors.New("disk on fire"))
	assert.Equal(t, uds.ErrCodeInternal, resp.Error.Code)
}

func TestDaemon_AuditLog(t *testing.T) {
	env := newEnv(t)
	auditPath := filepath.Join(env.dataDir, "logs", "audit.jsonl")

	// two task_created events from the initial scan
	require.Eventually(t, func() bool {
		total, valid, err := events.VerifyLogIntegrity(auditPath)
		return err == nil && total >= 2 && total == valid
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDaemon_ShutdownViaUDS(t *testing.T) {
	env := newEnv(t)
	socket := filepath.Join(env.dataDir, uds.DefaultSocketName)

	require.NoError(t, env.client.Call(uds.CommandShutdown, nil, nil))
	select {
	case <-env.d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}
	assert.NoFileExists(t, socket)
	assert.NoFileExists(t, filepath.Join(env.dataDir, setup.DaemonLockFile))
}

func TestStampBatch(t *testing.T) {
	batch := model.DeploymentBatch{
		InfraMappingID: "map-1",
		Summaries:      []model.DeploymentSummary{{ID: "given"}, {}},
	}
	batchID, err := stampBatch(&batch)
	require.NoError(t, err)

	typ, err := model.ParseIDType(batchID)
	require.NoError(t, err)
	assert.Equal(t, model.IDTypeBatch, typ)
	assert.Equal(t, "given", batch.Summaries[0].ID)
	typ, err = model.ParseIDType(batch.Summaries[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.IDTypeDeployment, typ)
}
