package model

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestConfigMarshalUnmarshal(t *testing.T) {
	cfg := Config{
		Project:     ProjectConfig{Name: "test-project", Description: "A test project"},
		Schedule:    ScheduleConfig{IntervalMinutes: 5, TimeoutSeconds: 120},
		Description: DescriptionConfig{OnLookupFailure: LookupFailurePlaceholder},
		Reconcile:   ReconcileConfig{Workers: 4, ScanIntervalSec: 30},
		Registry:    RegistryConfig{DSN: "registry.db"},
		Daemon:      DaemonConfig{ShutdownTimeoutSec: 90},
		Logging:     LoggingConfig{Level: "info"},
		Audit:       AuditConfig{Enabled: true, Path: "logs/audit.jsonl", MaxSizeMB: 10},
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Config
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded != cfg {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, cfg)
	}
}

func TestConfig_TaskSchedule(t *testing.T) {
	var cfg Config
	if got := cfg.TaskSchedule(); got != DefaultSchedule() {
		t.Errorf("zero config schedule: got %+v, want default", got)
	}
	if got := DefaultSchedule(); got.Interval != 10*time.Minute || got.Timeout != 600*time.Second {
		t.Errorf("default schedule: got %+v", got)
	}

	cfg.Schedule = ScheduleConfig{IntervalMinutes: 2, TimeoutSeconds: 30}
	got := cfg.TaskSchedule()
	if got.Interval != 2*time.Minute || got.Timeout != 30*time.Second {
		t.Errorf("configured schedule: got %+v", got)
	}
}

func TestConfig_LookupPolicyAndValidate(t *testing.T) {
	var cfg Config
	if cfg.LookupPolicy() != LookupFailureFail {
		t.Errorf("default policy: got %q", cfg.LookupPolicy())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero config should validate: %v", err)
	}

	cfg.Description.OnLookupFailure = "ignore"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown lookup policy")
	}

	cfg.Description.OnLookupFailure = LookupFailurePlaceholder
	cfg.Reconcile.Workers = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative workers")
	}
}

func TestClientContext_IdentityKey(t *testing.T) {
	a := NewClientContext(map[string]string{
		ParamApplicationID:  "app",
		ParamInfraMappingID: "infra",
		ParamFunctionName:   "fn",
		ParamQualifier:      "v1",
		ParamStartDate:      "1000",
	})
	b := NewClientContext(map[string]string{
		ParamQualifier:      "v1",
		ParamFunctionName:   "fn",
		ParamInfraMappingID: "infra",
		ParamApplicationID:  "app",
		ParamStartDate:      "2000",
	})
	if a.IdentityKey() != b.IdentityKey() {
		t.Errorf("keys differ only by auxiliary params:\n%s\n%s", a.IdentityKey(), b.IdentityKey())
	}

	want := "HARNESS_APPLICATION_ID=app&INFRASTRUCTURE_MAPPING_ID=infra&functionName=fn&qualifier=v1"
	if got := a.IdentityKey(); got != want {
		t.Errorf("IdentityKey: got %q, want %q", got, want)
	}

	c := NewClientContext(map[string]string{ParamFunctionName: "fn", ParamQualifier: "v2"})
	if c.IdentityKey() == a.IdentityKey() {
		t.Error("different qualifiers must not share a key")
	}
}

func TestNewClientContext_Copies(t *testing.T) {
	params := map[string]string{ParamAsgName: "asg-1"}
	cc := NewClientContext(params)
	params[ParamAsgName] = "changed"
	if cc.Get(ParamAsgName) != "asg-1" {
		t.Errorf("context aliased caller map: %q", cc.Get(ParamAsgName))
	}
	if (ClientContext{}).Get(ParamAsgName) != "" {
		t.Error("Get on empty context should return empty string")
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
		if _, ok := TaskTypeFor(k); !ok {
			t.Errorf("no task type for %q", k)
		}
	}
	if _, err := ParseKind("gcp_mig"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestDeploymentBatchUnmarshal(t *testing.T) {
	data := []byte(`
schema_version: 1
file_type: deployment_batch
app_id: app-1
infra_mapping_id: infra-1
summaries:
  - id: dep-1
    account_id: acc-1
    app_id: app-1
    infra_mapping_id: infra-1
    lambda:
      function_name: function-1
      version: version-1
  - id: dep-2
    account_id: acc-1
    app_id: app-1
    infra_mapping_id: infra-1
    azure_webapp:
      app_name: web
      slot_name: staging
`)
	var batch DeploymentBatch
	if err := yaml.Unmarshal(data, &batch); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(batch.Summaries) != 2 {
		t.Fatalf("summaries: got %d, want 2", len(batch.Summaries))
	}
	if batch.Summaries[0].Lambda == nil || batch.Summaries[0].Lambda.FunctionName != "function-1" {
		t.Errorf("lambda variant not decoded: %+v", batch.Summaries[0])
	}
	if batch.Summaries[1].Lambda != nil {
		t.Error("second summary should not carry a lambda variant")
	}
	if batch.Summaries[1].AzureWebApp == nil || batch.Summaries[1].AzureWebApp.SlotName != "staging" {
		t.Errorf("webapp variant not decoded: %+v", batch.Summaries[1])
	}
}
