package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/instsync/internal/model"
	yamlutil "github.com/msageha/instsync/internal/yaml"
)

func seeded(t *testing.T) (*Catalog, string) {
	t.Helper()
	dataDir := t.TempDir()
	c := New(dataDir)
	require.NoError(t, c.Init())

	require.NoError(t, c.PutApplication(model.Application{ID: "app-1", AccountID: "acc-1", Name: "checkout"}))
	require.NoError(t, c.PutEnvironment(model.Environment{ID: "env-1", AppID: "app-1", Name: "prod"}))
	require.NoError(t, c.PutService(model.Service{ID: "svc-1", AppID: "app-1", Name: "api"}))
	require.NoError(t, c.PutInfraMapping(model.InfrastructureMapping{
		ID: "infra-1", AccountID: "acc-1", AppID: "app-1", EnvID: "env-1", ServiceID: "svc-1",
		Kind: model.KindAwsAmi, DisplayName: "fleet",
	}))
	return c, dataDir
}

func TestInit_WritesSkeletons(t *testing.T) {
	c := New(t.TempDir())
	require.NoError(t, c.Init())

	for name, fileType := range Files {
		assert.NoError(t, yamlutil.ValidateSchemaHeader(filepath.Join(c.Dir(), name), fileType), name)
	}

	mappings, err := c.ListInfraMappings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func TestNames(t *testing.T) {
	c, _ := seeded(t)
	ctx := context.Background()

	app, err := c.ApplicationName(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "checkout", app)

	env, err := c.EnvironmentName(ctx, "app-1", "env-1")
	require.NoError(t, err)
	assert.Equal(t, "prod", env)

	svc, err := c.ServiceName(ctx, "app-1", "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "api", svc)

	_, err = c.EnvironmentName(ctx, "app-2", "env-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.ApplicationName(ctx, "app-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNames_ReadAtCallTime(t *testing.T) {
	c, _ := seeded(t)
	ctx := context.Background()

	require.NoError(t, c.PutApplication(model.Application{ID: "app-1", AccountID: "acc-1", Name: "checkout-v2"}))
	app, err := c.ApplicationName(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "checkout-v2", app)
}

func TestInstances_FilterByAppAndMapping(t *testing.T) {
	c, _ := seeded(t)
	ctx := context.Background()

	require.NoError(t, c.PutInstances("app-1", "infra-1", []model.Instance{
		{ID: "i-1", AutoScalingGroup: &model.AutoScalingGroupInstanceInfo{InstanceID: "i-1", AutoScalingGroupName: "asg-1"}},
		{ID: "i-2", Ec2: &model.Ec2InstanceInfo{InstanceID: "i-2"}},
	}))
	require.NoError(t, c.PutInstances("app-1", "infra-2", []model.Instance{{ID: "i-3"}}))

	got, err := c.InstancesForAppAndInfraMapping(ctx, "app-1", "infra-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "i-1", got[0].ID)
	assert.Equal(t, "asg-1", got[0].AutoScalingGroup.AutoScalingGroupName)
	assert.Equal(t, "infra-1", got[1].InfraMappingID)

	// replacing drops the old set for that mapping only
	require.NoError(t, c.PutInstances("app-1", "infra-1", nil))
	got, err = c.InstancesForAppAndInfraMapping(ctx, "app-1", "infra-1")
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = c.InstancesForAppAndInfraMapping(ctx, "app-1", "infra-2")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestInfraMappings(t *testing.T) {
	c, _ := seeded(t)
	ctx := context.Background()

	m, err := c.InfraMapping(ctx, "infra-1")
	require.NoError(t, err)
	assert.Equal(t, model.KindAwsAmi, m.Kind)

	m.DisplayName = "renamed"
	require.NoError(t, c.PutInfraMapping(m))
	all, err := c.ListInfraMappings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "renamed", all[0].DisplayName)

	assert.Error(t, c.PutInfraMapping(model.InfrastructureMapping{ID: "x", AccountID: "a", AppID: "b", Kind: "gcp_mig"}))

	require.NoError(t, c.DeleteInfraMapping("infra-1"))
	_, err = c.InfraMapping(ctx, "infra-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.DeleteInfraMapping("infra-1"), ErrNotFound)
}

func TestMissingFilesReadAsEmpty(t *testing.T) {
	c := New(t.TempDir())
	got, err := c.InstancesForAppAndInfraMapping(context.Background(), "app-1", "infra-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRepair(t *testing.T) {
	c, dataDir := seeded(t)
	// second write leaves a backup that already contains svc-1
	require.NoError(t, c.PutService(model.Service{ID: "svc-1", AppID: "app-1", Name: "api"}))
	path := filepath.Join(c.Dir(), ServicesFile)
	require.NoError(t, os.WriteFile(path, []byte("services: [\n"), 0644))

	_, err := c.ServiceName(context.Background(), "app-1", "svc-1")
	require.Error(t, err)

	repaired, err := c.Repair()
	require.NoError(t, err)
	assert.Equal(t, []string{ServicesFile}, repaired)

	// restored from the .bak written by the last atomic write
	name, err := c.ServiceName(context.Background(), "app-1", "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "api", name)

	entries, err := os.ReadDir(filepath.Join(dataDir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
