package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/msageha/instsync/internal/catalog"
	"github.com/msageha/instsync/internal/events"
	"github.com/msageha/instsync/internal/identity"
	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/reconcile"
	"github.com/msageha/instsync/internal/registry"
	"github.com/msageha/instsync/internal/setup"
	yamlutil "github.com/msageha/instsync/internal/yaml"
)

// intakeOutcome is what happened to one batch file.
type intakeOutcome string

const (
	intakeProcessed   intakeOutcome = "processed"
	intakeQuarantined intakeOutcome = "quarantined"
	intakeRetry       intakeOutcome = "retry"
	intakeSkipped     intakeOutcome = "skipped"
)

// HandleFileEvent processes a deployment batch written into the intake
// directory. Other paths are ignored.
func (d *Daemon) HandleFileEvent(path string) {
	if !d.isIntakeFile(path) {
		return
	}
	d.processIntakeFile(d.ctx, path)
}

// isIntakeFile accepts *.yaml / *.yml directly under the intake directory.
// Dot files are in-progress atomic writes.
func (d *Daemon) isIntakeFile(path string) bool {
	if filepath.Dir(path) != filepath.Join(d.dataDir, setup.DeploymentsDir) {
		return false
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := filepath.Ext(base)
	return ext == ".yaml" || ext == ".yml"
}

// drainIntake processes every batch file currently in the intake directory
// in name order.
func (d *Daemon) drainIntake(ctx context.Context) {
	dir := filepath.Join(d.dataDir, setup.DeploymentsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		d.log(model.LogLevelError, "read intake dir error=%v", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		path := filepath.Join(dir, name)
		if d.isIntakeFile(path) {
			d.processIntakeFile(ctx, path)
		}
	}
}

// processIntakeFile runs one batch file through incremental reconciliation.
// Concurrent events for the same file collapse into a single run.
func (d *Daemon) processIntakeFile(ctx context.Context, path string) intakeOutcome {
	v, _, _ := d.flight.Do("intake:"+path, func() (any, error) {
		return d.ingest(ctx, path), nil
	})
	return v.(intakeOutcome)
}

func (d *Daemon) ingest(ctx context.Context, path string) intakeOutcome {
	base := filepath.Base(path)

	var batch model.DeploymentBatch
	if err := yamlutil.Load(path, yamlutil.FileTypeDeploymentBatch, &batch); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return intakeSkipped
		}
		d.log(model.LogLevelError, "intake file=%s invalid error=%v", base, err)
		d.quarantine(path)
		return intakeQuarantined
	}
	if batch.InfraMappingID == "" {
		d.log(model.LogLevelError, "intake file=%s missing infra_mapping_id", base)
		d.quarantine(path)
		return intakeQuarantined
	}

	batchID, err := stampBatch(&batch)
	if err != nil {
		d.log(model.LogLevelWarn, "intake file=%s will retry error=%v", base, err)
		return intakeRetry
	}

	ids, err := d.service.ProcessDeploymentBatch(ctx, batch)
	switch {
	case err == nil:
	case isPermanent(err):
		d.log(model.LogLevelError, "intake file=%s infra_mapping=%s rejected error=%v", base, batch.InfraMappingID, err)
		d.quarantine(path)
		return intakeQuarantined
	default:
		d.log(model.LogLevelWarn, "intake file=%s infra_mapping=%s will retry error=%v", base, batch.InfraMappingID, err)
		return intakeRetry
	}

	if err := d.moveProcessed(path); err != nil {
		d.log(model.LogLevelError, "intake file=%s move to processed error=%v", base, err)
	}
	d.publishDeployment(batchID, batch.InfraMappingID, len(batch.Summaries), ids, base)
	d.log(model.LogLevelInfo, "intake file=%s batch=%s infra_mapping=%s summaries=%d created=%d",
		base, batchID, batch.InfraMappingID, len(batch.Summaries), len(ids))
	return intakeProcessed
}

// isPermanent reports errors that retrying the same batch cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, catalog.ErrNotFound) ||
		errors.Is(err, identity.ErrConfigurationMismatch) ||
		errors.Is(err, reconcile.ErrRegistryRejection) ||
		errors.Is(err, registry.ErrInvalidArgument)
}

func (d *Daemon) quarantine(path string) {
	dst, err := yamlutil.Quarantine(d.dataDir, path)
	if err != nil {
		d.log(model.LogLevelError, "quarantine file=%s error=%v", filepath.Base(path), err)
		return
	}
	d.log(model.LogLevelWarn, "quarantined file=%s to=%s", filepath.Base(path), dst)
}

func (d *Daemon) moveProcessed(path string) error {
	dir := filepath.Join(d.dataDir, setup.ProcessedDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		dst = filepath.Join(dir, fmt.Sprintf("%s.%s", filepath.Base(path), time.Now().Format("20060102T150405.000")))
	}
	return os.Rename(path, dst)
}

// stampBatch assigns a batch id and fills in ids for summaries that arrive
// without one.
func stampBatch(batch *model.DeploymentBatch) (string, error) {
	batchID, err := model.GenerateID(model.IDTypeBatch)
	if err != nil {
		return "", err
	}
	for i := range batch.Summaries {
		if batch.Summaries[i].ID != "" {
			continue
		}
		id, err := model.GenerateID(model.IDTypeDeployment)
		if err != nil {
			return "", err
		}
		batch.Summaries[i].ID = id
	}
	return batchID, nil
}

func (d *Daemon) publishDeployment(batchID, infraMappingID string, summaries int, ids []string, source string) {
	d.bus.Publish(events.EventDeploymentProcessed, map[string]any{
		"batch_id":               batchID,
		events.KeyInfraMappingID: infraMappingID,
		"summaries":              summaries,
		"created":                len(ids),
		"source":                 source,
	})
}
