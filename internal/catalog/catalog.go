// Package catalog serves application, environment, service, infrastructure
// mapping and instance data from YAML files under <dataDir>/catalog.
//
// Files are re-read on every call so edits made while the daemon runs are
// picked up without a restart. A missing file reads as empty.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/msageha/instsync/internal/lock"
	"github.com/msageha/instsync/internal/model"
	yamlutil "github.com/msageha/instsync/internal/yaml"
)

var ErrNotFound = errors.New("catalog entry not found")

const (
	ApplicationsFile  = "applications.yaml"
	EnvironmentsFile  = "environments.yaml"
	ServicesFile      = "services.yaml"
	InfraMappingsFile = "infrastructure_mappings.yaml"
	InstancesFile     = "instances.yaml"
)

// Files maps each catalog file to its schema file type.
var Files = map[string]string{
	ApplicationsFile:  yamlutil.FileTypeApplications,
	EnvironmentsFile:  yamlutil.FileTypeEnvironments,
	ServicesFile:      yamlutil.FileTypeServices,
	InfraMappingsFile: yamlutil.FileTypeInfraMappings,
	InstancesFile:     yamlutil.FileTypeInstances,
}

type Catalog struct {
	dir   string
	locks *lock.MutexMap
}

// New returns the catalog rooted at <dataDir>/catalog.
func New(dataDir string) *Catalog {
	return &Catalog{
		dir:   filepath.Join(dataDir, "catalog"),
		locks: lock.NewMutexMap(),
	}
}

func (c *Catalog) Dir() string { return c.dir }

func (c *Catalog) path(name string) string { return filepath.Join(c.dir, name) }

// Init writes an empty skeleton for every catalog file that does not exist.
func (c *Catalog) Init() error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	for name, fileType := range Files {
		p := c.path(name)
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if err := yamlutil.AtomicWrite(p, yamlutil.Skeleton(fileType)); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// Repair recovers catalog files whose content no longer parses, restoring
// the last good backup or an empty skeleton. It returns the repaired names.
func (c *Catalog) Repair() ([]string, error) {
	dataDir := filepath.Dir(c.dir)
	var repaired []string
	names := make([]string, 0, len(Files))
	for name := range Files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := c.path(name)
		c.locks.Lock(name)
		err := yamlutil.ValidateSchemaHeader(p, Files[name])
		if err == nil || errors.Is(err, os.ErrNotExist) {
			c.locks.Unlock(name)
			continue
		}
		rerr := yamlutil.RecoverCorruptedFile(dataDir, p, Files[name])
		c.locks.Unlock(name)
		if rerr != nil {
			return repaired, fmt.Errorf("repair %s: %w", name, rerr)
		}
		repaired = append(repaired, name)
	}
	return repaired, nil
}

func (c *Catalog) load(name string, v any) error {
	c.locks.Lock(name)
	defer c.locks.Unlock(name)

	err := yamlutil.Load(c.path(name), Files[name], v)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// update loads name into doc, applies fn and writes it back atomically.
func (c *Catalog) update(name string, doc any, fn func() error) error {
	c.locks.Lock(name)
	defer c.locks.Unlock(name)

	p := c.path(name)
	if err := yamlutil.Load(p, Files[name], doc); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return yamlutil.AtomicWrite(p, doc)
}

func (c *Catalog) ApplicationName(_ context.Context, appID string) (string, error) {
	var f model.ApplicationsFile
	if err := c.load(ApplicationsFile, &f); err != nil {
		return "", err
	}
	for _, a := range f.Applications {
		if a.ID == appID {
			return a.Name, nil
		}
	}
	return "", fmt.Errorf("application %s: %w", appID, ErrNotFound)
}

func (c *Catalog) EnvironmentName(_ context.Context, appID, envID string) (string, error) {
	var f model.EnvironmentsFile
	if err := c.load(EnvironmentsFile, &f); err != nil {
		return "", err
	}
	for _, e := range f.Environments {
		if e.ID == envID && e.AppID == appID {
			return e.Name, nil
		}
	}
	return "", fmt.Errorf("environment %s of app %s: %w", envID, appID, ErrNotFound)
}

func (c *Catalog) ServiceName(_ context.Context, appID, serviceID string) (string, error) {
	var f model.ServicesFile
	if err := c.load(ServicesFile, &f); err != nil {
		return "", err
	}
	for _, s := range f.Services {
		if s.ID == serviceID && s.AppID == appID {
			return s.Name, nil
		}
	}
	return "", fmt.Errorf("service %s of app %s: %w", serviceID, appID, ErrNotFound)
}

// InstancesForAppAndInfraMapping lists instances in file order.
func (c *Catalog) InstancesForAppAndInfraMapping(_ context.Context, appID, infraMappingID string) ([]model.Instance, error) {
	var f model.InstancesFile
	if err := c.load(InstancesFile, &f); err != nil {
		return nil, err
	}
	var out []model.Instance
	for _, inst := range f.Instances {
		if inst.AppID == appID && inst.InfraMappingID == infraMappingID {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (c *Catalog) InfraMapping(_ context.Context, infraMappingID string) (model.InfrastructureMapping, error) {
	var f model.InfraMappingsFile
	if err := c.load(InfraMappingsFile, &f); err != nil {
		return model.InfrastructureMapping{}, err
	}
	for _, m := range f.Mappings {
		if m.ID == infraMappingID {
			return m, nil
		}
	}
	return model.InfrastructureMapping{}, fmt.Errorf("infra mapping %s: %w", infraMappingID, ErrNotFound)
}

func (c *Catalog) ListInfraMappings(_ context.Context) ([]model.InfrastructureMapping, error) {
	var f model.InfraMappingsFile
	if err := c.load(InfraMappingsFile, &f); err != nil {
		return nil, err
	}
	return f.Mappings, nil
}

// PutInfraMapping inserts m or replaces the mapping with the same id.
func (c *Catalog) PutInfraMapping(m model.InfrastructureMapping) error {
	if m.ID == "" || m.AccountID == "" || m.AppID == "" {
		return fmt.Errorf("infra mapping requires id, account_id and app_id")
	}
	if _, err := model.ParseKind(string(m.Kind)); err != nil {
		return err
	}
	f := model.InfraMappingsFile{}
	return c.update(InfraMappingsFile, &f, func() error {
		stamp(&f.SchemaVersion, &f.FileType, yamlutil.FileTypeInfraMappings)
		for i := range f.Mappings {
			if f.Mappings[i].ID == m.ID {
				f.Mappings[i] = m
				return nil
			}
		}
		f.Mappings = append(f.Mappings, m)
		return nil
	})
}

func (c *Catalog) DeleteInfraMapping(infraMappingID string) error {
	f := model.InfraMappingsFile{}
	return c.update(InfraMappingsFile, &f, func() error {
		for i := range f.Mappings {
			if f.Mappings[i].ID == infraMappingID {
				f.Mappings = append(f.Mappings[:i], f.Mappings[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("infra mapping %s: %w", infraMappingID, ErrNotFound)
	})
}

func (c *Catalog) PutApplication(a model.Application) error {
	f := model.ApplicationsFile{}
	return c.update(ApplicationsFile, &f, func() error {
		stamp(&f.SchemaVersion, &f.FileType, yamlutil.FileTypeApplications)
		for i := range f.Applications {
			if f.Applications[i].ID == a.ID {
				f.Applications[i] = a
				return nil
			}
		}
		f.Applications = append(f.Applications, a)
		return nil
	})
}

func (c *Catalog) PutEnvironment(e model.Environment) error {
	f := model.EnvironmentsFile{}
	return c.update(EnvironmentsFile, &f, func() error {
		stamp(&f.SchemaVersion, &f.FileType, yamlutil.FileTypeEnvironments)
		for i := range f.Environments {
			if f.Environments[i].ID == e.ID && f.Environments[i].AppID == e.AppID {
				f.Environments[i] = e
				return nil
			}
		}
		f.Environments = append(f.Environments, e)
		return nil
	})
}

func (c *Catalog) PutService(s model.Service) error {
	f := model.ServicesFile{}
	return c.update(ServicesFile, &f, func() error {
		stamp(&f.SchemaVersion, &f.FileType, yamlutil.FileTypeServices)
		for i := range f.Services {
			if f.Services[i].ID == s.ID && f.Services[i].AppID == s.AppID {
				f.Services[i] = s
				return nil
			}
		}
		f.Services = append(f.Services, s)
		return nil
	})
}

// PutInstances replaces every instance of the given mapping with instances.
func (c *Catalog) PutInstances(appID, infraMappingID string, instances []model.Instance) error {
	f := model.InstancesFile{}
	return c.update(InstancesFile, &f, func() error {
		stamp(&f.SchemaVersion, &f.FileType, yamlutil.FileTypeInstances)
		kept := f.Instances[:0]
		for _, inst := range f.Instances {
			if inst.AppID != appID || inst.InfraMappingID != infraMappingID {
				kept = append(kept, inst)
			}
		}
		for _, inst := range instances {
			inst.AppID = appID
			inst.InfraMappingID = infraMappingID
			kept = append(kept, inst)
		}
		f.Instances = kept
		return nil
	})
}

func stamp(version *int, fileType *string, want string) {
	*version = yamlutil.CurrentSchemaVersion
	*fileType = want
}
