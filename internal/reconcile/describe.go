package reconcile

import (
	"context"
	"fmt"

	"github.com/msageha/instsync/internal/model"
)

// Directory resolves human-readable names for task descriptions.
type Directory interface {
	ApplicationName(ctx context.Context, appID string) (string, error)
	EnvironmentName(ctx context.Context, appID, envID string) (string, error)
	ServiceName(ctx context.Context, appID, serviceID string) (string, error)
}

// Describer builds task descriptions. Names are looked up on every call.
type Describer struct {
	dir    Directory
	policy model.LookupFailurePolicy
}

func NewDescriber(dir Directory, policy model.LookupFailurePolicy) Describer {
	if policy == "" {
		policy = model.LookupFailureFail
	}
	return Describer{dir: dir, policy: policy}
}

// Describe returns the description for tasks of m. Under the placeholder
// policy a failed lookup is replaced by the id and reported through
// degraded, with a nil error.
func (d Describer) Describe(ctx context.Context, m model.InfrastructureMapping) (desc string, degraded []error, err error) {
	resolve := func(what, id string, lookup func() (string, error)) (string, error) {
		name, err := lookup()
		if err == nil {
			return name, nil
		}
		err = fmt.Errorf("%w: %s %s: %v", ErrUpstreamLookup, what, id, err)
		if d.policy != model.LookupFailurePlaceholder {
			return "", err
		}
		degraded = append(degraded, err)
		return id, nil
	}

	app, err := resolve("application", m.AppID, func() (string, error) {
		return d.dir.ApplicationName(ctx, m.AppID)
	})
	if err != nil {
		return "", nil, err
	}
	svc, err := resolve("service", m.ServiceID, func() (string, error) {
		return d.dir.ServiceName(ctx, m.AppID, m.ServiceID)
	})
	if err != nil {
		return "", nil, err
	}
	env, err := resolve("environment", m.EnvID, func() (string, error) {
		return d.dir.EnvironmentName(ctx, m.AppID, m.EnvID)
	})
	if err != nil {
		return "", nil, err
	}

	infra := m.DisplayName
	if infra == "" {
		infra = m.ID
	}
	return FormatDescription(app, svc, env, infra), degraded, nil
}

func FormatDescription(app, service, env, infra string) string {
	return fmt.Sprintf("Application: [%s], Service: [%s], Environment: [%s], Infrastructure: [%s]",
		app, service, env, infra)
}
