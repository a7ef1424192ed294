package identity

import (
	"fmt"
	"strconv"

	"github.com/msageha/instsync/internal/model"
)

var extractors = map[model.Kind]*Extractor{}

func register(e *Extractor) {
	tt, ok := model.TaskTypeFor(e.kind)
	if !ok {
		panic(fmt.Sprintf("identity: no task type for kind %q", e.kind))
	}
	e.taskType = tt
	extractors[e.kind] = e
}

// For returns the extractor for kind.
func For(kind model.Kind) (*Extractor, error) {
	e, ok := extractors[kind]
	if !ok {
		return nil, fmt.Errorf("no instance-sync extractor for kind %q: %w", kind, ErrConfigurationMismatch)
	}
	return e, nil
}

// ForTaskType returns the extractor registered for a perpetual task type.
func ForTaskType(tt model.TaskType) (*Extractor, bool) {
	for _, e := range extractors {
		if e.taskType == tt {
			return e, true
		}
	}
	return nil, false
}

func init() {
	register(&Extractor{
		kind:   model.KindAwsAmi,
		fields: []string{model.ParamAsgName},
		fromInstance: func(i model.Instance) (Key, bool) {
			if i.AutoScalingGroup == nil || i.AutoScalingGroup.AutoScalingGroupName == "" {
				return nil, false
			}
			return Key{model.ParamAsgName: i.AutoScalingGroup.AutoScalingGroupName}, true
		},
		fromDeployment: func(s model.DeploymentSummary) (Key, bool) {
			if s.AutoScalingGroup == nil || s.AutoScalingGroup.AutoScalingGroupName == "" {
				return nil, false
			}
			return Key{model.ParamAsgName: s.AutoScalingGroup.AutoScalingGroupName}, true
		},
	})

	register(&Extractor{
		kind:   model.KindAwsCodeDeploy,
		fields: []string{model.ParamCodeDeployID},
		fromInstance: func(i model.Instance) (Key, bool) {
			if i.CodeDeploy == nil || i.CodeDeploy.DeploymentID == "" {
				return nil, false
			}
			return Key{model.ParamCodeDeployID: i.CodeDeploy.DeploymentID}, true
		},
		fromDeployment: func(s model.DeploymentSummary) (Key, bool) {
			if s.CodeDeploy == nil || s.CodeDeploy.DeploymentID == "" {
				return nil, false
			}
			return Key{model.ParamCodeDeployID: s.CodeDeploy.DeploymentID}, true
		},
	})

	register(&Extractor{
		kind:   model.KindAwsLambda,
		fields: []string{model.ParamFunctionName, model.ParamQualifier},
		fromInstance: func(i model.Instance) (Key, bool) {
			if i.Lambda == nil || i.Lambda.FunctionName == "" {
				return nil, false
			}
			return Key{
				model.ParamFunctionName: i.Lambda.FunctionName,
				model.ParamQualifier:    i.Lambda.Version,
			}, true
		},
		fromDeployment: func(s model.DeploymentSummary) (Key, bool) {
			if s.Lambda == nil || s.Lambda.FunctionName == "" {
				return nil, false
			}
			k := Key{
				model.ParamFunctionName: s.Lambda.FunctionName,
				model.ParamQualifier:    s.Lambda.Version,
			}
			if !s.DeployedAt.IsZero() {
				k[model.ParamStartDate] = strconv.FormatInt(s.DeployedAt.UnixMilli(), 10)
			}
			return k, true
		},
	})

	register(&Extractor{
		kind:  model.KindAwsSsh,
		scope: ScopePerMapping,
	})

	register(&Extractor{
		kind:   model.KindAzureVMSS,
		fields: []string{model.ParamVMSSID},
		fromInstance: func(i model.Instance) (Key, bool) {
			if i.AzureVMSS == nil || i.AzureVMSS.VMSSID == "" {
				return nil, false
			}
			return Key{model.ParamVMSSID: i.AzureVMSS.VMSSID}, true
		},
		fromDeployment: func(s model.DeploymentSummary) (Key, bool) {
			if s.AzureVMSS == nil || s.AzureVMSS.VMSSID == "" {
				return nil, false
			}
			return Key{model.ParamVMSSID: s.AzureVMSS.VMSSID}, true
		},
	})

	register(&Extractor{
		kind:   model.KindAzureWebApp,
		fields: []string{model.ParamAppName, model.ParamSlotName},
		fromInstance: func(i model.Instance) (Key, bool) {
			if i.AzureWebApp == nil || i.AzureWebApp.AppName == "" {
				return nil, false
			}
			return Key{
				model.ParamAppName:  i.AzureWebApp.AppName,
				model.ParamSlotName: i.AzureWebApp.SlotName,
			}, true
		},
		fromDeployment: func(s model.DeploymentSummary) (Key, bool) {
			if s.AzureWebApp == nil || s.AzureWebApp.AppName == "" {
				return nil, false
			}
			return Key{
				model.ParamAppName:  s.AzureWebApp.AppName,
				model.ParamSlotName: s.AzureWebApp.SlotName,
			}, true
		},
	})

	register(&Extractor{
		kind:   model.KindPcf,
		fields: []string{model.ParamApplicationName},
		fromInstance: func(i model.Instance) (Key, bool) {
			if i.Pcf == nil || i.Pcf.ApplicationName == "" {
				return nil, false
			}
			return Key{model.ParamApplicationName: i.Pcf.ApplicationName}, true
		},
		fromDeployment: func(s model.DeploymentSummary) (Key, bool) {
			if s.Pcf == nil || s.Pcf.ApplicationName == "" {
				return nil, false
			}
			return Key{model.ParamApplicationName: s.Pcf.ApplicationName}, true
		},
	})

	register(&Extractor{
		kind:   model.KindSpotinst,
		fields: []string{model.ParamElastigroupID},
		fromInstance: func(i model.Instance) (Key, bool) {
			if i.Spotinst == nil || i.Spotinst.ElastigroupID == "" {
				return nil, false
			}
			return Key{model.ParamElastigroupID: i.Spotinst.ElastigroupID}, true
		},
		fromDeployment: func(s model.DeploymentSummary) (Key, bool) {
			if s.Spotinst == nil || s.Spotinst.ElastigroupID == "" {
				return nil, false
			}
			return Key{model.ParamElastigroupID: s.Spotinst.ElastigroupID}, true
		},
	})

	register(&Extractor{
		kind:  model.KindCustom,
		scope: ScopePerMapping,
	})
}
