package model

import (
	"sort"
	"strings"
)

// Reserved client-context parameter names.
const (
	ParamAccountID       = "HARNESS_ACCOUNT_ID"
	ParamApplicationID   = "HARNESS_APPLICATION_ID"
	ParamEnvID           = "HARNESS_ENV_ID"
	ParamInfraMappingID  = "INFRASTRUCTURE_MAPPING_ID"
	ParamStartDate       = "START_DATE"
	ParamAsgName         = "asgName"
	ParamCodeDeployID    = "codeDeployDeploymentId"
	ParamFunctionName    = "functionName"
	ParamQualifier       = "qualifier"
	ParamVMSSID          = "vmssId"
	ParamAppName         = "appName"
	ParamSlotName        = "slotName"
	ParamApplicationName = "applicationName"
	ParamElastigroupID   = "elastigroupId"
)

// auxiliaryParams carry data for the polling task but never take part in
// identity comparison.
var auxiliaryParams = map[string]bool{
	ParamStartDate: true,
}

func IsAuxiliaryParam(name string) bool {
	return auxiliaryParams[name]
}

// ClientContext is the parameter map attached to a perpetual task.
type ClientContext struct {
	Params map[string]string `yaml:"params" json:"params"`
}

func NewClientContext(params map[string]string) ClientContext {
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return ClientContext{Params: cp}
}

func (c ClientContext) Get(name string) string {
	if c.Params == nil {
		return ""
	}
	return c.Params[name]
}

// IdentityKey returns a canonical string over all non-auxiliary params.
// Two contexts describe the same pollable unit iff their keys are equal.
func (c ClientContext) IdentityKey() string {
	names := make([]string, 0, len(c.Params))
	for k := range c.Params {
		if auxiliaryParams[k] {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(c.Params[k])
	}
	return b.String()
}
