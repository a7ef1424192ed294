package model

import "time"

// InfrastructureMapping binds a service and environment to a deployment
// target. Fields after DisplayName are only meaningful for some kinds.
type InfrastructureMapping struct {
	ID          string `yaml:"id" json:"id"`
	AccountID   string `yaml:"account_id" json:"account_id"`
	AppID       string `yaml:"app_id" json:"app_id"`
	EnvID       string `yaml:"env_id" json:"env_id"`
	ServiceID   string `yaml:"service_id" json:"service_id"`
	Kind        Kind   `yaml:"kind" json:"kind"`
	DisplayName string `yaml:"display_name" json:"display_name"`

	Region         string `yaml:"region,omitempty" json:"region,omitempty"`
	ResourceGroup  string `yaml:"resource_group,omitempty" json:"resource_group,omitempty"`
	SubscriptionID string `yaml:"subscription_id,omitempty" json:"subscription_id,omitempty"`
	Organization   string `yaml:"organization,omitempty" json:"organization,omitempty"`
	Space          string `yaml:"space,omitempty" json:"space,omitempty"`
}

// Instance is one running unit reported by the instance inventory. Exactly
// one of the info variants is expected to be set.
type Instance struct {
	ID             string `yaml:"id" json:"id"`
	AccountID      string `yaml:"account_id" json:"account_id"`
	AppID          string `yaml:"app_id" json:"app_id"`
	InfraMappingID string `yaml:"infra_mapping_id" json:"infra_mapping_id"`

	Ec2              *Ec2InstanceInfo              `yaml:"ec2,omitempty" json:"ec2,omitempty"`
	AutoScalingGroup *AutoScalingGroupInstanceInfo `yaml:"auto_scaling_group,omitempty" json:"auto_scaling_group,omitempty"`
	CodeDeploy       *CodeDeployInstanceInfo       `yaml:"code_deploy,omitempty" json:"code_deploy,omitempty"`
	Lambda           *LambdaInstanceInfo           `yaml:"lambda,omitempty" json:"lambda,omitempty"`
	AzureVMSS        *AzureVMSSInstanceInfo        `yaml:"azure_vmss,omitempty" json:"azure_vmss,omitempty"`
	AzureWebApp      *AzureWebAppInstanceInfo      `yaml:"azure_webapp,omitempty" json:"azure_webapp,omitempty"`
	Pcf              *PcfInstanceInfo              `yaml:"pcf,omitempty" json:"pcf,omitempty"`
	Spotinst         *SpotinstInstanceInfo         `yaml:"spotinst,omitempty" json:"spotinst,omitempty"`
}

type Ec2InstanceInfo struct {
	InstanceID string `yaml:"instance_id" json:"instance_id"`
	HostName   string `yaml:"host_name" json:"host_name"`
}

type AutoScalingGroupInstanceInfo struct {
	InstanceID           string `yaml:"instance_id" json:"instance_id"`
	HostName             string `yaml:"host_name" json:"host_name"`
	AutoScalingGroupName string `yaml:"auto_scaling_group_name" json:"auto_scaling_group_name"`
}

type CodeDeployInstanceInfo struct {
	InstanceID   string `yaml:"instance_id" json:"instance_id"`
	DeploymentID string `yaml:"deployment_id" json:"deployment_id"`
}

type LambdaInstanceInfo struct {
	FunctionName string `yaml:"function_name" json:"function_name"`
	Version      string `yaml:"version" json:"version"`
}

type AzureVMSSInstanceInfo struct {
	VMID   string `yaml:"vm_id" json:"vm_id"`
	VMSSID string `yaml:"vmss_id" json:"vmss_id"`
}

type AzureWebAppInstanceInfo struct {
	InstanceID string `yaml:"instance_id" json:"instance_id"`
	AppName    string `yaml:"app_name" json:"app_name"`
	SlotName   string `yaml:"slot_name" json:"slot_name"`
}

type PcfInstanceInfo struct {
	ApplicationName string `yaml:"application_name" json:"application_name"`
	InstanceIndex   string `yaml:"instance_index" json:"instance_index"`
}

type SpotinstInstanceInfo struct {
	InstanceID    string `yaml:"instance_id" json:"instance_id"`
	ElastigroupID string `yaml:"elastigroup_id" json:"elastigroup_id"`
}

// DeploymentSummary records one completed deployment. Exactly one of the
// deployment-info variants is expected to be set.
type DeploymentSummary struct {
	ID             string    `yaml:"id" json:"id"`
	AccountID      string    `yaml:"account_id" json:"account_id"`
	AppID          string    `yaml:"app_id" json:"app_id"`
	InfraMappingID string    `yaml:"infra_mapping_id" json:"infra_mapping_id"`
	DeployedAt     time.Time `yaml:"deployed_at,omitempty" json:"deployed_at,omitempty"`

	AutoScalingGroup *AutoScalingGroupDeploymentInfo `yaml:"auto_scaling_group,omitempty" json:"auto_scaling_group,omitempty"`
	CodeDeploy       *CodeDeployDeploymentInfo       `yaml:"code_deploy,omitempty" json:"code_deploy,omitempty"`
	Lambda           *LambdaDeploymentInfo           `yaml:"lambda,omitempty" json:"lambda,omitempty"`
	AzureVMSS        *AzureVMSSDeploymentInfo        `yaml:"azure_vmss,omitempty" json:"azure_vmss,omitempty"`
	AzureWebApp      *AzureWebAppDeploymentInfo      `yaml:"azure_webapp,omitempty" json:"azure_webapp,omitempty"`
	Pcf              *PcfDeploymentInfo              `yaml:"pcf,omitempty" json:"pcf,omitempty"`
	Spotinst         *SpotinstDeploymentInfo         `yaml:"spotinst,omitempty" json:"spotinst,omitempty"`
	Custom           *CustomDeploymentInfo           `yaml:"custom,omitempty" json:"custom,omitempty"`
	Ssh              *SshDeploymentInfo              `yaml:"ssh,omitempty" json:"ssh,omitempty"`
}

type AutoScalingGroupDeploymentInfo struct {
	AutoScalingGroupName string `yaml:"auto_scaling_group_name" json:"auto_scaling_group_name"`
}

type CodeDeployDeploymentInfo struct {
	DeploymentID    string `yaml:"deployment_id" json:"deployment_id"`
	DeploymentGroup string `yaml:"deployment_group,omitempty" json:"deployment_group,omitempty"`
}

type LambdaDeploymentInfo struct {
	FunctionName string `yaml:"function_name" json:"function_name"`
	Version      string `yaml:"version" json:"version"`
}

type AzureVMSSDeploymentInfo struct {
	VMSSID   string `yaml:"vmss_id" json:"vmss_id"`
	VMSSName string `yaml:"vmss_name,omitempty" json:"vmss_name,omitempty"`
}

type AzureWebAppDeploymentInfo struct {
	AppName  string `yaml:"app_name" json:"app_name"`
	SlotName string `yaml:"slot_name" json:"slot_name"`
}

type PcfDeploymentInfo struct {
	ApplicationName string `yaml:"application_name" json:"application_name"`
	ApplicationGUID string `yaml:"application_guid,omitempty" json:"application_guid,omitempty"`
}

type SpotinstDeploymentInfo struct {
	ElastigroupID   string `yaml:"elastigroup_id" json:"elastigroup_id"`
	ElastigroupName string `yaml:"elastigroup_name,omitempty" json:"elastigroup_name,omitempty"`
}

type CustomDeploymentInfo struct {
	InstanceFetchScript string `yaml:"instance_fetch_script,omitempty" json:"instance_fetch_script,omitempty"`
	Tag                 string `yaml:"tag,omitempty" json:"tag,omitempty"`
}

type SshDeploymentInfo struct {
	HostNames []string `yaml:"host_names,omitempty" json:"host_names,omitempty"`
}

// DeploymentBatch is the intake file format: summaries for one mapping.
type DeploymentBatch struct {
	SchemaVersion  int                 `yaml:"schema_version"`
	FileType       string              `yaml:"file_type"`
	AppID          string              `yaml:"app_id"`
	InfraMappingID string              `yaml:"infra_mapping_id"`
	Summaries      []DeploymentSummary `yaml:"summaries"`
}
