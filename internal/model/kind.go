package model

import "fmt"

// Kind is the infrastructure kind of a mapping. It selects the identity
// schema and the perpetual task type used for instance sync.
type Kind string

const (
	KindAwsAmi        Kind = "aws_ami"
	KindAwsCodeDeploy Kind = "aws_codedeploy"
	KindAwsLambda     Kind = "aws_lambda"
	KindAwsSsh        Kind = "aws_ssh"
	KindAzureVMSS     Kind = "azure_vmss"
	KindAzureWebApp   Kind = "azure_webapp"
	KindPcf           Kind = "pcf"
	KindSpotinst      Kind = "spotinst"
	KindCustom        Kind = "custom"
)

// TaskType is the perpetual task type registered for a kind.
type TaskType string

const (
	TaskTypeAwsAmiInstanceSync        TaskType = "AWS_AMI_INSTANCE_SYNC"
	TaskTypeAwsCodeDeployInstanceSync TaskType = "AWS_CODE_DEPLOY_INSTANCE_SYNC"
	TaskTypeAwsLambdaInstanceSync     TaskType = "AWS_LAMBDA_INSTANCE_SYNC"
	TaskTypeAwsSshInstanceSync        TaskType = "AWS_SSH_INSTANCE_SYNC"
	TaskTypeAzureVMSSInstanceSync     TaskType = "AZURE_VMSS_INSTANCE_SYNC"
	TaskTypeAzureWebAppInstanceSync   TaskType = "AZURE_WEB_APP_INSTANCE_SYNC"
	TaskTypePcfInstanceSync           TaskType = "PCF_INSTANCE_SYNC"
	TaskTypeSpotinstAmiInstanceSync   TaskType = "SPOT_INST_AMI_INSTANCE_SYNC"
	TaskTypeCustomDeploymentSync      TaskType = "CUSTOM_DEPLOYMENT_INSTANCE_SYNC"
)

var kindTaskTypes = map[Kind]TaskType{
	KindAwsAmi:        TaskTypeAwsAmiInstanceSync,
	KindAwsCodeDeploy: TaskTypeAwsCodeDeployInstanceSync,
	KindAwsLambda:     TaskTypeAwsLambdaInstanceSync,
	KindAwsSsh:        TaskTypeAwsSshInstanceSync,
	KindAzureVMSS:     TaskTypeAzureVMSSInstanceSync,
	KindAzureWebApp:   TaskTypeAzureWebAppInstanceSync,
	KindPcf:           TaskTypePcfInstanceSync,
	KindSpotinst:      TaskTypeSpotinstAmiInstanceSync,
	KindCustom:        TaskTypeCustomDeploymentSync,
}

// Kinds returns all supported kinds in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindAwsAmi, KindAwsCodeDeploy, KindAwsLambda, KindAwsSsh,
		KindAzureVMSS, KindAzureWebApp, KindPcf, KindSpotinst, KindCustom,
	}
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kindTaskTypes[k]; !ok {
		return "", fmt.Errorf("unknown infrastructure kind: %q", s)
	}
	return k, nil
}

// TaskTypeFor returns the task type for k, or false if k is not supported.
func TaskTypeFor(k Kind) (TaskType, bool) {
	tt, ok := kindTaskTypes[k]
	return tt, ok
}
