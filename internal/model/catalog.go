package model

// Application, Environment and Service are the named entities a task
// description refers to.
type Application struct {
	ID        string `yaml:"id" json:"id"`
	AccountID string `yaml:"account_id" json:"account_id"`
	Name      string `yaml:"name" json:"name"`
}

type Environment struct {
	ID    string `yaml:"id" json:"id"`
	AppID string `yaml:"app_id" json:"app_id"`
	Name  string `yaml:"name" json:"name"`
}

type Service struct {
	ID    string `yaml:"id" json:"id"`
	AppID string `yaml:"app_id" json:"app_id"`
	Name  string `yaml:"name" json:"name"`
}

// Catalog file bodies. Each file carries the common schema header.

type ApplicationsFile struct {
	SchemaVersion int           `yaml:"schema_version"`
	FileType      string        `yaml:"file_type"`
	Applications  []Application `yaml:"applications"`
}

type EnvironmentsFile struct {
	SchemaVersion int           `yaml:"schema_version"`
	FileType      string        `yaml:"file_type"`
	Environments  []Environment `yaml:"environments"`
}

type ServicesFile struct {
	SchemaVersion int       `yaml:"schema_version"`
	FileType      string    `yaml:"file_type"`
	Services      []Service `yaml:"services"`
}

type InfraMappingsFile struct {
	SchemaVersion int                     `yaml:"schema_version"`
	FileType      string                  `yaml:"file_type"`
	Mappings      []InfrastructureMapping `yaml:"infrastructure_mappings"`
}

type InstancesFile struct {
	SchemaVersion int        `yaml:"schema_version"`
	FileType      string     `yaml:"file_type"`
	Instances     []Instance `yaml:"instances"`
}
