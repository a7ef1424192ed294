package yaml

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

const CurrentSchemaVersion = 1

// File types understood by instsync.
const (
	FileTypeApplications    = "catalog_applications"
	FileTypeEnvironments    = "catalog_environments"
	FileTypeServices        = "catalog_services"
	FileTypeInfraMappings   = "catalog_infra_mappings"
	FileTypeInstances       = "catalog_instances"
	FileTypeDeploymentBatch = "deployment_batch"
)

var validFileTypes = map[string]bool{
	FileTypeApplications:    true,
	FileTypeEnvironments:    true,
	FileTypeServices:        true,
	FileTypeInfraMappings:   true,
	FileTypeInstances:       true,
	FileTypeDeploymentBatch: true,
}

type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

func ValidateSchemaHeader(path string, expectedFileType string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return ValidateSchemaHeaderFromBytes(content, expectedFileType)
}

func ValidateSchemaHeaderFromBytes(content []byte, expectedFileType string) error {
	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	switch {
	case header.SchemaVersion < 1:
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", header.SchemaVersion)
	case header.SchemaVersion > CurrentSchemaVersion:
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", header.SchemaVersion, CurrentSchemaVersion)
	case header.FileType == "":
		return fmt.Errorf("missing file_type")
	case !validFileTypes[header.FileType]:
		return fmt.Errorf("unknown file_type: %q", header.FileType)
	case expectedFileType != "" && header.FileType != expectedFileType:
		return fmt.Errorf("file_type mismatch: got %q, expected %q", header.FileType, expectedFileType)
	}
	return nil
}

// Load validates the header of path against fileType and decodes it into v.
func Load(path, fileType string, v any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := yamlv3.Unmarshal(content, v); err != nil {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	return nil
}
