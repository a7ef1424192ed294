package yaml

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateSchemaHeader_Valid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")

	content := []byte("schema_version: 1\nfile_type: deployment_batch\nsummaries: []\n")
	os.WriteFile(path, content, 0644)

	if err := ValidateSchemaHeader(path, FileTypeDeploymentBatch); err != nil {
		t.Errorf("expected valid, got error: %v", err)
	}
}

func TestValidateSchemaHeader_AllFileTypes(t *testing.T) {
	fileTypes := []string{
		FileTypeApplications, FileTypeEnvironments, FileTypeServices,
		FileTypeInfraMappings, FileTypeInstances, FileTypeDeploymentBatch,
	}

	for _, ft := range fileTypes {
		t.Run(ft, func(t *testing.T) {
			content := []byte("schema_version: 1\nfile_type: " + ft + "\n")
			if err := ValidateSchemaHeaderFromBytes(content, ft); err != nil {
				t.Errorf("expected valid for %q, got error: %v", ft, err)
			}
		})
	}
}

func TestValidateSchemaHeader_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{"unsupported version", "schema_version: 99\nfile_type: deployment_batch\n", FileTypeDeploymentBatch},
		{"negative version", "schema_version: -1\nfile_type: deployment_batch\n", FileTypeDeploymentBatch},
		{"missing version", "file_type: deployment_batch\n", FileTypeDeploymentBatch},
		{"missing file type", "schema_version: 1\n", FileTypeDeploymentBatch},
		{"unknown file type", "schema_version: 1\nfile_type: queue_task\n", "queue_task"},
		{"file type mismatch", "schema_version: 1\nfile_type: catalog_instances\n", FileTypeDeploymentBatch},
		{"not yaml", "schema_version: [\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateSchemaHeaderFromBytes([]byte(tt.content), tt.expected); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidateSchemaHeader_EmptyExpectedType(t *testing.T) {
	content := []byte("schema_version: 1\nfile_type: catalog_services\n")
	if err := ValidateSchemaHeaderFromBytes(content, ""); err != nil {
		t.Errorf("expected valid when no expected type specified, got: %v", err)
	}
}
