package yaml

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// Quarantine moves filePath into <dataDir>/quarantine with a timestamped
// ".corrupt" suffix.
func Quarantine(dataDir, filePath string) (string, error) {
	quarantineDir := filepath.Join(dataDir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().Format("20060102T150405.000"))
	dst := filepath.Join(quarantineDir, name)
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}

	log.Printf("quarantined corrupted file: %s → %s", filePath, dst)
	return dst, nil
}

func RestoreFromBackup(filePath string) error {
	bakPath := filePath + ".bak"
	content, err := os.ReadFile(bakPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup YAML is also corrupted: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}

	log.Printf("restored from backup: %s → %s", bakPath, filePath)
	return nil
}

// GenerateSkeleton writes an empty file of fileType to filePath.
func GenerateSkeleton(filePath string, fileType string) error {
	content, err := yamlv3.Marshal(Skeleton(fileType))
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}

	log.Printf("generated skeleton: %s (type: %s)", filePath, fileType)
	return nil
}

// RecoverCorruptedFile quarantines filePath, then restores it from its
// backup or, failing that, from an empty skeleton.
func RecoverCorruptedFile(dataDir, filePath, fileType string) error {
	if _, err := Quarantine(dataDir, filePath); err != nil {
		return fmt.Errorf("quarantine failed: %w", err)
	}

	err := RestoreFromBackup(filePath)
	if err == nil {
		return nil
	}
	log.Printf("backup restore failed for %s: %v, falling back to skeleton", filePath, err)

	if err := GenerateSkeleton(filePath, fileType); err != nil {
		return fmt.Errorf("skeleton generation failed: %w", err)
	}
	return nil
}

// Skeleton returns the empty document for fileType.
func Skeleton(fileType string) map[string]any {
	doc := map[string]any{
		"schema_version": CurrentSchemaVersion,
		"file_type":      fileType,
	}
	switch fileType {
	case FileTypeApplications:
		doc["applications"] = []any{}
	case FileTypeEnvironments:
		doc["environments"] = []any{}
	case FileTypeServices:
		doc["services"] = []any{}
	case FileTypeInfraMappings:
		doc["infrastructure_mappings"] = []any{}
	case FileTypeInstances:
		doc["instances"] = []any{}
	case FileTypeDeploymentBatch:
		doc["app_id"] = ""
		doc["infra_mapping_id"] = ""
		doc["summaries"] = []any{}
	}
	return doc
}
