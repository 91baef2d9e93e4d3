package cloudinit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kdomanski/iso9660"
)

// VolumeLabel is the label cloud-init looks for on NoCloud seed volumes.
const VolumeLabel = "CIDATA"

// GenerateISO creates a NoCloud seed image holding user-data, meta-data and
// network-config in its root directory.
func GenerateISO(cfg *Config) ([]byte, error) {
	userData, err := GenerateUserData(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	metaData, err := GenerateMetaData(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	networkConfig, err := GenerateNetworkConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate network-config: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	files := []struct {
		name    string
		content string
	}{
		{"user-data", userData},
		{"meta-data", metaData},
		{"network-config", networkConfig},
	}
	for _, f := range files {
		if err := writer.AddFile(bytes.NewReader([]byte(f.content)), f.name); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.name, err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, VolumeLabel); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteISO generates the seed image and writes it to path. The image is
// written next to path first and renamed into place.
func WriteISO(cfg *Config, path string) error {
	data, err := GenerateISO(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write seed image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write seed image: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to finalize seed image: %w", err)
	}
	return nil
}
