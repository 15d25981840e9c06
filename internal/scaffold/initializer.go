package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/augur/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// CatalogFile is the catalog name written by Initialize.
const CatalogFile = "augur.yml"

// CheckExisting returns an error if dir already holds a catalog.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, CatalogFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("catalog already exists: %s", path)
	}
	return nil
}

// Initialize writes the starter catalog into dir and returns its path.
// If force is true an existing catalog is overwritten.
func Initialize(dir string, force bool) (string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return "", err
		}
	}

	content, err := templatesFS.ReadFile("templates/augur.yml.tmpl")
	if err != nil {
		return "", fmt.Errorf("failed to read catalog template: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, CatalogFile)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	// The template must always load; a failure here is a template bug.
	if _, err := config.Load(path); err != nil {
		return "", fmt.Errorf("created catalog is invalid: %w", err)
	}

	return path, nil
}
