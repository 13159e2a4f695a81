package main

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/internal/codex"
	"github.com/grovetools/remote-panel/schema"
	"github.com/invopop/jsonschema"
)

// settingsSchema describes panel.yml. Field names follow the yaml tags and
// nothing is required, since every setting has a default.
func settingsSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}
	s := r.Reflect(&config.Settings{})
	s.Title = "Remote Panel Configuration"
	s.Description = "Schema for panel.yml and panel.toml."
	s.Required = nil
	return json.MarshalIndent(s, "", "  ")
}

func main() {
	outputDir := "schema/definitions"
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		log.Fatalf("Error creating schema directory: %v", err)
	}

	settings, err := settingsSchema()
	if err != nil {
		log.Fatalf("Error generating settings schema: %v", err)
	}
	registry, err := schema.Reflect(&codex.Registry{}, "Codex Session Registry")
	if err != nil {
		log.Fatalf("Error generating registry schema: %v", err)
	}

	for name, data := range map[string][]byte{
		"panel.schema.json":          settings,
		"codex-sessions.schema.json": registry,
	} {
		outputPath := filepath.Join(outputDir, name)
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			log.Fatalf("Error writing schema file: %v", err)
		}
		log.Printf("Successfully generated %s", outputPath)
	}
}
