// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	v1 "github.com/fleetsim/fleetctl/internal/storage/memory/export/v1"
)

// ExportedFilePath returns the path of the last export, empty before EndRun.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// exportJSON writes the run data to a JSON file, gzipped when configured
func (b *Backend) exportJSON() error {
	export := v1.Build(&v1.RunData{
		Run:            b.run,
		Summary:        b.summary,
		Vehicles:       b.vehicles,
		FacilityEvents: b.facilityEvents,
	})

	// Build filename
	name := "run"
	start := time.Now()
	if b.run != nil {
		if b.run.Name != "" {
			name = b.run.Name
		}
		if !b.run.StartTime.IsZero() {
			start = b.run.StartTime
		}
	}
	name = strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(name)
	filename := fmt.Sprintf("%s_%s.json", name, start.Format("20060102_150405"))
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write file
	write := writeJSON
	if b.cfg.CompressOutput {
		write = writeGzipJSON
	}
	if err := write(outputPath, export); err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func writeJSON(path string, data v1.Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data v1.Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}
