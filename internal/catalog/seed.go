package catalog

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/teardown/internal/model"
)

// Creator inserts catalog devices.
type Creator interface {
	CreateDevice(ctx context.Context, d model.DeviceWithComponents) (*model.CatalogDevice, bool, error)
}

// SeedFile is the YAML layout accepted by Import.
type SeedFile struct {
	Devices []model.DeviceWithComponents `yaml:"devices"`
}

// ImportStats counts what Import did.
type ImportStats struct {
	Created int
	Skipped int
}

// Import reads a YAML seed file and inserts every device that is not
// already in the catalog. Seeded devices are curated and marked verified.
func Import(ctx context.Context, st Creator, r io.Reader) (ImportStats, error) {
	var f SeedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return ImportStats{}, eris.Wrap(err, "catalog: decode seed")
	}

	var stats ImportStats
	for i, d := range f.Devices {
		if d.Device.DeviceName == "" {
			return stats, eris.Errorf("catalog: seed device %d has no device_name", i)
		}
		for j := range d.Components {
			c := &d.Components[j]
			if !c.Category.Valid() {
				c.Category = model.CategoryOther
			}
			if !c.ExtractionDifficulty.Valid() {
				c.ExtractionDifficulty = model.DifficultyMedium
			}
			c.ReusabilityScore = min(max(c.ReusabilityScore, 1), 10)
		}
		d.Device.Verified = true

		dev, created, err := st.CreateDevice(ctx, d)
		if err != nil {
			return stats, eris.Wrapf(err, "catalog: import %s", d.Device.DeviceName)
		}
		if created {
			stats.Created++
		} else {
			stats.Skipped++
		}
		zap.L().Debug("seeded device",
			zap.String("device", dev.DeviceName),
			zap.String("id", dev.ID),
			zap.Bool("created", created),
		)
	}
	return stats, nil
}
