package session

import (
	"context"
	"fmt"

	"github.com/19Mahmoud19/joplin/internal/config"
	"github.com/19Mahmoud19/joplin/internal/driver"
	"github.com/19Mahmoud19/joplin/internal/driver/fsdriver"
	"github.com/19Mahmoud19/joplin/internal/driver/s3driver"
	"github.com/19Mahmoud19/joplin/internal/driver/serverdriver"
)

// NewDriver builds the backend described by the target config.
func NewDriver(ctx context.Context, cfg *config.TargetConfig) (driver.Driver, error) {
	switch cfg.Type {
	case config.TargetServer:
		client, err := serverdriver.NewClient(&cfg.Server)
		if err != nil {
			return nil, fmt.Errorf("server client: %w", err)
		}
		return serverdriver.New(client), nil
	case config.TargetS3:
		d, err := s3driver.NewWithConfig(ctx, &cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		return d, nil
	case config.TargetFilesystem:
		return fsdriver.NewOS(cfg.Filesystem.Root), nil
	case config.TargetMemory:
		return fsdriver.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown target type %q", cfg.Type)
}
