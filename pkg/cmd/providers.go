package cmd

import (
	"fmt"
	"log/slog"

	"github.com/pipecast/pipecast/pkg/config"
	"github.com/pipecast/pipecast/pkg/providers/research"
	"github.com/pipecast/pipecast/pkg/providers/social"
	"github.com/pipecast/pipecast/pkg/providers/textgen"
	"github.com/pipecast/pipecast/pkg/providers/videogen"
	"github.com/pipecast/pipecast/pkg/storage"
)

// Providers bundles every external integration the worker's stage engine
// depends on.
type Providers struct {
	Collectors *research.Registry
	Generator  textgen.Generator
	Renderer   videogen.Renderer
	Publishers *social.Registry
	Media      storage.MediaStore
}

// NewProviders wires the configured provider clients. Platforms and services
// without credentials are left out of their registries rather than failing
// startup; only a misconfigured media store is fatal.
func NewProviders(cfg *config.Config, logger *slog.Logger) *Providers {
	providers := &Providers{
		Collectors: research.DefaultRegistry(cfg.Research),
		Generator:  textgen.NewClient(cfg.TextGen),
		Renderer:   videogen.NewClient(cfg.VideoGen),
		Publishers: social.DefaultRegistry(cfg.Social),
	}

	if cfg.R2.BucketName != "" {
		media, err := storage.NewR2Store(cfg.R2)
		if err != nil {
			panic(fmt.Errorf("failed to initialize media store: %w", err))
		}

		providers.Media = media
	} else {
		logger.Warn("Media mirroring disabled, no R2 bucket configured")
	}

	logger.Info("Providers initialized",
		"collectors", providers.Collectors.Sources(),
		"platforms", providers.Publishers.Platforms(),
		"media_mirroring", providers.Media != nil,
	)

	return providers
}
