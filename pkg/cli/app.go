package cli

import (
	"fmt"

	"github.com/localserve/devsup/pkg/models"
	"github.com/localserve/devsup/pkg/ports"
	"github.com/localserve/devsup/pkg/prereq"
	"github.com/localserve/devsup/pkg/registry"
)

// App is the main application handler
type App struct {
	config   models.ConfigPaths
	registry *registry.Registry
}

// NewApp creates and initializes the application
func NewApp() (*App, error) {
	config, err := models.GetConfigPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get config paths: %w", err)
	}
	if err := config.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to create config directories: %w", err)
	}

	reg := registry.NewRegistry(config.RegistryFile, ports.NewProbe(), prereq.NewRunner())
	if err := reg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	return &App{
		config:   config,
		registry: reg,
	}, nil
}

// Registry exposes the service registry for the API server.
func (a *App) Registry() *registry.Registry {
	return a.registry
}
