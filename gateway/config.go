// Package gateway implements the spec's external entry point: decode an
// incoming GraphQL request, run it through Parse → Plan → Execute, and
// encode the {data, errors} envelope back (spec §6).
package gateway

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// GatewayService configures one location Compose merges into the
// Supergraph: its schema (inline files, or fetched by introspection from
// Host when SchemaFiles is empty) and the host it is dispatched to at
// request time.
type GatewayService struct {
	Name        string      `yaml:"name"`
	Host        string      `yaml:"host"`
	SchemaFiles []string    `yaml:"schema_files"`
	Retry       RetryOption `yaml:"retry"`
}

// GatewayOption is the top-level gateway.yaml shape, grounded on the
// teacher's GatewayOption (server/gateway.go's loadGatewaySetting).
type GatewayOption struct {
	Endpoint        string               `yaml:"endpoint"`
	ServiceName     string               `yaml:"service_name"`
	Port            int                  `yaml:"port"`
	TimeoutDuration string               `yaml:"timeout_duration" default:"5s"`
	EnableRequestID bool                 `yaml:"enable_request_id" default:"true"`
	Validate        bool                 `yaml:"validate" default:"true"`
	PlanCacheSize   int                  `yaml:"plan_cache_size"`
	Services        []GatewayService     `yaml:"services"`
	Opentelemetry   OpentelemetrySetting `yaml:"opentelemetry"`
}

// OpentelemetrySetting mirrors the teacher's nested tracing toggle.
type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

type OpentelemetryTracingSetting struct {
	Enable bool `yaml:"enable" default:"false"`
}

// LoadConfig reads and unmarshals a gateway.yaml file at path, following the
// teacher's server.loadGatewaySetting (now owned by the gateway package
// itself, since the façade is what needs the settings).
func LoadConfig(path string) (*GatewayOption, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gateway settings file: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway settings file: %w", err)
	}

	var settings GatewayOption
	if err := yaml.Unmarshal(b, &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gateway settings: %w", err)
	}

	return &settings, nil
}
