package vector

import (
	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/status"
)

// NewProvider builds the provider named by the configuration.
func NewProvider(cfg config.VectorDBConfig) (Provider, error) {
	switch cfg.Provider {
	case "memory":
		return NewMemoryProvider(), nil
	case "chromem", "":
		return NewChromemProvider(cfg.Path)
	case "qdrant":
		return NewQdrantProvider(QdrantConfig{
			Host:   cfg.Host,
			Port:   cfg.Port,
			APIKey: cfg.APIKey,
			UseTLS: cfg.UseTLS,
		})
	}
	return nil, status.InvalidArgument("unknown vector provider: %s", cfg.Provider)
}
