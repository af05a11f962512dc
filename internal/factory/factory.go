package factory

import (
	"fmt"

	"github.com/anime-shed/image-classifier-go/internal/config"
	"github.com/anime-shed/image-classifier-go/internal/storage"
	"github.com/anime-shed/image-classifier-go/pkg/validation"
)

// StorageType represents different types of artifact backends
type StorageType string

const (
	// HTTPStorage for artifacts served over HTTP(S)
	HTTPStorage StorageType = config.SourceHTTP
	// AzureStorage for Azure blob storage
	AzureStorage StorageType = config.SourceAzure
	// LocalStorage for the local file system
	LocalStorage StorageType = config.SourceLocal
)

// StorageFactory creates artifact stores
type StorageFactory interface {
	CreateStorage(storageType StorageType) (storage.ArtifactStore, error)
	Storage() (storage.ArtifactStore, error)
}

// storageFactory implements StorageFactory
type storageFactory struct {
	cfg *config.Config
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(cfg *config.Config) StorageFactory {
	return &storageFactory{cfg: cfg}
}

// CreateStorage creates a storage implementation based on the specified type
func (f *storageFactory) CreateStorage(storageType StorageType) (storage.ArtifactStore, error) {
	switch storageType {
	case HTTPStorage:
		if err := validation.NewURLValidator().ValidateBaseURL(f.cfg.WeightsURL); err != nil {
			return nil, fmt.Errorf("invalid WEIGHTS_URL: %w", err)
		}
		return storage.NewHTTPStore(f.cfg.WeightsURL), nil
	case AzureStorage:
		store, err := storage.NewAzureStore(f.cfg.AzureAccount, f.cfg.AzureKey, f.cfg.AzureContainer)
		if err != nil {
			return nil, err
		}
		return store, nil
	case LocalStorage:
		return storage.NewLocalStore(f.cfg.ModelDir), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// Storage returns the store configured by WEIGHTS_SOURCE.
func (f *storageFactory) Storage() (storage.ArtifactStore, error) {
	return f.CreateStorage(StorageType(f.cfg.WeightsSource))
}
