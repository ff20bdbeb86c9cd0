package storage

import (
	"context"

	"github.com/saiset-co/sai-translation-cache/types"
)

// BackupHookSetter is implemented by backends that can chain the remote
// tier's snapshot into their SaveAll.
type BackupHookSetter interface {
	SetBackupHook(hook func(ctx context.Context, path string) error)
}

// NewPersistentStore builds the backend selected by config type. "batch" is
// the default.
func NewPersistentStore(config *types.StorageConfig, defaultTTLMS uint32, logger types.Logger, clock types.Clock) (types.PersistentStore, error) {
	if config == nil || !config.Enabled {
		return nil, types.Errorf(types.ErrTierDisabled, "persistent tier")
	}

	storageType := config.Type
	if storageType == "" {
		storageType = "batch"
	}

	switch storageType {
	case "batch":
		return NewBatchStore(config, defaultTTLMS, logger, clock)
	case "sqlite":
		return NewSqliteStore(config, defaultTTLMS, logger, clock)
	case "clover":
		return NewCloverStore(config, defaultTTLMS, logger, clock)
	default:
		return nil, types.Errorf(types.ErrStorageTypeUnknown, "type: %s", storageType)
	}
}
