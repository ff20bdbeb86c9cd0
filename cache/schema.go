package cache

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-translation-cache/types"
)

// SchemaVersion is the layout version this build writes. The persisted
// version key is read at startup; older stores are migrated forward one step
// at a time, newer stores are rejected.
const SchemaVersion uint32 = 2

const (
	schemaVersionKey = "schema:version"
	schemaMetaKey    = "schema:meta"
)

type migration struct {
	to    uint32
	apply func(ctx context.Context, conn *redis.Conn, prefix string) error
}

// Each step is a single idempotent write so a crash mid-chain re-runs
// cleanly.
var migrations = []migration{
	{
		// v1 -> v2: entries gained a metadata envelope; record the codec so
		// mixed-version readers can tell the payloads apart.
		to: 2,
		apply: func(ctx context.Context, conn *redis.Conn, prefix string) error {
			return conn.HSet(ctx, prefix+":"+schemaMetaKey,
				"codec", "json",
				"envelope", "metadata").Err()
		},
	},
}

// ensureSchema reads the persisted version and walks the migration chain up
// to SchemaVersion. Returns the resulting version.
func ensureSchema(ctx context.Context, conn *redis.Conn, prefix string, logger types.Logger) (uint32, error) {
	versionKey := prefix + ":" + schemaVersionKey

	raw, err := conn.Get(ctx, versionKey).Result()
	if err != nil && !types.IsError(err, redis.Nil) {
		return 0, types.WrapError(err, "failed to read schema version")
	}

	if types.IsError(err, redis.Nil) {
		if err := conn.HSet(ctx, prefix+":"+schemaMetaKey,
			"codec", "json",
			"envelope", "metadata").Err(); err != nil {
			return 0, types.WrapError(err, "failed to initialize schema meta")
		}
		if err := conn.Set(ctx, versionKey, strconv.FormatUint(uint64(SchemaVersion), 10), 0).Err(); err != nil {
			return 0, types.WrapError(err, "failed to initialize schema version")
		}
		if logger != nil {
			logger.Info("Initialized remote schema", zap.Uint32("version", SchemaVersion))
		}
		return SchemaVersion, nil
	}

	parsed, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, types.Errorf(types.ErrSchemaInvalid, "unparseable version %q", raw)
	}
	current := uint32(parsed)

	if current > SchemaVersion {
		return 0, types.Errorf(types.ErrSchemaInvalid, "store version %d is newer than supported %d", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.to <= current {
			continue
		}
		if err := m.apply(ctx, conn, prefix); err != nil {
			return current, types.WrapError(err, "schema migration to v"+strconv.FormatUint(uint64(m.to), 10)+" failed")
		}
		if err := conn.Set(ctx, versionKey, strconv.FormatUint(uint64(m.to), 10), 0).Err(); err != nil {
			return current, types.WrapError(err, "failed to persist migrated schema version")
		}
		if logger != nil {
			logger.Info("Applied schema migration",
				zap.Uint32("from", current),
				zap.Uint32("to", m.to))
		}
		current = m.to
	}

	if err := validateSchema(ctx, conn, prefix); err != nil {
		return current, err
	}

	return current, nil
}

// validateSchema checks that the meta keys every reader relies on are in
// place. They are written by init and by the migration chain, so a miss here
// means the store was tampered with out of band.
func validateSchema(ctx context.Context, conn *redis.Conn, prefix string) error {
	exists, err := conn.HExists(ctx, prefix+":"+schemaMetaKey, "codec").Result()
	if err != nil {
		return types.WrapError(err, "failed to validate schema meta")
	}
	if !exists {
		return types.Errorf(types.ErrSchemaInvalid, "schema meta missing codec field")
	}
	return nil
}
