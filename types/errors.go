package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrInvalidParam       = errors.New("invalid parameter")
	ErrNotInitialized     = errors.New("not initialized")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotImplemented     = errors.New("not implemented")
	ErrInternal           = errors.New("internal error")
)

var (
	ErrEntryNotFound = errors.New("cache entry not found")
	ErrEntryExists   = errors.New("cache entry already exists")
	ErrCacheKeyEmpty = errors.New("cache key empty")
	ErrCacheFull     = errors.New("cache full")
	ErrTierUnknown   = errors.New("cache tier unknown")
	ErrTierDisabled  = errors.New("cache tier disabled")
)

var (
	ErrTimeout        = errors.New("operation timeout")
	ErrNetwork        = errors.New("network failure")
	ErrRemoteService  = errors.New("remote service failure")
	ErrPoolTimeout    = errors.New("connection pool checkout timeout")
	ErrPoolClosed     = errors.New("connection pool closed")
	ErrSchemaInvalid  = errors.New("remote schema invalid")
	ErrBackupDisabled = errors.New("persistence disabled for backup")
)

var (
	ErrStorage            = errors.New("storage failure")
	ErrInvalidFormat      = errors.New("invalid batch format")
	ErrBatchEmpty         = errors.New("batch is empty")
	ErrBatchNotFound      = errors.New("no batch file found")
	ErrStorageTypeUnknown = errors.New("storage type unknown")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrLogFileIsEmpty       = errors.New("log file is empty")
	ErrLogFileWrongFormat   = errors.New("log file wrong format")
	ErrLoggerConfigInvalid  = errors.New("logger config invalid")
	ErrMetricsIsDisabled    = errors.New("metrics manager is disabled")
)

var (
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
