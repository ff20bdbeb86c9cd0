package types

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Server      *ServerConfig      `yaml:"server" json:"server"`
	Health      *HealthConfig      `yaml:"health" json:"health"`
	Cache       *CacheLayerConfig  `yaml:"cache" json:"cache"`
	Maintenance *MaintenanceConfig `yaml:"maintenance" json:"maintenance"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{} `yaml:"config" json:"config"`
}

type ServerConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type HealthConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	CheckInterval int  `yaml:"check_interval" json:"check_interval"`
}

// CacheLayerConfig configures the multi-tier cache. The memory tier is always
// present; the remote and storage tiers are optional.
type CacheLayerConfig struct {
	DefaultTTLMS uint32         `yaml:"default_ttl_ms" json:"default_ttl_ms"`
	Keys         *KeyConfig     `yaml:"keys" json:"keys"`
	Memory       *MemoryConfig  `yaml:"memory" json:"memory" validate:"required"`
	Remote       *RemoteConfig  `yaml:"remote" json:"remote"`
	Storage      *StorageConfig `yaml:"storage" json:"storage"`
}

type KeyConfig struct {
	Method           KeyMethod `yaml:"method" json:"method"`
	Seed             uint32    `yaml:"seed" json:"seed"`
	NormalizeText    bool      `yaml:"normalize_text" json:"normalize_text"`
	IncludeTimestamp bool      `yaml:"include_timestamp" json:"include_timestamp"`
}

type MemoryConfig struct {
	MaxEntries        uint32         `yaml:"max_entries" json:"max_entries" validate:"required,min=1"`
	Policy            EvictionPolicy `yaml:"policy" json:"policy"`
	EvictionBatchSize uint32         `yaml:"eviction_batch_size" json:"eviction_batch_size"`
	MinFreeEntries    uint32         `yaml:"min_free_entries" json:"min_free_entries"`
	AutoExtendTTL     bool           `yaml:"auto_extend_ttl" json:"auto_extend_ttl"`
	TTLExtensionMS    uint32         `yaml:"ttl_extension_ms" json:"ttl_extension_ms"`
	MaxTTLMS          uint32         `yaml:"max_ttl_ms" json:"max_ttl_ms"`
	RandomSeed        int64          `yaml:"random_seed" json:"random_seed"`
}

type RemoteConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	Host        string        `yaml:"host" json:"host"`
	Port        int           `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	Password    string        `yaml:"password" json:"password"`
	DB          int           `yaml:"db" json:"db"`
	PoolSize    uint32        `yaml:"pool_size" json:"pool_size"`
	TimeoutMS   uint32        `yaml:"timeout_ms" json:"timeout_ms"`
	KeyPrefix   string        `yaml:"key_prefix" json:"key_prefix"`
	EnableTLS   bool          `yaml:"enable_tls" json:"enable_tls"`
	TLSCertFile string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	Schema      *SchemaConfig `yaml:"schema" json:"schema"`
}

type SchemaConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	SnapshotFilename string `yaml:"snapshot_filename" json:"snapshot_filename"`
	SaveIntervalS    uint32 `yaml:"save_interval_s" json:"save_interval_s"`
	MinChanges       uint32 `yaml:"min_changes" json:"min_changes"`
}

type StorageConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	Type              string `yaml:"type" json:"type"`
	Path              string `yaml:"path" json:"path"`
	MaxBatchSize      uint32 `yaml:"max_batch_size" json:"max_batch_size"`
	EnableCompression bool   `yaml:"enable_compression" json:"enable_compression"`
	EnableAutoSave    bool   `yaml:"enable_auto_save" json:"enable_auto_save"`
	TimeoutMS         uint32 `yaml:"timeout_ms" json:"timeout_ms"`
}

type MaintenanceConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	SweepSchedule    string `yaml:"sweep_schedule" json:"sweep_schedule"`
	AutoSaveSchedule string `yaml:"auto_save_schedule" json:"auto_save_schedule"`
	Timezone         string `yaml:"timezone" json:"timezone"`
	JobTimeout       int    `yaml:"job_timeout" json:"job_timeout"`
}
