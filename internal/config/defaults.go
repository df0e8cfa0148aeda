package config

// defaultFileConfig returns the configuration used when no file is present
// and no environment override applies, mirroring the teacher's
// ConfigManager.defaultConfig layering of defaults before file/env.
func defaultFileConfig() FileConfig {
	return FileConfig{
		Port:                  8080,
		AdminPort:             8081,
		Debug:                 false,
		LogFile:               "",
		StorageBackend:        "file",
		StorageDir:            "./data",
		RedisDB:               0,
		DefaultSelection:      DefaultSelectionConfig(),
		ProviderOverrides:     map[string]ProviderOverride{},
		ModelRoutes:           nil,
		DefaultProvider:       "kiro",
		Retry:                 DefaultRetryConfig(),
		Background:            DefaultBackgroundConfig(),
		Health:                DefaultHealthConfig(),
		DisableCredentialLock: false,
		ConfigCacheTTLSeconds: 60,
	}
}
