package config

import (
	"reflect"
	"strings"
	"sync"
)

// EnvMapping represents a mapping between an external key (environment
// variable or CLI flag) and a config path.
type EnvMapping struct {
	EnvVar     string
	ConfigPath string
}

var (
	cachedEnvMappings  []EnvMapping
	cachedFlagMappings []EnvMapping
	mappingsOnce       sync.Once
)

func loadMappings() {
	mappingsOnce.Do(func() {
		t := reflect.TypeOf(Config{})
		cachedEnvMappings = extractMappings(t, "", "env")
		cachedFlagMappings = extractMappings(t, "", "flag")
	})
}

// GenerateEnvMappings generates environment variable mappings from config struct tags
func GenerateEnvMappings() []EnvMapping {
	loadMappings()
	return cachedEnvMappings
}

// GenerateFlagMappings generates CLI flag mappings from config struct tags.
func GenerateFlagMappings() []EnvMapping {
	loadMappings()
	return cachedFlagMappings
}

// extractMappings recursively collects the given tag from struct fields
func extractMappings(t reflect.Type, prefix, tag string) []EnvMapping {
	var mappings []EnvMapping
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		koanfTag := field.Tag.Get("koanf")
		if koanfTag == "" || koanfTag == "-" {
			continue
		}
		configPath := koanfTag
		if prefix != "" {
			configPath = prefix + "." + koanfTag
		}
		if name := field.Tag.Get(tag); name != "" && name != "-" {
			mappings = append(mappings, EnvMapping{EnvVar: name, ConfigPath: configPath})
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			mappings = append(mappings, extractMappings(field.Type, configPath, tag)...)
		}
	}
	return mappings
}

// GenerateEnvToConfigMap generates a map from env var to config path
func GenerateEnvToConfigMap() map[string]string {
	return toMap(GenerateEnvMappings())
}

// GenerateFlagToConfigMap generates a map from flag name to config path.
func GenerateFlagToConfigMap() map[string]string {
	return toMap(GenerateFlagMappings())
}

func toMap(mappings []EnvMapping) map[string]string {
	result := make(map[string]string, len(mappings))
	for _, m := range mappings {
		result[m.EnvVar] = m.ConfigPath
	}
	return result
}

// GetEnvVarForConfigPath returns the environment variable for a given config path
func GetEnvVarForConfigPath(configPath string) string {
	for _, m := range GenerateEnvMappings() {
		if m.ConfigPath == configPath {
			return m.EnvVar
		}
	}
	return ""
}

// IsSensitiveConfigPath checks if a config path is marked as sensitive
func IsSensitiveConfigPath(configPath string) bool {
	return checkSensitiveField(reflect.TypeOf(Config{}), strings.Split(configPath, "."))
}

func checkSensitiveField(t reflect.Type, pathParts []string) bool {
	if len(pathParts) == 0 {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get("koanf") != pathParts[0] {
			continue
		}
		if len(pathParts) == 1 {
			return field.Type.Name() == "SensitiveString" || field.Tag.Get("sensitive") == "true"
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			return checkSensitiveField(field.Type, pathParts[1:])
		}
	}
	return false
}
