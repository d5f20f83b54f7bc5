// Package config loads layered application configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/conjurehq/conjure/pkg/types"
)

const (
	defaultPort         = 8080
	defaultStoreType    = "file"
	defaultTimeoutMS    = 30000
	defaultWorkers      = 8
	defaultRetries      = 2
	defaultRetryDelayMS = 1000
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/conjure/)
// 2. Project config (conjure.json / conjure.jsonc in directory)
// 3. CONJURE_CONFIG file
// 4. CONJURE_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	loaded := make(map[string]bool)
	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config
	if home := os.Getenv("HOME"); home != "" {
		globalDir := filepath.Join(home, ".config", "conjure")
		loadOnce(filepath.Join(globalDir, "conjure.json"), globalDir)
		loadOnce(filepath.Join(globalDir, "conjure.jsonc"), globalDir)
	}

	// 2. Project config
	if directory != "" {
		loadOnce(filepath.Join(directory, "conjure.json"), directory)
		loadOnce(filepath.Join(directory, "conjure.jsonc"), directory)
	}

	// 3. CONJURE_CONFIG file override
	if configPath := os.Getenv("CONJURE_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	// 4. CONJURE_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("CONJURE_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal([]byte(configContent), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	applyDefaults(config)
	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return strings.TrimSpace(escaped)
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Server.Hostname != "" {
		target.Server.Hostname = source.Server.Hostname
	}
	if source.Server.Port != 0 {
		target.Server.Port = source.Server.Port
	}

	if source.Store.Type != "" {
		target.Store.Type = source.Store.Type
	}
	if source.Store.Path != "" {
		target.Store.Path = source.Store.Path
	}
	if source.Store.BaseURL != "" {
		target.Store.BaseURL = source.Store.BaseURL
	}
	if source.Store.RootBin != "" {
		target.Store.RootBin = source.Store.RootBin
	}
	if source.Store.MasterKey != "" {
		target.Store.MasterKey = source.Store.MasterKey
	}
	if source.Store.Retries != 0 {
		target.Store.Retries = source.Store.Retries
	}
	if source.Store.RetryDelayMS != 0 {
		target.Store.RetryDelayMS = source.Store.RetryDelayMS
	}

	if source.Sandbox.TimeoutMS != 0 {
		target.Sandbox.TimeoutMS = source.Sandbox.TimeoutMS
	}
	if source.Sandbox.Workers != 0 {
		target.Sandbox.Workers = source.Sandbox.Workers
	}

	if source.Generator.BaseURL != "" {
		target.Generator.BaseURL = source.Generator.BaseURL
	}
	if source.Generator.APIKey != "" {
		target.Generator.APIKey = source.Generator.APIKey
	}
	if source.Generator.Model != "" {
		target.Generator.Model = source.Generator.Model
	}

	if source.Watch.Enabled {
		target.Watch.Enabled = true
	}
	if source.Watch.Dir != "" {
		target.Watch.Dir = source.Watch.Dir
	}

	if source.Log.Level != "" {
		target.Log.Level = source.Log.Level
	}
	if source.Log.Pretty {
		target.Log.Pretty = true
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if port := os.Getenv("CONJURE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if hostname := os.Getenv("CONJURE_HOSTNAME"); hostname != "" {
		config.Server.Hostname = hostname
	}
	if storeType := os.Getenv("CONJURE_STORE_TYPE"); storeType != "" {
		config.Store.Type = storeType
	}
	if path := os.Getenv("CONJURE_STORE_PATH"); path != "" {
		config.Store.Path = path
	}
	if baseURL := os.Getenv("CONJURE_STORE_URL"); baseURL != "" {
		config.Store.BaseURL = baseURL
	}
	if rootBin := os.Getenv("CONJURE_ROOT_BIN"); rootBin != "" {
		config.Store.RootBin = rootBin
	}
	if masterKey := os.Getenv("CONJURE_MASTER_KEY"); masterKey != "" {
		config.Store.MasterKey = masterKey
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.Generator.APIKey == "" {
		config.Generator.APIKey = apiKey
	}
	if model := os.Getenv("CONJURE_MODEL"); model != "" {
		config.Generator.Model = model
	}
	if level := os.Getenv("CONJURE_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

func applyDefaults(config *types.Config) {
	if config.Server.Port == 0 {
		config.Server.Port = defaultPort
	}
	if config.Store.Type == "" {
		config.Store.Type = defaultStoreType
	}
	if config.Store.Path == "" {
		if home := os.Getenv("HOME"); home != "" {
			config.Store.Path = filepath.Join(home, ".local", "share", "conjure")
		} else {
			config.Store.Path = "."
		}
	}
	if config.Store.Retries == 0 {
		config.Store.Retries = defaultRetries
	}
	if config.Store.RetryDelayMS == 0 {
		config.Store.RetryDelayMS = defaultRetryDelayMS
	}
	if config.Sandbox.TimeoutMS == 0 {
		config.Sandbox.TimeoutMS = defaultTimeoutMS
	}
	if config.Sandbox.Workers == 0 {
		config.Sandbox.Workers = defaultWorkers
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}
