package types

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Generator GeneratorConfig `json:"generator"`
	Watch     WatchConfig     `json:"watch"`
	Log       LogConfig       `json:"log"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Hostname string `json:"hostname,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// StoreConfig selects and configures the tenant document store.
// Type is "file" (local JSON documents) or "remote" (JSONBin-style HTTP).
type StoreConfig struct {
	Type         string `json:"type,omitempty"`
	Path         string `json:"path,omitempty"`
	BaseURL      string `json:"baseUrl,omitempty"`
	RootBin      string `json:"rootBin,omitempty"`
	MasterKey    string `json:"masterKey,omitempty"`
	Retries      int    `json:"retries,omitempty"`
	RetryDelayMS int    `json:"retryDelayMs,omitempty"`
}

// SandboxConfig bounds handler execution.
type SandboxConfig struct {
	TimeoutMS int `json:"timeoutMs,omitempty"`
	Workers   int `json:"workers,omitempty"`
}

// GeneratorConfig configures the code-generation collaborator. The engine
// never calls it unless a describe request arrives; generated code is
// untrusted and always passes through the validator.
type GeneratorConfig struct {
	BaseURL string `json:"baseUrl,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
	Model   string `json:"model,omitempty"`
}

// WatchConfig enables the development-mode command directory watcher.
type WatchConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Dir     string `json:"dir,omitempty"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty"`
}
