package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 1, cfg.Version)

	assert.Equal(t, "corpus.db", cfg.Store.Path)
	assert.Equal(t, 64, cfg.Store.SQLiteCacheMB)

	assert.Equal(t, 5, cfg.Search.DefaultTopK)
	assert.Equal(t, 50, cfg.Search.MinContentChars)
	assert.Equal(t, 3, cfg.Search.VectorOverFetch)
	assert.Equal(t, 15, cfg.Search.HybridLaneWidth)
	assert.Equal(t, 4000, cfg.Search.PromptCharBudget)
	assert.Equal(t, 3000, cfg.Search.GuardrailCharBudget)

	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "all-minilm", cfg.Embedding.Model)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)

	assert.Equal(t, 0.3, cfg.Generation.Temperature)
	assert.Equal(t, 0.9, cfg.Generation.TopP)
	assert.Equal(t, 512, cfg.Generation.NumPredict)
	assert.Equal(t, 120*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, 1, cfg.Generation.MaxInFlight)

	assert.Equal(t, "info", cfg.Server.LogLevel)
}

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "corpus.db", cfg.Store.Path)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
store:
  path: /data/clinical.db
search:
  default_top_k: 8
generation:
  model: mistral
  temperature: 0.1
`
	err := os.WriteFile(filepath.Join(tmpDir, ".chwrag.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "/data/clinical.db", cfg.Store.Path)
	assert.Equal(t, 8, cfg.Search.DefaultTopK)
	assert.Equal(t, "mistral", cfg.Generation.Model)
	assert.Equal(t, 0.1, cfg.Generation.Temperature)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
embedding:
  provider: static
`
	err := os.WriteFile(filepath.Join(tmpDir, ".chwrag.yml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embedding.Provider)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	tmpDir := t.TempDir()
	yamlContent := "version: 1\nembedding:\n  provider: ollama\n"
	ymlContent := "version: 1\nembedding:\n  provider: static\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".chwrag.yaml"), []byte(yamlContent), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".chwrag.yml"), []byte(ymlContent), 0o644))

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := "version: 1\nsearch:\n  default_top_k: [invalid\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".chwrag.yaml"), []byte(invalidContent), 0o644))

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
}

func TestFindProjectRoot_GitDirectory_ReturnsGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_ConfigFile_ReturnsConfigLocation(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".chwrag.yaml"), []byte("version: 1"), 0o644))

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_NoMarkers_ReturnsCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()

	root, err := FindProjectRoot(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestLoad_EnvVarOverridesStorePath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CHWRAG_STORE_PATH", "/override/corpus.db")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "/override/corpus.db", cfg.Store.Path)
}

func TestLoad_EnvVarOverridesEmbedder(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := "version: 1\nembedding:\n  provider: ollama\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".chwrag.yaml"), []byte(configContent), 0o644))
	t.Setenv("CHWRAG_EMBEDDER", "static")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embedding.Provider)
}

func TestLoad_EnvVarOverridesLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CHWRAG_LOG_LEVEL", "debug")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_EnvVarOverridesGenerationURL(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CHWRAG_GENERATION_URL", "http://gen-backend:9999")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "http://gen-backend:9999", cfg.Generation.URL)
}

func TestLoad_EnvVarEmptyString_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CHWRAG_EMBEDDER", "")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
}

func TestLoad_RRFConstantEnvVar_IsIgnored(t *testing.T) {
	// RRF_K is fixed at 60 by contract; an env var attempting to change
	// it must not affect the retriever's own RRFConstant (it isn't even
	// part of Config — this only checks Load doesn't error or panic).
	tmpDir := t.TempDir()
	t.Setenv("CHWRAG_RRF_CONSTANT", "100")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestGetUserConfigPath_DefaultsToXDGLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	path := GetUserConfigPath()

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expected := filepath.Join(home, ".config", "chwrag", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	customConfig := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", customConfig)

	path := GetUserConfigPath()

	expected := filepath.Join(customConfig, "chwrag", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigDir_ReturnsParentOfConfigPath(t *testing.T) {
	dir := GetUserConfigDir()
	path := GetUserConfigPath()

	assert.Equal(t, filepath.Dir(path), dir)
}

func TestUserConfigExists_ReturnsFalseWhenMissing(t *testing.T) {
	emptyDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", emptyDir)

	assert.False(t, UserConfigExists())
}

func TestUserConfigExists_ReturnsTrueWhenPresent(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	chwragDir := filepath.Join(configDir, "chwrag")
	require.NoError(t, os.MkdirAll(chwragDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(chwragDir, "config.yaml"), []byte("version: 1"), 0o644))

	assert.True(t, UserConfigExists())
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	chwragDir := filepath.Join(configDir, "chwrag")
	require.NoError(t, os.MkdirAll(chwragDir, 0o755))
	userConfig := "version: 1\nembedding:\n  host: http://custom-host:11434\n"
	require.NoError(t, os.WriteFile(filepath.Join(chwragDir, "config.yaml"), []byte(userConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "http://custom-host:11434", cfg.Embedding.Host)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	chwragDir := filepath.Join(configDir, "chwrag")
	require.NoError(t, os.MkdirAll(chwragDir, 0o755))
	userConfig := "version: 1\nembedding:\n  provider: ollama\n  model: user-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(chwragDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := "version: 1\nembedding:\n  model: project-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".chwrag.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "project-model", cfg.Embedding.Model)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
}

func TestLoad_EnvVarOverridesUserAndProjectConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("CHWRAG_GENERATION_MODEL", "env-model")

	chwragDir := filepath.Join(configDir, "chwrag")
	require.NoError(t, os.MkdirAll(chwragDir, 0o755))
	userConfig := "version: 1\ngeneration:\n  model: user-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(chwragDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := "version: 1\ngeneration:\n  model: project-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".chwrag.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.Generation.Model)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	chwragDir := filepath.Join(configDir, "chwrag")
	require.NoError(t, os.MkdirAll(chwragDir, 0o755))
	invalidConfig := "version: 1\ngeneration:\n  model: [invalid yaml\n"
	require.NoError(t, os.WriteFile(filepath.Join(chwragDir, "config.yaml"), []byte(invalidConfig), 0o644))

	cfg, err := Load(projectDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "user config")
}

func TestValidate_RejectsBadTemperature(t *testing.T) {
	cfg := NewConfig()
	cfg.Generation.Temperature = 5
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadDimensions(t *testing.T) {
	cfg := NewConfig()
	cfg.Embedding.Dimensions = 768
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownProvider(t *testing.T) {
	cfg := NewConfig()
	cfg.Embedding.Provider = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsZeroMaxInFlight(t *testing.T) {
	cfg := NewConfig()
	cfg.Generation.MaxInFlight = 0
	assert.Error(t, cfg.Validate())
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	cfg := NewConfig()
	cfg.Generation.Model = "roundtrip-model"
	path := filepath.Join(t.TempDir(), "out.yaml")

	require.NoError(t, cfg.WriteYAML(path))

	loaded := NewConfig()
	require.NoError(t, loaded.loadYAML(path))
	assert.Equal(t, "roundtrip-model", loaded.Generation.Model)
}
