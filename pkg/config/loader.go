package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig 加载配置，支持多环境
// env: local, production, 或其他环境名称
// configDir: 配置文件目录，默认为 "config"
func LoadConfig(env string, configDir string) (map[string]any, error) {
	if configDir == "" {
		configDir = "config"
	}

	// 1. 加载 base.yaml
	baseConfig, err := loadYAMLFile(filepath.Join(configDir, "base.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load base.yaml: %w", err)
	}

	// 2. 环境配置覆盖基础配置
	envConfig := make(map[string]any)
	if env != "" && env != "base" {
		envFile := filepath.Join(configDir, fmt.Sprintf("%s.yaml", env))
		if _, err := os.Stat(envFile); err == nil {
			envConfig, err = loadYAMLFile(envFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s.yaml: %w", env, err)
			}
		}
	}
	merged := mergeMaps(baseConfig, envConfig)

	// 3. secrets.env 替换 ${VAR} 占位符
	secretsFile := filepath.Join(configDir, "secrets.env")
	if _, err := os.Stat(secretsFile); err == nil {
		secrets, err := loadEnvFile(secretsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load secrets.env: %w", err)
		}
		merged = substituteEnvVars(merged, secrets)
	}

	return merged, nil
}

// Decode 加载合并后的配置并解码到 out（带 yaml tag 的结构体指针）
func Decode(env, configDir string, out any) error {
	merged, err := LoadConfig(env, configDir)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to re-encode config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

func loadYAMLFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := make(map[string]any)
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return config, nil
}

// loadEnvFile 解析 KEY=VALUE 格式的 .env 文件
func loadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"`)
		value = strings.Trim(value, `'`)
		env[strings.TrimSpace(key)] = value
	}
	return env, nil
}

// mergeMaps 合并两个 map，src 覆盖 dst，嵌套 map 递归合并
func mergeMaps(dst, src map[string]any) map[string]any {
	result := make(map[string]any, len(dst))
	for k, v := range dst {
		result[k] = v
	}
	for k, v := range src {
		dstMap, ok1 := result[k].(map[string]any)
		srcMap, ok2 := v.(map[string]any)
		if ok1 && ok2 {
			result[k] = mergeMaps(dstMap, srcMap)
			continue
		}
		result[k] = v
	}
	return result
}

func substituteEnvVars(config map[string]any, env map[string]string) map[string]any {
	result := make(map[string]any, len(config))
	for k, v := range config {
		switch val := v.(type) {
		case string:
			result[k] = substituteString(val, env)
		case map[string]any:
			result[k] = substituteEnvVars(val, env)
		default:
			result[k] = v
		}
	}
	return result
}

func substituteString(s string, env map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	result := s
	for key, value := range env {
		result = strings.ReplaceAll(result, "${"+key+"}", value)
	}
	return result
}

// GetEnv 获取环境变量，如果未设置则返回默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv 配置环境（CONFIG_ENV，默认 local）
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}

// GetConfigDir 配置目录（CONFIG_DIR，默认 config）
func GetConfigDir() string {
	return GetEnv("CONFIG_DIR", "config")
}
