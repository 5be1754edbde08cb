package config

import "time"

// Config - корневая структура конфигурации ноды.

type Config struct {
	Logger    LoggerConfig    `yaml:"logger" validate:"required"`
	Server    ServerConfig    `yaml:"http-server" validate:"required"`
	Node      NodeConfig      `yaml:"node" validate:"required"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper" validate:"required"`
	Migration MigrationConfig `yaml:"migration" validate:"required"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"required,min=1,max=65535"`
}

// NodeConfig describes identity and local storage of the node.
type NodeConfig struct {
	Addr    string `yaml:"addr" validate:"required"`
	DataDir string `yaml:"data_dir" validate:"required"`
	// Voter is false for observer-only members. Observers never serve schema pulls.
	Voter bool `yaml:"voter"`
}

type ZookeeperConfig struct {
	Servers  []string `yaml:"servers" validate:"required,min=1"`
	RootPath string   `yaml:"root_path" validate:"required"`
}

type MigrationConfig struct {
	// GraceWindow debounces redundant schema pulls after startup or
	// overlapping announces.
	GraceWindow time.Duration `yaml:"grace_window"`
	PullTimeout time.Duration `yaml:"pull_timeout"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "DEBUG",
			JSON:  false,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Node: NodeConfig{
			Addr:    "localhost:8080",
			DataDir: "./data",
			Voter:   true,
		},
		Zookeeper: ZookeeperConfig{
			Servers:  []string{"localhost:2181"},
			RootPath: "/schemadb",
		},
		Migration: MigrationConfig{
			GraceWindow: 60 * time.Second,
			PullTimeout: 10 * time.Second,
		},
	}
}
