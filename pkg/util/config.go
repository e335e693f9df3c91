// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"github.com/BurntSushi/toml"
)

type StorageOptions struct {
	DataDir         string `tag:"dataDir" toml:"dataDir"`
	PoolSizePerFile int    `tag:"poolSizePerFile" toml:"poolSizePerFile"`
	Replacer        string `tag:"replacer" toml:"replacer"`
}

type WriterOptions struct {
	Enabled                    bool  `tag:"enabled" toml:"enabled"`
	BackgroundWriterIntervalMs int64 `tag:"backgroundWriterIntervalMs" toml:"backgroundWriterIntervalMs"`
	CheckPointIntervalMs       int64 `tag:"checkPointIntervalMs" toml:"checkPointIntervalMs"`
	BatchSize                  int   `tag:"batchSize" toml:"batchSize"`
	ShutdownTimeoutMs          int64 `tag:"shutdownTimeoutMs" toml:"shutdownTimeoutMs"`
}

type IndexOptions struct {
	BtreeOrder int `tag:"btreeOrder" toml:"btreeOrder"`
}

type LogOptions struct {
	Level string `tag:"level" toml:"level"`
}

type Config struct {
	Storage StorageOptions `tag:"storage" toml:"storage"`
	Writer  WriterOptions  `tag:"writer" toml:"writer"`
	Index   IndexOptions   `tag:"index" toml:"index"`
	Log     LogOptions     `tag:"log" toml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageOptions{
			DataDir:         "data",
			PoolSizePerFile: 64,
			Replacer:        "lru",
		},
		Writer: WriterOptions{
			Enabled:                    true,
			BackgroundWriterIntervalMs: 200,
			CheckPointIntervalMs:       5000,
			BatchSize:                  16,
			ShutdownTimeoutMs:          5000,
		},
		Index: IndexOptions{
			BtreeOrder: 3,
		},
		Log: LogOptions{
			Level: "info",
		},
	}
}

// LoadConfig decodes the toml file at path over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
