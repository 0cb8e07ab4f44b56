// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import "time"

// Config holds the server settings. It must not be changed once
// [Server.Run] has been called.
type Config struct {
	Port         int    `config:"port"`
	DocumentRoot string `config:"document_root"`

	// WorkerCount bounds how many connections are served at once.
	WorkerCount int `config:"worker_count"`

	// QueueSize is how many accepted connections may wait for a worker
	// before the accept loop stops accepting.
	QueueSize int `config:"queue_size"`

	// Backlog is the listen(2) backlog. It is only honored on Linux.
	Backlog int `config:"backlog"`

	KeepAlive    bool          `config:"keep_alive"`
	IdleTimeout  time.Duration `config:"idle_timeout"`
	ReapInterval time.Duration `config:"reap_interval"`
	WriteTimeout time.Duration `config:"write_timeout"`

	// ReadBufferSize caps the size of a request head.
	ReadBufferSize int `config:"read_buffer_size"`

	// ServeEmptyFiles controls whether a zero length file is served as
	// an empty 200 response or reported as 404 Not Found.
	ServeEmptyFiles bool `config:"serve_empty_files"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Port:            8080,
		DocumentRoot:    "./www",
		WorkerCount:     4,
		QueueSize:       64,
		Backlog:         10,
		KeepAlive:       true,
		IdleTimeout:     5 * time.Second,
		ReapInterval:    time.Second,
		WriteTimeout:    10 * time.Second,
		ReadBufferSize:  4096,
		ServeEmptyFiles: true,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = def.ReapInterval
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	return cfg
}
