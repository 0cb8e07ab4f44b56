// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"
	"io"
	"os"

	"github.com/z5labs/fileserver/internal/try"

	"gopkg.in/yaml.v3"
)

// Yaml is a Source of YAML encoded settings.
type Yaml struct {
	open func() (io.ReadCloser, error)
}

// FromYaml reads settings from r when applied. If r is also an
// [io.Closer] it is closed once read.
func FromYaml(r io.Reader) Yaml {
	return Yaml{
		open: func() (io.ReadCloser, error) {
			if rc, ok := r.(io.ReadCloser); ok {
				return rc, nil
			}
			return io.NopCloser(r), nil
		},
	}
}

// FromYamlFile reads settings from the file at path. The file is opened
// when the source is applied, so a missing file fails [Read] with a
// [FileError] rather than failing at construction.
func FromYamlFile(path string) Yaml {
	return Yaml{
		open: func() (io.ReadCloser, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, FileError{Path: path, Cause: err}
			}
			return f, nil
		},
	}
}

// FileError is returned when a config file cannot be opened.
type FileError struct {
	Path  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e FileError) Error() string {
	return fmt.Sprintf("failed to open config file %s: %s", e.Path, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e FileError) Unwrap() error {
	return e.Cause
}

// InvalidYamlError is returned when a YAML source does not hold a
// mapping of settings.
type InvalidYamlError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e InvalidYamlError) Error() string {
	return fmt.Sprintf("invalid yaml: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidYamlError) Unwrap() error {
	return e.Cause
}

// Apply implements the [Source] interface. An empty document sets nothing.
func (src Yaml) Apply(store Store) (err error) {
	rc, err := src.open()
	if err != nil {
		return err
	}
	defer try.Close(&err, rc)

	b, err := io.ReadAll(rc)
	if err != nil {
		return err
	}

	var m map[string]any
	err = yaml.Unmarshal(b, &m)
	if err != nil {
		return InvalidYamlError{Cause: err}
	}
	return Map(m).Apply(store)
}
