// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command fileserver serves the files under a document root over HTTP/1.1.
//
// Usage:
//
//	fileserver [port] [document_root] [worker_count]
//
// Settings are layered: built-in defaults, then the YAML file given by
// --config, then FILESERVER_* environment variables, then the arguments
// and flags on the command line.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/z5labs/fileserver"
	"github.com/z5labs/fileserver/config"

	"github.com/spf13/cobra"
)

const envPrefix = "FILESERVER_"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stderr, newBuilder(os.Stderr)))
}

func run(ctx context.Context, args []string, stderr io.Writer, b fileserver.Builder) int {
	cmd := newCommand(b)
	cmd.SetArgs(args)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

// ArgError is returned when a positional argument is not a valid integer.
type ArgError struct {
	Name  string
	Value string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ArgError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Name, e.Value, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ArgError) Unwrap() error {
	return e.Cause
}

type flags struct {
	configFile  string
	keepAlive   bool
	idleTimeout time.Duration
	logLevel    string
	telemetry   bool
}

func newCommand(b fileserver.Builder) *cobra.Command {
	var fs flags

	cmd := &cobra.Command{
		Use:           "fileserver [port] [document_root] [worker_count]",
		Short:         "Serve static files over HTTP/1.1",
		Args:          cobra.MaximumNArgs(3),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := fromArgs(args)
			if err != nil {
				return err
			}
			fs.apply(cmd, overrides)

			return fileserver.Run(cmd.Context(), b, sources(fs.configFile, overrides)...)
		},
	}

	cmd.Flags().StringVar(&fs.configFile, "config", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&fs.keepAlive, "keep-alive", true, "keep connections open between requests")
	cmd.Flags().DurationVar(&fs.idleTimeout, "idle-timeout", 5*time.Second, "close keep-alive connections idle for longer than this")
	cmd.Flags().StringVar(&fs.logLevel, "log-level", "info", "one of debug, info, warn or error")
	cmd.Flags().BoolVar(&fs.telemetry, "telemetry", false, "export traces, metrics and logs to stdout")

	return cmd
}

// apply only copies flags the user actually set so they don't mask
// values from the config file or environment.
func (fs flags) apply(cmd *cobra.Command, m config.Map) {
	set := cmd.Flags().Changed
	if set("keep-alive") {
		m["keep_alive"] = fs.keepAlive
	}
	if set("idle-timeout") {
		m["idle_timeout"] = fs.idleTimeout
	}
	if set("log-level") {
		m["logging"] = map[string]any{"level": fs.logLevel}
	}
	if set("telemetry") {
		m["telemetry"] = map[string]any{"enabled": fs.telemetry}
	}
}

func fromArgs(args []string) (config.Map, error) {
	m := config.Map{}
	if len(args) > 0 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, ArgError{Name: "port", Value: args[0], Cause: err}
		}
		m["port"] = port
	}
	if len(args) > 1 {
		m["document_root"] = args[1]
	}
	if len(args) > 2 {
		workers, err := strconv.Atoi(args[2])
		if err != nil {
			return nil, ArgError{Name: "worker_count", Value: args[2], Cause: err}
		}
		m["worker_count"] = workers
	}
	return m, nil
}

// sources lists what is layered on top of [fileserver.Defaults], lowest
// precedence first.
func sources(configFile string, overrides config.Map) []config.Source {
	var srcs []config.Source
	if configFile != "" {
		srcs = append(srcs, config.FromYamlFile(configFile))
	}
	srcs = append(srcs, config.FromEnv(envPrefix), overrides)
	return srcs
}
