// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package fileserver runs a static file HTTP/1.1 server.
//
// A process is assembled from three pieces:
//
//   - config sources, layered on top of [Defaults] and decoded into a [Config]
//   - a [Builder] which turns that [Config] into an [App]
//   - the [App] itself, which blocks until its context is cancelled
//
// [Run] ties them together and validates the [Config] before building:
//
//	err := fileserver.Run(
//	    ctx,
//	    fileserver.BuilderFunc(buildApp),
//	    config.FromYamlFile("fileserver.yaml"),
//	    config.FromEnv("FILESERVER_"),
//	)
//
// The server itself lives in the server subpackage and the command line
// entry point in cmd/fileserver.
package fileserver
