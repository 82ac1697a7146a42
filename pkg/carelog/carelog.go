// Package carelog provides the public API for embedding the service.
// This is the stable API for external consumers.
package carelog

import (
	"github.com/tjfontaine/carelog/internal/config"
	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/runtime"
)

// App runs the interpreter, ledger and HTTP surface.
// See internal/runtime.App for full documentation.
type App = runtime.App

// Option is a functional option for configuring an App.
type Option = runtime.Option

// Config is the full service configuration.
type Config = config.Config

// Reading is the structured interpretation of one message.
type Reading = domain.Reading

// New creates a new App with the given options.
// Example:
//
//	app, err := carelog.New(
//	    carelog.WithConfigFile("config.yaml"),
//	)
var New = runtime.New

// LoadConfig reads a config file plus CARELOG_ environment overrides.
var LoadConfig = config.Load

// Configuration options
var (
	// Config sources
	WithConfigFile = runtime.WithConfigFile
	WithConfig     = runtime.WithConfig

	// Storage
	WithStore = runtime.WithStore

	// Advanced options
	WithHTTPClient = runtime.WithHTTPClient
	WithLogger     = runtime.WithLogger
	WithLogLevel   = runtime.WithLogLevel
)
