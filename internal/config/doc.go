// Package config loads bricktracker configuration.
//
// Defaults come first, then an optional YAML file, then environment variables
// prefixed with BRICK_ (a .env file in the working directory is exported
// before overrides are read). Validation reports every problem in one error.
//
// Usage:
//
//	cfg, err := config.Load("configs/bricktracker.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
