// Package config parses zerofs's command-line flags into a validated
// Config. There is no config file: every setting is a flag, following
// the CLI-only convention onedriver's cmd/onedriver uses for everything
// that isn't a secret.
package config
