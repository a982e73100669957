// Package config loads Burrow's YAML configuration file: logging, server,
// client, and bus sections over sensible defaults. The core packages take
// plain Config structs; this package only serves the CLI.
package config
