// Package configs embeds the example configuration written by
// `insightos config init`. Edit config.example.yaml and rebuild to change it.
package configs

import _ "embed"

// ConfigTemplate is the commented example configuration. It must parse
// into a valid config.Config.
//
//go:embed config.example.yaml
var ConfigTemplate string
