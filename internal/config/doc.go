// Package config handles configuration loading for toolbridge.
//
// # Overview
//
// Configuration is loaded from YAML files, or TOML files when the path ends
// in .toml, with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TOOLBRIDGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/toolbridge/config.yaml
//  3. ~/.config/toolbridge/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TOOLBRIDGE_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	discovery:
//	  cache_ttl: "30s"
//	dispatch:
//	  timeout: "10s"
//
// # Exposure Manifest
//
// The exposure list attaches tool metadata to registered procedures by
// implementation reference. Annotations must be a map; the reserved auth key
// declares scopes and an optional level:
//
//	exposure:
//	  - impl: "examples.contentTypes.list"
//	    title: "List content types"
//	    annotations:
//	      auth:
//	        scopes: ["content_type:read"]
//
// Entries are validated at load time, so a list of annotations or an unknown
// auth level fails Load.
package config
