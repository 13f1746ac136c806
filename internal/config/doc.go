// Package config handles configuration loading for vigil.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	slack:
//	  bot_token: "${SLACK_BOT_TOKEN}"
//
// A .env file in the working directory is loaded first, so variables can
// live there instead of the process environment.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	review:
//	  base_delay: "1h"
//	  scan_interval: "5m"
//	  scan_budget: "15m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Identity and state:
//
//	agent:
//	  id: "vigil-build-01"
//	state_dir: "/var/lib/vigil"   # or VIGIL_STATE_DIR env override
//
// Chat transport:
//
//	slack:
//	  bot_token: "${SLACK_BOT_TOKEN}"
//	  channel: "C0123456789"
//	  trigger: "@vigil"       # optional mention gate for top-level messages
//	  poll_interval: "10s"    # channel history poll cadence
//
// Review providers, tried in order:
//
//	providers:
//	  local:
//	    command: ["claude", "-p"]
//	    timeout: "120s"
//	  anthropic:
//	    api_key: "${ANTHROPIC_API_KEY}"
//	    timeout: "60s"
//	  openai:
//	    api_key: "${GROQ_API_KEY}"
//	    timeout: "30s"
//
// Circuit breaker thresholds:
//
//	breaker:
//	  thresholds:
//	    commit_failed: 3
//	    task_failed: 5
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # State Directory Resolution
//
// The state directory for persisted JSON documents resolves in order:
//
//  1. VIGIL_STATE_DIR environment variable
//  2. state_dir config value
//  3. $XDG_STATE_HOME/vigil
//  4. ~/.local/state/vigil
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/vigil/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
