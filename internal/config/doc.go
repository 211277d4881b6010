/*
Package config loads the fspropfaker configuration from YAML files and the
environment.

# Precedence

	┌─────────────────────────────────────────────┐
	│          Command-line flags                 │ ← Highest Priority
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables                │
	│           (FSPROPFAKER_*)                   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

Flags are applied by the command itself after LoadFromFile and LoadFromEnv.

# Example

	global:
	  log_level: INFO
	  log_format: text
	  log_file: /var/log/fspropfaker.log
	mount:
	  name: propfaker
	  root: /srv/data
	  mount_point: /mnt/small-disk
	faking:
	  disk:
	    mode: fixed
	    mb: 100
	  free:
	    mode: delta
	    blocks: -1000
	readiness:
	  max_attempts: 20
	  initial_delay: 10ms
	  max_delay: 500ms
	api:
	  enabled: true
	  address: 127.0.0.1:8787
	metrics:
	  enabled: true
	  namespace: fspropfaker

A rule with neither blocks nor mb tracks the real value. Unknown keys are
rejected so a typo in a rule name cannot silently leave the real capacity
visible.

# Environment Variables

	FSPROPFAKER_LOG_LEVEL, FSPROPFAKER_LOG_FORMAT, FSPROPFAKER_LOG_FILE
	FSPROPFAKER_NAME, FSPROPFAKER_ROOT, FSPROPFAKER_MOUNT_POINT
	FSPROPFAKER_DEBUG, FSPROPFAKER_ALLOW_OTHER
	FSPROPFAKER_DISK_MODE, FSPROPFAKER_DISK_BLOCKS, FSPROPFAKER_DISK_MB
	FSPROPFAKER_FREE_MODE, FSPROPFAKER_FREE_BLOCKS, FSPROPFAKER_FREE_MB
	FSPROPFAKER_READINESS_MAX_ATTEMPTS
	FSPROPFAKER_API_ENABLED, FSPROPFAKER_API_ADDRESS
	FSPROPFAKER_METRICS_ENABLED, FSPROPFAKER_METRICS_NAMESPACE

Malformed booleans and integers are reported as INVALID_CONFIG.
*/
package config
