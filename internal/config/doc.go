/*
Package config loads and validates the configuration for a sharebox mount:
the MountContext fields (backing directory, mount point, retention, get-all,
notify template) plus the ambient logging, metrics-port, and store-retry
settings every component shares.

Configuration sources, highest precedence first:

	Command-line flags (cmd/sharebox-mount's -o options)
	Environment variables (SHAREBOX_*)
	A YAML config file
	Compiled-in defaults (NewDefault)

Example file:

	global:
	  log_level: INFO
	  metrics_port: 9090
	  health_port: 9091
	mount:
	  backing_dir: /home/user/shared
	  num_versions: 0
	  get_all: false
	  notify_cmd: notify-send "sharebox" "%s"
	network:
	  retry:
	    max_attempts: 3
	    base_delay: 500ms
*/
package config
