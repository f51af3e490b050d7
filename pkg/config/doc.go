// Package config loads the typewatch configuration.
//
// Values are layered with koanf: built-in defaults, then the optional
// .typewatch.yaml in the project root (or the file given with --config),
// then TYPEWATCH_* environment variables. The result is checked with
// validator struct tags.
//
// Example .typewatch.yaml:
//
//	use_yarn: true
//	save_as_dev_dependency: false
//	settle_delay: 800ms
//	manifests:
//	  - package.json
//	  - bower.json
//	log:
//	  level: info
//	  format: console
//	metrics:
//	  enabled: true
//	  listen_address: ":9464"
package config
