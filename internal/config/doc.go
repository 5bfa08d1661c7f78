// Package config provides configuration parsing for pagecycle
// applications.
//
// The configuration is stored in pagecycle.json, pagecycle.yaml or
// pagecycle.yml. Empty fields are filled with defaults when loading.
//
// # Configuration File Structure
//
//	server:
//	  addr: "localhost:8080"
//	  shutdownTimeout: "30s"
//	pages:
//	  maxPerMap: 5
//	  maxVersions: 20
//	render:
//	  componentUseCheck: true
//	  stripTags: false
//	markup:
//	  dir: markup
//	  watch: true
//	session:
//	  store: sqlite
//	  sqlitePath: pagecycle.db
//	  ttl: "30m"
//	metrics:
//	  enabled: true
//	log:
//	  level: info
//	  format: json
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config
