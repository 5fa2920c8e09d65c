// Package config handles loading and validating panelsync configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Broker endpoints, slot contents and panel assignments are runtime data
// stored in SQLite; this package only covers process-level settings.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Panels.VendorPrefix)
package config
