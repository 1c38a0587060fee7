// Package config handles loading and validating the setup service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The defaults describe the full LCLS-II superconducting linac layout
// (L0B-L3B, cryomodules 01-35 plus H1/H2), so a config file only needs to
// override what differs from production.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Hierarchy.Linacs[0].Name)
package config
