// Package config loads and validates the NVR state service configuration.
//
// Sources, in increasing precedence:
//   - Built-in defaults (Default)
//   - A YAML file
//   - GRAYLOGIC_* environment variables
//
// Secrets (NVR password, MQTT password, InfluxDB token) should come from the
// environment; the config file should be 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/nvr.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.NVR.Host())
package config
