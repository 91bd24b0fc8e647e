// Package config loads, normalizes, and validates idmark configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a .env file from the working directory,
// and honours environment fallbacks such as IDMARK_NTFY_TOPIC. Relative output
// directories and the watermark asset are resolved against the work directory
// so a batch always lands next to the files it was started from.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
