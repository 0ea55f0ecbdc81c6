// Package config loads, normalizes, and validates rvcworker configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// RABBITMQ_URL, QUEUE_NAME, and the AWS_* credentials the deployment already
// exports. The Config type centralizes every knob the worker and CLI need so
// queue, storage, callback, and pipeline settings are resolved in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
