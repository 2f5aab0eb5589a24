// Package config defines the cache engine configuration, loadable from YAML
// with human-readable byte sizes and duration strings. All tuning knobs
// (capacity ceiling, cleanup thresholds, eviction fractions, intervals) live
// here so the cleanup heuristics stay configuration, not hard-coded policy.
package config
