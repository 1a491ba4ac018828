// Package idgen generates opaque unique identifiers: command-plane request
// ids and worker session ids. Tests may replace NewFunc for determinism.
package idgen
