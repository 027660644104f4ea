// Package runtimeconfig records which optional gateway features are active
// in this process. Features are resolved once from configuration at startup
// instead of being detected from whatever happens to be importable.
package runtimeconfig
