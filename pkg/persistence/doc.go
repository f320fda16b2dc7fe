// Package persistence stores the selection state that must survive restarts:
// the keyboard that was last connected and a short history of recent ones.
// The state is a small JSON file.
package persistence
