// Package history persists setup results and quench events to SQLite.
package history
