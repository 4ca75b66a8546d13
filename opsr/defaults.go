// Package opsr holds application-wide default constants shared by the
// configuration, database, and CLI layers.
package opsr

const (
	DefaultAppName = "opsrouter"

	// DefaultConfigPath is searched after the working directory.
	DefaultConfigPath = "/etc/opsrouter"

	// DefaultDataDir holds the embedded database files.
	DefaultDataDir = ".opsrouter"

	// DefaultDatabaseFile is the session log / document store database.
	DefaultDatabaseFile = "opsrouter.db"

	// DefaultSessionID is used when the caller supplies no session.
	DefaultSessionID = "main"
)
