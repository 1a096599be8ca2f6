package config

type StoreConfig interface {
	GetDatabasePath() string
}

type Store struct{}

var _ StoreConfig = Store{}

// GetDatabasePath returns the SQLite database path for subscription and
// usage state.
func (Store) GetDatabasePath() string {
	return GetEnv("DATABASE_PATH", "./data/sessions.db")
}
