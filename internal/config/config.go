// Package config reads service configuration from the environment. The
// Config interface is composed from per-concern interfaces so components
// can depend on the slice they need.
package config

type Config interface {
	EnvConfig
	AuthConfig
	BillingConfig
	StoreConfig
	SessionConfig
}

type mainConfig struct {
	EnvVars
	Auth
	Billing
	Store
	Session
}

func New() Config {
	return mainConfig{}
}
