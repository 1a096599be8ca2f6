package config

import (
	"fmt"
	"os"
)

const (
	portEnvVar      = "PORT"
	appNameVar      = "APP_NAME"
	frontendBaseVar = "FRONTEND_BASE_URL"
)

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetFrontendBaseURL() string
	GetEnv() string
}

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "CoverGen Session Service")
}

// GetFrontendBaseURL returns the same-origin frontend base that redirect
// and return URLs are built from.
func (EnvVars) GetFrontendBaseURL() string {
	return GetEnv(frontendBaseVar, "http://localhost:3000")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
