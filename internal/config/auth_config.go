package config

type AuthConfig interface {
	GetAuthURL() string
	GetAuthAPIKey() string
	GetGoogleClientID() string
	GetGoogleClientSecret() string
	GetOAuthRedirectURL() string
	GetCredentialsFile() string
}

type Auth struct{}

var _ AuthConfig = Auth{}

// GetAuthURL returns the base URL of the GoTrue-compatible auth backend.
func (Auth) GetAuthURL() string {
	return GetEnv("AUTH_URL", "http://localhost:9999")
}

// GetAuthAPIKey returns the public (anon) API key for the auth backend.
func (Auth) GetAuthAPIKey() string {
	return GetEnv("AUTH_API_KEY", "")
}

func (Auth) GetGoogleClientID() string {
	return GetEnv("GOOGLE_CLIENT_ID", "")
}

func (Auth) GetGoogleClientSecret() string {
	return GetEnv("GOOGLE_CLIENT_SECRET", "")
}

// GetOAuthRedirectURL returns the registered callback URL for the Google
// flow.
func (Auth) GetOAuthRedirectURL() string {
	return GetEnv("OAUTH_REDIRECT_URL", "http://localhost:8080/api/auth/callback")
}

// GetCredentialsFile returns the path where the cached session is
// persisted. Empty means sessions do not survive a restart.
func (Auth) GetCredentialsFile() string {
	return GetEnv("CREDENTIALS_FILE", "")
}
