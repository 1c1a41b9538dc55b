// Package config provides application configuration management from a
// YAML file and environment variables.
//
// # Overview
//
// Defaults come from Default(). When COHORT_CONFIG_FILE names a YAML file it
// is applied next, and COHORT_* environment variables win over both.
//
// # Configuration Structure
//
// Server settings:
//
//	COHORT_HOST="0.0.0.0"
//	COHORT_PORT="8000"
//	COHORT_HEALTH_PORT="9090"
//	COHORT_CORS_ORIGINS="https://app.example.com"
//
// Database settings:
//
//	COHORT_DATABASE_DRIVER="postgres"   # postgres or sqlite3
//	COHORT_DATABASE_URL="postgres://localhost/cohort?sslmode=disable"
//	COHORT_DATABASE_AUTO_MIGRATE="true"
//
// Identity provider (exactly one mode per deployment):
//
//	COHORT_PROVIDER_MODE="jwks"          # shared_secret, jwks, introspection
//	COHORT_PROVIDER_URL="https://project.provider.example"
//	COHORT_PROVIDER_API_KEY="public-anon-key"
//	COHORT_PROVIDER_JWT_SECRET="..."     # shared_secret only
//	COHORT_PROVIDER_TIMEOUT="5s"
//
// Realtime settings:
//
//	COHORT_REDIS_URL="redis://localhost:6379/0"   # enables the cross-process relay
//	COHORT_WS_ALLOWED_ORIGINS="app.example.com"
//	COHORT_WS_MESSAGE_AUTH="false"
//
// Equivalent YAML:
//
//	provider:
//	  mode: jwks
//	  url: https://project.provider.example
//	  keyset_ttl: 10m
//	gate:
//	  bypass_prefixes: ["/health", "/static/"]
package config
