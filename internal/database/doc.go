// Package database provides the PostgreSQL connection pool and the credential
// store the notifier reads its bearer token from.
package database
