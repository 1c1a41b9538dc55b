// Package storage opens the account database and carries its schema.
package storage
