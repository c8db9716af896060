// Package database provides PostgreSQL connection pooling for the event
// archive.
package database
