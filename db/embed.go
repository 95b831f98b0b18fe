// Package db embeds the database schema applied on startup.
package db

import _ "embed"

// Schema holds the DDL for the catalog, reservation ticket, and order tables.
//
//go:embed migrations/001_schema.sql
var Schema string
