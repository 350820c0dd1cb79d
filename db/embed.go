// Package db embeds the schema applied at startup.
package db

import _ "embed"

// Schema contains the DDL for the instrument tables and the redemption
// ledger.
//
//go:embed migrations/001_schema.sql
var Schema string
