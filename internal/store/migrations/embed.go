package migrations

import "embed"

// Files contains all SQL migration files, applied in ascending filename order.
//
//go:embed *.sql
var Files embed.FS
