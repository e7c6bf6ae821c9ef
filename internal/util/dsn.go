package util

import "strings"

// DetectDSNType classifies a database DSN as "postgres" or "sqlite".
// PostgreSQL DSNs use either the postgres:// URL scheme or key=value pairs;
// anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "user=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
