package store

import (
	"strings"
)

// Backend identifies one of the closed set of storage implementations.
type Backend string

const (
	BackendFlatFile Backend = "flatfile"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Backends lists the supported identifiers in display order.
func Backends() []Backend {
	return []Backend{BackendFlatFile, BackendSQLite, BackendPostgres}
}

func (b Backend) String() string { return string(b) }

// ParseBackend maps a user supplied identifier to a Backend. "sqlite3" is
// accepted as an alias of sqlite. Unknown identifiers fail with
// ErrUnknownBackend.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "flatfile":
		return BackendFlatFile, nil
	case "sqlite", "sqlite3":
		return BackendSQLite, nil
	case "postgres":
		return BackendPostgres, nil
	default:
		return "", Errorf(KindUnknownBackend, "", "create", "%q is not one of %s", name, backendList())
	}
}

func backendList() string {
	names := make([]string, 0, 3)
	for _, b := range Backends() {
		names = append(names, string(b))
	}
	return strings.Join(names, ", ")
}
