package store

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Column is one column of an existing records table as reported by the
// database catalog.
type Column struct {
	Name       string `db:"name"`
	NotNull    bool   `db:"not_null"`
	PrimaryKey bool   `db:"primary_key"`
}

// CheckRecordsLayout fails unless cols describe exactly email as the sole
// primary key and non-null name and credential columns. Nullability of
// email is not checked: SQLite reports a non-integer primary key as
// nullable.
func CheckRecordsLayout(cols []Column) error {
	var problems []string
	seen := make(map[string]Column, len(cols))
	for _, c := range cols {
		seen[c.Name] = c
	}
	for _, name := range []string{"credential", "email", "name"} {
		if _, ok := seen[name]; !ok {
			problems = append(problems, fmt.Sprintf("missing column %s", name))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(seen)) {
		c := seen[name]
		switch name {
		case "email":
			if !c.PrimaryKey {
				problems = append(problems, "email is not the primary key")
			}
		case "name", "credential":
			if c.PrimaryKey {
				problems = append(problems, fmt.Sprintf("%s is part of the primary key", name))
			}
			if !c.NotNull {
				problems = append(problems, fmt.Sprintf("%s allows NULL", name))
			}
		default:
			problems = append(problems, fmt.Sprintf("unexpected column %s", name))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("schema mismatch: %s", strings.Join(problems, "; "))
	}
	return nil
}
