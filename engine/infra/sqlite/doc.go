// Package sqlite provides the modernc.org/sqlite backed record store.
//
// The package mirrors the postgres driver layout: the schema is applied with
// embedded goose migrations on connect, statements are built with squirrel
// and rows are scanned with scany.
package sqlite
