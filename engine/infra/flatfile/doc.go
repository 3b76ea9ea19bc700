// Package flatfile implements store.Store on a single line-oriented file.
//
// Each record occupies one line of the form
//
//	email<TAB>name<TAB>credential\n
//
// with tab, newline and backslash inside a field written as \t, \n and \\.
// Inserts append; removals rewrite the file through a temporary file that is
// renamed over the original, so an interrupted rewrite leaves either the old
// or the new file in place. Access from several processes is not
// coordinated.
package flatfile
