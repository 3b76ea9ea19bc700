package flatfile

import "os"

const DefaultFileMode os.FileMode = 0o600

// Config captures flat file store settings.
type Config struct {
	// Path is the backing file; it is created when absent.
	Path string

	// FileMode applies to the backing file and its temporary rewrites.
	FileMode os.FileMode
}

func (c *Config) fileMode() os.FileMode {
	if c.FileMode == 0 {
		return DefaultFileMode
	}
	return c.FileMode
}
