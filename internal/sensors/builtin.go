// Package sensors ships the descriptors of the sensor parts supported out
// of the box. Files here are the lowest-priority entry of the descriptor
// search path; a file of the same name in a configured directory wins.
package sensors

import (
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed descriptors/*.json descriptors/*.yaml descriptors/*.toml
var files embed.FS

// FS returns the built-in descriptor files, rooted at the descriptor
// directory.
func FS() fs.FS {
	sub, err := fs.Sub(files, "descriptors")
	if err != nil {
		panic(err)
	}
	return sub
}

// Names lists the built-in sensor names.
func Names() []string {
	entries, _ := fs.ReadDir(files, "descriptors")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}
