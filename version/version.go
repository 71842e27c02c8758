// Package version extracts build and dependency information from the
// running binary, for the admin build-info endpoint.
package version

import (
	"runtime/debug"
	"sort"
)

// Dependency is a single module dependency and its resolved version.
type Dependency struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Replace string `json:"replace,omitempty"`
}

// BuildInfo is the build-time information reported at /admin/version.
type BuildInfo struct {
	GoVersion    string       `json:"go_version"`
	MainModule   string       `json:"main_module"`
	MainVersion  string       `json:"main_version"`
	Dependencies []Dependency `json:"dependencies"`
}

// Get extracts BuildInfo from the binary's embedded module info.
func Get() *BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return &BuildInfo{GoVersion: "unknown", MainModule: "unknown", MainVersion: "unknown"}
	}

	bi := &BuildInfo{
		GoVersion:    info.GoVersion,
		MainModule:   info.Path,
		MainVersion:  info.Main.Version,
		Dependencies: make([]Dependency, 0, len(info.Deps)),
	}
	for _, dep := range info.Deps {
		d := Dependency{Path: dep.Path, Version: dep.Version}
		if dep.Replace != nil {
			d.Replace = dep.Replace.Path + "@" + dep.Replace.Version
		}
		bi.Dependencies = append(bi.Dependencies, d)
	}
	sort.Slice(bi.Dependencies, func(i, j int) bool { return bi.Dependencies[i].Path < bi.Dependencies[j].Path })

	return bi
}

// Of returns the resolved version of a specific dependency, or nil if the
// binary was not built against it.
func Of(modulePath string) *Dependency {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			d := &Dependency{Path: dep.Path, Version: dep.Version}
			if dep.Replace != nil {
				d.Replace = dep.Replace.Path + "@" + dep.Replace.Version
			}
			return d
		}
	}
	return nil
}
