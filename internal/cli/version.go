// Package cli holds the pieces of the pfc command line that do not depend on
// cobra: project configuration, terminal output and version reporting.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/paraflow-lang/paraflow/internal/builtins"
)

// Version information for pfc
var (
	Version   = "0.1.0"
	CommitSHA = "unknown" // Set with -ldflags during release builds
)

// VersionInfo contains version and build information
type VersionInfo struct {
	Version   string `json:"version"`
	Language  string `json:"language"`
	CommitSHA string `json:"commit_sha"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
}

// GetVersionInfo returns structured version information
func GetVersionInfo() *VersionInfo {
	info := &VersionInfo{
		Version:   Version,
		Language:  builtins.LanguageVersion,
		CommitSHA: CommitSHA,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	if info.CommitSHA == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					info.CommitSHA = s.Value
				}
			}
		}
	}

	return info
}

// PrintVersion prints version information as text or JSON.
func PrintVersion(w io.Writer, tool string, jsonOutput bool) error {
	info := GetVersionInfo()

	if jsonOutput {
		data, err := json.MarshalIndent(map[string]interface{}{
			"tool":         tool,
			"version_info": info,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal version info: %w", err)
		}

		fmt.Fprintln(w, string(data))

		return nil
	}

	fmt.Fprintf(w, "%s v%s\n", tool, info.Version)
	fmt.Fprintf(w, "Language: %s\n", info.Language)

	if info.CommitSHA != "unknown" && info.CommitSHA != "" {
		fmt.Fprintf(w, "Commit: %s\n", info.CommitSHA)
	}

	fmt.Fprintf(w, "Go Version: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s/%s\n", info.Platform, info.Arch)

	return nil
}
