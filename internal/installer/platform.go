package installer

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Platform names follow the desktop shell's convention, not GOOS.
type Platform string

const (
	PlatformDarwin  Platform = "darwin"
	PlatformLinux   Platform = "linux"
	PlatformWindows Platform = "win32"
)

const binaryName = "sumo-daemon"

var assetNames = map[Platform]string{
	PlatformDarwin:  "sumo-daemon-darwin-amd64",
	PlatformLinux:   "sumo-daemon-linux-amd64",
	PlatformWindows: "sumo-daemon-windows-amd64.exe",
}

// PlatformFromGOOS maps a runtime.GOOS value to a Platform.
func PlatformFromGOOS(goos string) (Platform, bool) {
	switch goos {
	case "darwin":
		return PlatformDarwin, true
	case "linux":
		return PlatformLinux, true
	case "windows", "win32":
		return PlatformWindows, true
	default:
		return "", false
	}
}

// NormalizeArch folds the aliases used by Node, uname and GOARCH.
func NormalizeArch(arch string) string {
	switch strings.ToLower(arch) {
	case "amd64", "x64", "x86_64":
		return "amd64"
	case "arm64", "aarch64":
		return "arm64"
	default:
		return strings.ToLower(arch)
	}
}

// Executable reports whether installed artifacts need the POSIX execute bit.
func (p Platform) Executable() bool {
	return p != PlatformWindows
}

// Release locates the release that carries the daemon assets.
type Release struct {
	Host  string
	Owner string
	Repo  string
	// Tag selects a specific release; empty or "latest" follows the latest one.
	Tag string
	// BaseURL overrides https://<Host>, for mirrors and tests.
	BaseURL string
}

func (r Release) base() string {
	if r.BaseURL != "" {
		return strings.TrimRight(r.BaseURL, "/")
	}

	return "https://" + r.Host
}

// AssetURL returns the download URL of the named asset.
func (r Release) AssetURL(assetName string) string {
	if r.Tag == "" || r.Tag == "latest" {
		return fmt.Sprintf("%s/%s/%s/releases/latest/download/%s", r.base(), r.Owner, r.Repo, assetName)
	}

	return fmt.Sprintf("%s/%s/%s/releases/download/%s/%s", r.base(), r.Owner, r.Repo, r.Tag, assetName)
}

// ReleaseAsset identifies one fetchable artifact.
type ReleaseAsset struct {
	Platform  Platform
	Arch      string
	AssetName string
	SourceURL string
}

// ResolveAsset maps a platform/architecture pair to its release asset. Only
// amd64 builds are published; arm64 is accepted on darwin, which runs the
// amd64 build under translation.
func ResolveAsset(platform Platform, arch string, release Release) (ReleaseAsset, error) {
	name, ok := assetNames[platform]
	if !ok {
		return ReleaseAsset{}, &UnsupportedPlatformError{Platform: string(platform), Arch: arch}
	}

	normalized := NormalizeArch(arch)

	switch {
	case normalized == "amd64":
	case normalized == "arm64" && platform == PlatformDarwin:
	default:
		return ReleaseAsset{}, &UnsupportedPlatformError{Platform: string(platform), Arch: arch}
	}

	return ReleaseAsset{
		Platform:  platform,
		Arch:      normalized,
		AssetName: name,
		SourceURL: release.AssetURL(name),
	}, nil
}

// DestinationPath is <binDir>/<platform>/sumo-daemon, with .exe on win32.
func DestinationPath(binDir string, platform Platform) string {
	name := binaryName
	if platform == PlatformWindows {
		name += ".exe"
	}

	return filepath.Join(binDir, string(platform), name)
}
