package installer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAsset(t *testing.T) {
	release := Release{Host: "github.com", Owner: "0xMasayoshi", Repo: "sumo", Tag: "v0.0.0-alpha.0"}

	tests := []struct {
		name     string
		platform Platform
		arch     string
		want     string
		wantErr  bool
	}{
		{"darwin amd64", PlatformDarwin, "amd64", "sumo-daemon-darwin-amd64", false},
		{"darwin arm64", PlatformDarwin, "arm64", "sumo-daemon-darwin-amd64", false},
		{"linux x64", PlatformLinux, "x64", "sumo-daemon-linux-amd64", false},
		{"linux x86_64", PlatformLinux, "x86_64", "sumo-daemon-linux-amd64", false},
		{"windows amd64", PlatformWindows, "amd64", "sumo-daemon-windows-amd64.exe", false},
		{"linux arm64", PlatformLinux, "arm64", "", true},
		{"windows 386", PlatformWindows, "386", "", true},
		{"freebsd", Platform("freebsd"), "amd64", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset, err := ResolveAsset(tt.platform, tt.arch, release)
			if tt.wantErr {
				var unsupported *UnsupportedPlatformError
				require.ErrorAs(t, err, &unsupported)
				assert.Equal(t, tt.arch, unsupported.Arch)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, asset.AssetName)
			assert.Equal(t, "https://github.com/0xMasayoshi/sumo/releases/download/v0.0.0-alpha.0/"+tt.want, asset.SourceURL)
		})
	}
}

func TestRelease_AssetURL(t *testing.T) {
	r := Release{Host: "github.com", Owner: "o", Repo: "r"}
	assert.Equal(t, "https://github.com/o/r/releases/latest/download/a", r.AssetURL("a"))

	r.Tag = "latest"
	assert.Equal(t, "https://github.com/o/r/releases/latest/download/a", r.AssetURL("a"))

	r.Tag = "v1"
	r.BaseURL = "http://127.0.0.1:8080/"
	assert.Equal(t, "http://127.0.0.1:8080/o/r/releases/download/v1/a", r.AssetURL("a"))
}

func TestDestinationPath(t *testing.T) {
	assert.Equal(t, filepath.Join("bin", "darwin", "sumo-daemon"), DestinationPath("bin", PlatformDarwin))
	assert.Equal(t, filepath.Join("bin", "linux", "sumo-daemon"), DestinationPath("bin", PlatformLinux))
	assert.Equal(t, filepath.Join("bin", "win32", "sumo-daemon.exe"), DestinationPath("bin", PlatformWindows))
}

func TestPlatformFromGOOS(t *testing.T) {
	p, ok := PlatformFromGOOS("windows")
	assert.True(t, ok)
	assert.Equal(t, PlatformWindows, p)

	_, ok = PlatformFromGOOS("plan9")
	assert.False(t, ok)
}
