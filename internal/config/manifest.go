package config

import (
	"encoding/json"
	"errors"
	"io/fs"
)

var ErrManifestMissing = errors.New("package manifest not found")

const manifestPath = "package.json"

// PackageManifest holds the fields of package.json used to identify the
// project being served.
type PackageManifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// LoadPackageManifest reads package.json from the root of files.
func LoadPackageManifest(files fs.FS) (PackageManifest, error) {
	return loadManifestFromPath(files, manifestPath)
}

func loadManifestFromPath(files fs.FS, path string) (PackageManifest, error) {
	payload, err := fs.ReadFile(files, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return PackageManifest{}, ErrManifestMissing
		}
		return PackageManifest{}, err
	}
	var manifest PackageManifest
	if err := json.Unmarshal(payload, &manifest); err != nil {
		return PackageManifest{}, err
	}
	return manifest, nil
}
