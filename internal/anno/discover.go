package anno

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/b2d-phantom/recorder/pkg/core"
)

// DirName is the per-instance annotation directory.
const DirName = "anno"

var (
	ErrNoAnnoDir   = errors.New("annotation directory not found")
	ErrNoFrames    = errors.New("no annotation files found")
	ErrNoMapName   = errors.New("instance name has no Town token")
	ErrNoInstances = errors.New("no instances found")
)

// ListFrames returns the sorted *.json.gz files of an annotation directory.
func ListFrames(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoAnnoDir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json.gz"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoFrames)
	}
	sort.Strings(files)
	return files, nil
}

// MapName extracts the simulator map from an instance name such as
// "Accident_Town03_Route156_Weather0".
func MapName(instanceName string) (string, error) {
	for _, part := range strings.Split(instanceName, "_") {
		if strings.HasPrefix(part, "Town") {
			return part, nil
		}
	}
	return "", fmt.Errorf("%q: %w", instanceName, ErrNoMapName)
}

// Discover lists the instances under root. When root itself holds an anno
// directory it is the only instance; otherwise every immediate
// subdirectory with one is, in name order. MapName is filled in when the
// name carries a Town token and left empty otherwise.
func Discover(root string) ([]core.Instance, error) {
	if hasAnnoDir(root) {
		return []core.Instance{newInstance(root)}, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset directory: %w", err)
	}

	var instances []core.Instance
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if hasAnnoDir(dir) {
			instances = append(instances, newInstance(dir))
		}
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("%s: %w", root, ErrNoInstances)
	}
	return instances, nil
}

func hasAnnoDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, DirName))
	return err == nil && info.IsDir()
}

func newInstance(dir string) core.Instance {
	name := filepath.Base(filepath.Clean(dir))
	mapName, _ := MapName(name)
	return core.Instance{
		Name:    name,
		Dir:     dir,
		AnnoDir: filepath.Join(dir, DirName),
		MapName: mapName,
	}
}
