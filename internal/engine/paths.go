package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gisengine/pkg/component"
)

// WithDataRoot confines every file-typed parameter to dir. Relative paths are
// resolved against it and paths leaving it fail input validation. An empty
// dir leaves paths untouched.
func WithDataRoot(dir string) Option {
	return func(e *Engine) {
		if dir == "" {
			e.dataRoot = ""
			return
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		e.dataRoot = filepath.Clean(dir)
	}
}

// confinePaths rewrites the string inputs of file parameters to absolute paths
// under root.
func confinePaths(root string, params []component.ParameterSpec, in component.Inputs) error {
	if root == "" {
		return nil
	}
	for _, p := range params {
		if p.Type != component.ParamFile {
			continue
		}
		raw, ok := in.String(p.Name)
		if !ok || raw == "" {
			continue
		}
		resolved, err := resolveUnder(root, raw)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		in[p.Name] = component.String(resolved)
	}
	return nil
}

func resolveUnder(root, path string) (string, error) {
	var rel string
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(root, filepath.Clean(path))
		if err != nil {
			return "", fmt.Errorf("path %q is outside the data root", path)
		}
		rel = r
	} else {
		rel = filepath.Clean(path)
	}
	if rel == "." || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("path %q is outside the data root", path)
	}
	full := filepath.Join(root, rel)
	if err := checkSymlinks(root, full); err != nil {
		return "", fmt.Errorf("path %q: %w", path, err)
	}
	return full, nil
}

// checkSymlinks resolves the deepest existing ancestor of full and makes sure
// it still lies under root.
func checkSymlinks(root, full string) error {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	dir := full
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			if resolved != realRoot && !strings.HasPrefix(resolved, realRoot+string(filepath.Separator)) {
				return fmt.Errorf("resolves outside the data root")
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}
