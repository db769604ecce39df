package hostconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Script is one entry of package.json "scripts".
type Script struct {
	Name    string
	Command string
}

// UpdateScripts sets scripts in the package.json at path, keeping the
// existing key order. Existing scripts with the same name are replaced.
func UpdateScripts(path string, scripts []Script) error {
	pkg := orderedmap.New[string, any]()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read package.json: %w", err)
	default:
		if err := json.Unmarshal(data, pkg); err != nil {
			return fmt.Errorf("parse package.json: %w", err)
		}
	}

	section := orderedmap.New[string, any]()
	if raw, ok := pkg.Get("scripts"); ok {
		existing, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("package.json scripts is not an object")
		}
		// Nested objects decode unordered; re-read the section to keep its order.
		if err := reorder(data, section); err != nil {
			for k, v := range existing {
				section.Set(k, v)
			}
		}
	}

	changed := false
	for _, s := range scripts {
		if cur, ok := section.Get(s.Name); ok && cur == s.Command {
			continue
		}
		section.Set(s.Name, s.Command)
		changed = true
	}
	if !changed {
		return nil
	}
	pkg.Set("scripts", section)

	out, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode package.json: %w", err)
	}
	return os.WriteFile(path, append(out, '\n'), 0o644)
}

func reorder(data []byte, section *orderedmap.OrderedMap[string, any]) error {
	var top struct {
		Scripts json.RawMessage `json:"scripts"`
	}
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	return json.Unmarshal(top.Scripts, section)
}
