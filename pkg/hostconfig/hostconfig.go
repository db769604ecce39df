// Package hostconfig adds and removes plugins in the host site's
// configuration file. YAML, TOML and JSON files are supported; the format
// is chosen by extension.
package hostconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// PluginsKey is the top-level list holding plugins.
const PluginsKey = "plugins"

// resolveKey names the plugin in object-form entries: {resolve: name, options: ...}.
const resolveKey = "resolve"

// Configurer edits the host configuration.
type Configurer interface {
	UpdatePlugins(ctx context.Context, names []string, add bool) error
}

// File is a Configurer bound to one configuration file.
type File struct {
	Path string
}

// UpdatePlugins implements Configurer.
func (f File) UpdatePlugins(_ context.Context, names []string, add bool) error {
	return UpdatePlugins(f.Path, names, add)
}

// UpdatePlugin adds or removes a single plugin.
func UpdatePlugin(path, name string, add bool) error {
	return UpdatePlugins(path, []string{name}, add)
}

// UpdatePlugins adds names to, or removes them from, the plugin list in
// path. Adding a plugin that is already listed and removing one that is
// not are no-ops; the file is only rewritten when something changed. A
// missing file is created when adding.
func UpdatePlugins(path string, names []string, add bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if !add {
			return nil
		}
		data = nil
	} else if err != nil {
		return fmt.Errorf("read host config: %w", err)
	}

	var out []byte
	var changed bool
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		out, changed, err = updateYAML(data, names, add)
	case ".toml":
		out, changed, err = updateTOML(data, names, add)
	case ".json":
		out, changed, err = updateJSON(data, names, add)
	default:
		return fmt.Errorf("host config %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return fmt.Errorf("host config %s: %w", path, err)
	}
	if !changed {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create host config dir: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write host config: %w", err)
	}
	return nil
}

// Plugins lists the plugin names configured in path.
func Plugins(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host config: %w", err)
	}
	var list []any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		list, _ = doc[PluginsKey].([]any)
	case ".toml":
		var doc map[string]any
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, err
		}
		list = anyList(doc[PluginsKey])
	case ".json":
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		list, _ = doc[PluginsKey].([]any)
	default:
		return nil, fmt.Errorf("unsupported host config %s", path)
	}
	var names []string
	for _, item := range list {
		if n := pluginName(item); n != "" {
			names = append(names, n)
		}
	}
	return names, nil
}

func pluginName(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case map[string]any:
		s, _ := v[resolveKey].(string)
		return s
	case *orderedmap.OrderedMap[string, any]:
		r, _ := v.Get(resolveKey)
		s, _ := r.(string)
		return s
	}
	return ""
}

// editList applies the add/remove to a decoded plugin list.
func editList(list []any, names []string, add bool) ([]any, bool) {
	changed := false
	for _, name := range names {
		idx := -1
		for i, item := range list {
			if pluginName(item) == name {
				idx = i
				break
			}
		}
		switch {
		case add && idx < 0:
			list = append(list, name)
			changed = true
		case !add && idx >= 0:
			list = append(list[:idx], list[idx+1:]...)
			changed = true
		}
	}
	return list, changed
}

func anyList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out
	}
	return nil
}

func updateYAML(data []byte, names []string, add bool) ([]byte, bool, error) {
	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, false, err
		}
	}
	// A file holding only comments has no document node; its text is kept
	// above the new mapping.
	var prefix []byte
	if doc.Kind == 0 || len(doc.Content) == 0 || doc.Content[0].ShortTag() == "!!null" {
		prefix = data
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, false, fmt.Errorf("top level is not a mapping")
	}

	var seq *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == PluginsKey {
			seq = root.Content[i+1]
			break
		}
	}
	if seq == nil {
		if !add {
			return nil, false, nil
		}
		seq = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: PluginsKey}, seq)
	}
	if seq.Kind == yaml.ScalarNode && seq.ShortTag() == "!!null" {
		if !add {
			return nil, false, nil
		}
		seq.Kind, seq.Tag, seq.Value, seq.Style = yaml.SequenceNode, "!!seq", "", 0
	}
	if seq.Kind != yaml.SequenceNode {
		return nil, false, fmt.Errorf("%s is not a list", PluginsKey)
	}

	changed := false
	for _, name := range names {
		idx := -1
		for i, item := range seq.Content {
			if yamlPluginName(item) == name {
				idx = i
				break
			}
		}
		switch {
		case add && idx < 0:
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name})
			changed = true
		case !add && idx >= 0:
			seq.Content = append(seq.Content[:idx], seq.Content[idx+1:]...)
			changed = true
		}
	}
	if !changed {
		return nil, false, nil
	}

	var buf bytes.Buffer
	if p := bytes.TrimRight(prefix, " \t\r\n"); len(p) > 0 {
		buf.Write(p)
		buf.WriteByte('\n')
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, false, err
	}
	if err := enc.Close(); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

func yamlPluginName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == resolveKey {
				return n.Content[i+1].Value
			}
		}
	}
	return ""
}

func updateTOML(data []byte, names []string, add bool) ([]byte, bool, error) {
	doc := map[string]any{}
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, false, err
	}
	list, changed := editList(anyList(doc[PluginsKey]), names, add)
	if !changed {
		return nil, false, nil
	}
	doc[PluginsKey] = list

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

func updateJSON(data []byte, names []string, add bool) ([]byte, bool, error) {
	doc := orderedmap.New[string, any]()
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, false, err
		}
	}
	current, _ := doc.Get(PluginsKey)
	list, _ := current.([]any)
	list, changed := editList(list, names, add)
	if !changed {
		return nil, false, nil
	}
	doc.Set(PluginsKey, list)

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, false, err
	}
	return append(out, '\n'), true, nil
}
