package devices

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

var extensions = map[string]Format{
	".json": FormatJSON,
	".yaml": FormatYAML,
	".yml":  FormatYAML,
	".toml": FormatTOML,
}

// ErrDescriptorNotFound is returned when no source holds the named descriptor.
var ErrDescriptorNotFound = errors.New("descriptor not found")

// lookup order when one directory holds several formats of the same name
var extensionOrder = []string{".json", ".yaml", ".yml", ".toml"}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatYAML, FormatTOML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown descriptor format: %s", s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatTOML:
		return "application/toml"
	default:
		return "application/json"
	}
}

// FormatOf derives the format from a file extension.
func FormatOf(filename string) (Format, bool) {
	f, ok := extensions[strings.ToLower(path.Ext(filename))]
	return f, ok
}

// DescriptorLoader resolves sensor names to validated descriptors. Search
// paths are consulted in order, the built-in set last.
type DescriptorLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
	sources     []fs.FS
	logger      *zap.Logger
}

func NewDescriptorLoader(searchPaths []string, builtin fs.FS, logger *zap.Logger) (*DescriptorLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	sources := make([]fs.FS, 0, len(searchPaths)+1)
	for _, p := range searchPaths {
		sources = append(sources, os.DirFS(p))
	}
	if builtin != nil {
		sources = append(sources, builtin)
	}

	return &DescriptorLoader{
		validator:   validator,
		searchPaths: searchPaths,
		sources:     sources,
		logger:      logger,
	}, nil
}

func (l *DescriptorLoader) Load(name string) (*sensor.Descriptor, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*sensor.Descriptor), nil
	}

	for _, src := range l.sources {
		for _, ext := range extensionOrder {
			format := extensions[ext]
			data, err := fs.ReadFile(src, name+ext)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read descriptor %s: %w", name+ext, err)
			}

			desc, err := l.Decode(format, data)
			if err != nil {
				return nil, fmt.Errorf("descriptor %s: %w", name+ext, err)
			}
			if desc.Name != name {
				return nil, fmt.Errorf("descriptor %s declares name %q", name+ext, desc.Name)
			}

			l.cache.Store(name, desc)
			l.logger.Debug("Descriptor loaded",
				zap.String("name", name),
				zap.String("format", string(format)))
			return desc, nil
		}
	}

	return nil, fmt.Errorf("%w: %s (searched in: %v and built-ins)", ErrDescriptorNotFound, name, l.searchPaths)
}

// Decode validates and decodes one descriptor document.
func (l *DescriptorLoader) Decode(format Format, data []byte) (*sensor.Descriptor, error) {
	canonical, err := Canonicalize(format, data)
	if err != nil {
		return nil, err
	}

	if err := l.validator.ValidateDescriptor(canonical); err != nil {
		return nil, err
	}

	var desc sensor.Descriptor
	if err := json.Unmarshal(canonical, &desc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal descriptor: %w", err)
	}
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	return &desc, nil
}

// Available lists every descriptor name reachable from the loader.
func (l *DescriptorLoader) Available() []string {
	seen := make(map[string]struct{})
	for _, src := range l.sources {
		entries, err := fs.ReadDir(src, ".")
		if err != nil {
			continue
		}
		for _, e := range entries {
			if _, ok := FormatOf(e.Name()); ok && !e.IsDir() {
				seen[strings.TrimSuffix(e.Name(), path.Ext(e.Name()))] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (l *DescriptorLoader) Invalidate(name string) {
	l.cache.Delete(name)
}

func (l *DescriptorLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}

// Canonicalize converts a descriptor in any supported format to JSON so
// schema validation and decoding share one path.
func Canonicalize(format Format, data []byte) ([]byte, error) {
	var doc interface{}
	switch format {
	case FormatJSON:
		return data, nil
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown descriptor format: %s", format)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s to JSON: %w", format, err)
	}
	return out, nil
}

// Encode renders a descriptor in the requested format.
func Encode(format Format, desc *sensor.Descriptor) ([]byte, error) {
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal descriptor: %w", err)
	}
	if format == FormatJSON {
		return append(data, '\n'), nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	doc = plain(doc)

	switch format {
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatTOML:
		return toml.Marshal(doc)
	default:
		return nil, fmt.Errorf("unknown descriptor format: %s", format)
	}
}

// plain drops nulls and turns json.Number into int64 or float64, which
// both the YAML and TOML encoders write as bare numbers.
func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if child == nil {
				delete(t, k)
				continue
			}
			t[k] = plain(child)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = plain(t[i])
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
