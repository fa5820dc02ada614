package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mailru/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrLoad   = errors.New("config: load failed")
	ErrValue  = errors.New("config: bad value")
	ErrNoPath = errors.New("config: path not found")
)

// Values is a Config backed by a parsed YAML document. Nested mappings are
// addressed with dotted keys, so
//
//	server:
//	  throw:
//	    read_timeout: 5s
//
// holds "server.throw.read_timeout".
//
// Variables are resolved when they are created. Values that cannot be
// converted to the variable type leave the default in place and are
// reported by Err.
type Values struct {
	tree map[string]interface{}
	flat map[string]interface{}

	mu   sync.Mutex
	errs []string
}

// LoadFile reads YAML document from path.
func LoadFile(path string) (*Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrLoad, "%s: %v", path, err)
	}

	v, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	return v, nil
}

// Parse parses YAML document.
func Parse(data []byte) (*Values, error) {
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, errors.Wrapf(ErrLoad, "%v", err)
	}

	return NewValues(tree)
}

// NewValues returns Values for the already decoded nested map.
func NewValues(tree map[string]interface{}) (*Values, error) {
	if tree == nil {
		tree = map[string]interface{}{}
	}

	v := &Values{
		tree: tree,
		flat: make(map[string]interface{}),
	}

	if err := flatten(v.flat, "", tree); err != nil {
		return nil, err
	}

	return v, nil
}

func flatten(dst map[string]interface{}, prefix string, src interface{}) error {
	switch m := src.(type) {
	case map[string]interface{}:
		for k, x := range m {
			if err := flatten(dst, prefix+k+".", x); err != nil {
				return err
			}
		}
	case map[interface{}]interface{}:
		for k, x := range m {
			if err := flatten(dst, prefix+fmt.Sprint(k)+".", x); err != nil {
				return err
			}
		}
	default:
		key := strings.TrimSuffix(prefix, ".")
		if key == "" {
			return errors.Wrap(ErrLoad, "document is not a mapping")
		}

		dst[key] = src
	}

	return nil
}

// Keys returns sorted list of leaf keys.
func (v *Values) Keys() []string {
	ret := make([]string, 0, len(v.flat))
	for k := range v.flat {
		ret = append(ret, k)
	}

	sort.Strings(ret)

	return ret
}

// Lookup returns raw value for the leaf key.
func (v *Values) Lookup(key string) (interface{}, bool) {
	x, ok := v.flat[key]
	return x, ok
}

// Err returns error describing every value that could not be converted.
func (v *Values) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.errs) == 0 {
		return nil
	}

	return errors.Wrap(ErrValue, strings.Join(v.errs, "; "))
}

func (v *Values) fail(key string, raw interface{}, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.errs = append(v.errs, fmt.Sprintf("%s=%v: %v", key, raw, err))
}

// Duration accepts duration strings ("1.5s") and numbers of seconds.
func (v *Values) Duration(key string, def time.Duration, _ string) *time.Duration {
	ret := def

	raw, ok := v.flat[key]
	if !ok {
		return &ret
	}

	switch x := raw.(type) {
	case string:
		d, err := time.ParseDuration(x)
		if err != nil {
			v.fail(key, raw, err)
			break
		}

		ret = d
	case int:
		ret = time.Duration(x) * time.Second
	case float64:
		ret = time.Duration(x * float64(time.Second))
	default:
		v.fail(key, raw, errors.Errorf("unexpected %T", raw))
	}

	return &ret
}

func (v *Values) Int(key string, def int, _ string) *int {
	ret := def
	v.scalar(key, &ret)

	return &ret
}

func (v *Values) Int64(key string, def int64, _ string) *int64 {
	ret := def
	v.scalar(key, &ret)

	return &ret
}

func (v *Values) Bool(key string, def bool, _ string) *bool {
	ret := def
	v.scalar(key, &ret)

	return &ret
}

func (v *Values) Float64(key string, def float64, _ string) *float64 {
	ret := def
	v.scalar(key, &ret)

	return &ret
}

func (v *Values) String(key string, def string, _ string) *string {
	ret := def
	v.scalar(key, &ret)

	return &ret
}

func (v *Values) scalar(key string, ptr interface{}) {
	raw, ok := v.flat[key]
	if !ok {
		return
	}

	if err := decode(raw, ptr, true); err != nil {
		v.fail(key, raw, err)
	}
}

// Struct decodes the mapping found at dotted path into ptr. Empty path
// means the whole document. Keys of the mapping that have no matching field
// are reported as an error.
func (v *Values) Struct(path string, ptr interface{}) error {
	var node interface{} = v.tree

	if path != "" {
		for _, part := range strings.Split(path, ".") {
			var ok bool

			switch m := node.(type) {
			case map[string]interface{}:
				node, ok = m[part]
			case map[interface{}]interface{}:
				node, ok = m[part]
			}

			if !ok {
				return errors.Wrap(ErrNoPath, path)
			}
		}
	}

	if err := decode(node, ptr, false); err != nil {
		return errors.Wrapf(ErrValue, "%s: %v", path, err)
	}

	return nil
}

func decode(in, out interface{}, weak bool) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		ZeroFields:       true,
		WeaklyTypedInput: weak,
		Result:           out,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(in)
}
