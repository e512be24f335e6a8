package types

import (
	"encoding/json"

	"github.com/juju/errors"
	"github.com/spf13/cast"

	"github.com/oabdelmaksoud/taskflow/utils"
)

// Data is the variable bag used for sequence variables, node parameters,
// resolved inputs/outputs and event payloads.
type Data map[string]any

func (d *Data) Get(key string) (any, bool) {
	v, exists := (*d)[key]
	return v, exists
}

func (d *Data) GetString(key string) (string, bool) {
	v, exists := d.Get(key)
	return cast.ToString(v), exists
}

func (d *Data) GetInt(key string) (int, bool) {
	v, exists := d.Get(key)
	return cast.ToInt(v), exists
}

func (d *Data) GetInt64(key string) (int64, bool) {
	v, exists := d.Get(key)
	return cast.ToInt64(v), exists
}

func (d *Data) GetBool(key string) (bool, bool) {
	v, exists := d.Get(key)
	return cast.ToBool(v), exists
}

func (d *Data) GetFloat64(key string) (float64, bool) {
	v, exists := d.Get(key)
	return cast.ToFloat64(v), exists
}

func (d *Data) GetStruct(key string, s any) error {
	v, exists := d.Get(key)
	if !exists {
		return errors.NotFound
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Annotatef(err, "marshal %s", key)
	}
	return json.Unmarshal(b, s)
}

func (d *Data) Set(key string, value any) {
	(*d)[key] = value
}

// Clone returns a shallow copy. Nested values are shared.
func (d Data) Clone() Data {
	return utils.CloneMap(d)
}

// Merge overlays other onto d. Values in other win.
func (d *Data) Merge(other Data) {
	if *d == nil {
		*d = make(Data, len(other))
	}
	for k, v := range other {
		(*d)[k] = v
	}
}
