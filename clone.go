package cache

import (
	"fmt"
	"reflect"
	"strings"

	cbor "github.com/fxamacker/cbor/v2"
)

// Cloner is implemented by values that know how to deep-copy themselves.
// When Config.CloneValues is set, Get hands out Clone() instead of the stored value.
type Cloner[V any] interface {
	Clone() V
}

// cloneValue returns a copy of v that shares no mutable state with it.
// Values implementing Cloner are trusted; everything else takes a CBOR round
// trip. On encoding failure v itself is returned along with the error.
func cloneValue[V any](v V) (V, error) {
	if c, ok := any(v).(Cloner[V]); ok {
		return c.Clone(), nil
	}

	b, err := cbor.Marshal(v)
	if err != nil {
		return v, err
	}
	var out V
	if err := cbor.Unmarshal(b, &out); err != nil {
		return v, err
	}
	return out, nil
}

// checkCloneable reports whether values of type V come back from cloneValue
// unchanged. A CBOR round trip silently drops unexported and "-"-tagged struct
// fields and cannot restore the dynamic type behind an interface, so such types
// must implement Cloner instead.
func checkCloneable[V any]() error {
	t := reflect.TypeOf((*V)(nil)).Elem()
	if t.Implements(reflect.TypeOf((*Cloner[V])(nil)).Elem()) {
		return nil
	}
	return walkCloneable(t, t.String(), make(map[reflect.Type]bool))
}

func walkCloneable(t reflect.Type, path string, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Interface:
		return fmt.Errorf("%s: interface type %s loses its dynamic type when cloned; implement Cloner", path, t)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Uintptr,
		reflect.Complex64, reflect.Complex128:
		return fmt.Errorf("%s: %s values cannot be cloned; implement Cloner", path, t.Kind())
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return walkCloneable(t.Elem(), path+"[]", seen)
	case reflect.Map:
		if err := walkCloneable(t.Key(), path+"[key]", seen); err != nil {
			return err
		}
		return walkCloneable(t.Elem(), path+"[value]", seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			fieldPath := path + "." + f.Name
			if !f.IsExported() {
				return fmt.Errorf("%s: unexported field would be dropped when cloned; implement Cloner", fieldPath)
			}
			if skippedByTag(f.Tag) {
				return fmt.Errorf("%s: field tagged \"-\" would be dropped when cloned; implement Cloner", fieldPath)
			}
			if err := walkCloneable(f.Type, fieldPath, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// skippedByTag mirrors the CBOR encoder, which honours cbor tags and falls back to json tags.
func skippedByTag(tag reflect.StructTag) bool {
	name, ok := tag.Lookup("cbor")
	if !ok {
		name = tag.Get("json")
	}
	name, _, _ = strings.Cut(name, ",")
	return name == "-"
}
