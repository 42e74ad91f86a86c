package ids

import "github.com/tinylib/msgp/msgp"

// MarshalBinary encodes the registry's external strings, in internal-id
// order, as a msgp array-of-strings blob for distribution to every
// partition at setup time (§3 "serialization to/from a binary blob").
func (r *Registry[K]) MarshalBinary() ([]byte, error) {
	externals := r.Snapshot()
	b := msgp.AppendArrayHeader(nil, uint32(len(externals)))
	for _, e := range externals {
		b = msgp.AppendString(b, e)
	}
	return b, nil
}

// UnmarshalBinary decodes a blob produced by MarshalBinary and replaces the
// registry's contents with it, preserving id order.
func (r *Registry[K]) UnmarshalBinary(b []byte) error {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return err
	}
	externals := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		var s string
		s, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return err
		}
		externals = append(externals, s)
	}
	r.LoadSnapshot(externals)
	return nil
}
