package raw

// NameObj is a PDF name. Val holds the decoded bytes (after #xx expansion);
// comparison is bytewise.
type NameObj struct{ Val string }

func (n NameObj) Type() string { return "name" }

// NumberObj is a PDF numeric value, integer or real.
type NumberObj struct {
	I     int64
	F     float64
	IsInt bool
}

func (n NumberObj) Type() string { return "number" }
func (n NumberObj) Int() int64 {
	if n.IsInt {
		return n.I
	}
	return int64(n.F)
}
func (n NumberObj) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}

type BoolObj struct{ V bool }

func (b BoolObj) Type() string { return "boolean" }

type NullObj struct{}

func (NullObj) Type() string { return "null" }

// StringObj is a PDF string. HexCount and HexOnly are populated for hex
// strings during validation parsing and stay zero otherwise.
type StringObj struct {
	Bytes    []byte
	Kind     StringKind
	HexCount int64
	HexOnly  bool
}

func (s StringObj) Type() string { return "string" }
func (s StringObj) IsHex() bool  { return s.Kind == StringHex }

type ArrayObj struct{ Items []Object }

func (a *ArrayObj) Type() string { return "array" }
func (a *ArrayObj) Len() int     { return len(a.Items) }
func (a *ArrayObj) Get(i int) (Object, bool) {
	if i < 0 || i >= len(a.Items) {
		return nil, false
	}
	return a.Items[i], true
}
func (a *ArrayObj) Append(o Object) { a.Items = append(a.Items, o) }

// DictObj is a PDF dictionary. Keys keep insertion order; setting an
// existing key replaces the value in place.
type DictObj struct {
	keys []string
	kv   map[string]Object
}

func Dict() *DictObj { return &DictObj{kv: make(map[string]Object)} }

func (d *DictObj) Type() string { return "dict" }
func (d *DictObj) Len() int     { return len(d.keys) }

func (d *DictObj) Get(key string) (Object, bool) {
	o, ok := d.kv[key]
	return o, ok
}

func (d *DictObj) Has(key string) bool {
	_, ok := d.kv[key]
	return ok
}

// Set stores value under key and reports whether the key already existed.
func (d *DictObj) Set(key string, value Object) bool {
	if d.kv == nil {
		d.kv = make(map[string]Object)
	}
	_, existed := d.kv[key]
	if !existed {
		d.keys = append(d.keys, key)
	}
	d.kv[key] = value
	return existed
}

func (d *DictObj) Delete(key string) {
	if _, ok := d.kv[key]; !ok {
		return
	}
	delete(d.kv, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the key names in insertion order.
func (d *DictObj) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Typed accessors used throughout xref and trailer handling.

func (d *DictObj) GetName(key string) (string, bool) {
	if v, ok := d.kv[key]; ok {
		if n, ok := v.(NameObj); ok {
			return n.Val, true
		}
	}
	return "", false
}

func (d *DictObj) GetInt(key string) (int64, bool) {
	if v, ok := d.kv[key]; ok {
		if n, ok := v.(NumberObj); ok && n.IsInt {
			return n.I, true
		}
	}
	return 0, false
}

func (d *DictObj) GetArray(key string) (*ArrayObj, bool) {
	if v, ok := d.kv[key]; ok {
		if a, ok := v.(*ArrayObj); ok {
			return a, true
		}
	}
	return nil, false
}

func (d *DictObj) GetDict(key string) (*DictObj, bool) {
	if v, ok := d.kv[key]; ok {
		if sub, ok := v.(*DictObj); ok {
			return sub, true
		}
	}
	return nil, false
}

// StreamObj pairs a stream dictionary with its raw payload.
type StreamObj struct {
	Dict    *DictObj
	payload Blob

	// OriginLength is the payload length computed from file positions
	// when the stream is parsed (in every mode), before any EOL trimming.
	OriginLength int64
}

func NewStream(dict *DictObj, payload Blob) *StreamObj {
	return &StreamObj{Dict: dict, payload: payload}
}

func (s *StreamObj) Type() string { return "stream" }
func (s *StreamObj) RawData() []byte {
	if s.payload == nil {
		return nil
	}
	return s.payload.Bytes()
}
func (s *StreamObj) Length() int64 {
	if s.payload == nil {
		return 0
	}
	return s.payload.Len()
}
func (s *StreamObj) Payload() Blob { return s.payload }

// SetPayload replaces the payload, e.g. after decryption.
func (s *StreamObj) SetPayload(b Blob) { s.payload = b }

// RefObj is a lazy indirect reference; it always resolves through the
// document's object store.
type RefObj struct{ Key ObjectKey }

func (r RefObj) Type() string { return "ref" }

// Constructors mirroring the value tags.

func Name(v string) NameObj      { return NameObj{Val: v} }
func Int(i int64) NumberObj      { return NumberObj{I: i, IsInt: true} }
func Real(f float64) NumberObj   { return NumberObj{F: f} }
func Bool(v bool) BoolObj        { return BoolObj{V: v} }
func Null() NullObj              { return NullObj{} }
func Str(b []byte) StringObj     { return StringObj{Bytes: b} }
func HexStr(b []byte) StringObj  { return StringObj{Bytes: b, Kind: StringHex} }
func Array(items ...Object) *ArrayObj {
	return &ArrayObj{Items: items}
}
func Ref(num int64, gen int) RefObj { return RefObj{Key: ObjectKey{Num: num, Gen: gen}} }
