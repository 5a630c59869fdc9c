// Package filters decodes stream payloads. The parser core only ever
// needs this for xref streams and object streams, but the pipeline is
// shared with any caller that wants decoded payloads.
package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"io"

	tifflzw "golang.org/x/image/tiff/lzw"

	"github.com/veraPDF/pdfbox/ir/raw"
)

type Decoder interface {
	Name() string
	Decode(input []byte, params *raw.DictObj) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
}

type Pipeline struct {
	decoders []Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with the provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	return &Pipeline{decoders: decoders, limits: limits}
}

// Standard returns a pipeline with every decoder the core knows.
func Standard(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCIIHexDecoder(),
		NewASCII85Decoder(),
		NewRunLengthDecoder(),
	}, limits)
}

func (p *Pipeline) findDecoder(name string) Decoder {
	for _, d := range p.decoders {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Decode runs input through each named filter in order.
func (p *Pipeline) Decode(input []byte, filterNames []string, params []*raw.DictObj) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, errors.New("unknown filter: " + name)
		}
		var param *raw.DictObj
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(data, param)
		if err != nil {
			return nil, err
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, errors.New("decompressed size exceeds limit")
		}
		data = out
	}
	return data, nil
}

// ForStream reads /Filter and /DecodeParms off a stream dictionary.
func ForStream(d *raw.DictObj) ([]string, []*raw.DictObj) {
	fObj, ok := d.Get("Filter")
	if !ok {
		return nil, nil
	}
	var names []string
	switch v := fObj.(type) {
	case raw.NameObj:
		names = []string{v.Val}
	case *raw.ArrayObj:
		for _, it := range v.Items {
			if n, ok := it.(raw.NameObj); ok {
				names = append(names, n.Val)
			}
		}
	}
	var params []*raw.DictObj
	if dp, ok := d.Get("DecodeParms"); ok {
		switch p := dp.(type) {
		case *raw.DictObj:
			params = append(params, p)
		case *raw.ArrayObj:
			for _, it := range p.Items {
				dd, _ := it.(*raw.DictObj)
				params = append(params, dd)
			}
		}
	}
	return names, params
}

type flateDecoder struct{}

func NewFlateDecoder() Decoder    { return flateDecoder{} }
func (flateDecoder) Name() string { return "FlateDecode" }

func (flateDecoder) Decode(in []byte, params *raw.DictObj) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(in))
	var out bytes.Buffer
	if err == nil {
		_, err = io.Copy(&out, zr)
		zr.Close()
	}
	if err != nil {
		// Some producers emit raw deflate data without the zlib wrapper.
		fr := flate.NewReader(bytes.NewReader(in))
		defer fr.Close()
		out.Reset()
		if _, ferr := io.Copy(&out, fr); ferr != nil {
			return nil, err
		}
	}
	return applyPredictor(out.Bytes(), params)
}

type lzwDecoder struct{}

func NewLZWDecoder() Decoder    { return lzwDecoder{} }
func (lzwDecoder) Name() string { return "LZWDecode" }

func (lzwDecoder) Decode(in []byte, params *raw.DictObj) ([]byte, error) {
	// PDF LZW defaults to EarlyChange 1, the TIFF variant.
	r := tifflzw.NewReader(bytes.NewReader(in), tifflzw.MSB, 8)
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && out.Len() == 0 {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder    { return asciiHexDecoder{} }
func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(in []byte, params *raw.DictObj) ([]byte, error) {
	var trimmed []byte
	for _, c := range in {
		if c == '>' {
			break
		}
		if c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20 {
			continue
		}
		trimmed = append(trimmed, c)
	}
	if len(trimmed)%2 == 1 {
		trimmed = append(trimmed, '0')
	}
	out := make([]byte, hex.DecodedLen(len(trimmed)))
	n, err := hex.Decode(out, trimmed)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder    { return ascii85Decoder{} }
func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(in []byte, params *raw.DictObj) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	if bytes.HasPrefix(trimmed, []byte("<~")) {
		trimmed = trimmed[2:]
	}
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, len(trimmed)*4/5+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type runLengthDecoder struct{}

func NewRunLengthDecoder() Decoder    { return runLengthDecoder{} }
func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (runLengthDecoder) Decode(in []byte, params *raw.DictObj) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(in); {
		length := int(in[i])
		i++
		if length == 128 {
			break
		}
		if length < 128 {
			end := i + length + 1
			if end > len(in) {
				return nil, errors.New("run length data truncated")
			}
			out.Write(in[i:end])
			i = end
		} else {
			if i >= len(in) {
				return nil, errors.New("run length data truncated")
			}
			for j := 0; j < 257-length; j++ {
				out.WriteByte(in[i])
			}
			i++
		}
	}
	return out.Bytes(), nil
}
