//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package docstore

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/weaviate/gridmirror/entities/document"
)

// encodingVersion is the first byte of every stored document.
const encodingVersion byte = 1

var bufPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// encodeDocument serializes doc keeping the field order.
func encodeDocument(doc *document.Document) ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufPool.Put(buf)
	}()

	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(buf)

	buf.WriteByte(encodingVersion)
	if err := encodeMap(enc, doc); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func encodeMap(enc *msgpack.Encoder, m *document.Map) error {
	if err := enc.EncodeMapLen(m.Len()); err != nil {
		return err
	}
	var err error
	m.Range(func(key string, v document.Value) bool {
		if err = enc.EncodeString(key); err != nil {
			return false
		}
		err = encodeValue(enc, v)
		return err == nil
	})
	return err
}

func encodeValue(enc *msgpack.Encoder, v document.Value) error {
	switch v.Kind() {
	case document.KindNull:
		return enc.EncodeNil()
	case document.KindBool:
		b, _ := v.AsBool()
		return enc.EncodeBool(b)
	case document.KindInt:
		i, _ := v.AsInt()
		return enc.EncodeInt64(i)
	case document.KindFloat:
		f, _ := v.AsFloat()
		return enc.EncodeFloat64(f)
	case document.KindString:
		s, _ := v.AsString()
		return enc.EncodeString(s)
	case document.KindMap:
		m, _ := v.AsMap()
		return encodeMap(enc, m)
	case document.KindSeq:
		seq, _ := v.AsSeq()
		if err := enc.EncodeArrayLen(len(seq)); err != nil {
			return err
		}
		for _, item := range seq {
			if err := encodeValue(enc, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("cannot encode value of kind %s", v.Kind())
	}
}

func decodeDocument(data []byte) (*document.Document, error) {
	if len(data) == 0 {
		return nil, errors.New("empty document record")
	}
	if data[0] != encodingVersion {
		return nil, errors.Errorf("unsupported document encoding %d", data[0])
	}

	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(bytes.NewReader(data[1:]))

	v, err := decodeValue(dec)
	if err != nil {
		return nil, errors.Wrap(err, "decode document")
	}
	doc, ok := v.AsMap()
	if !ok {
		return nil, errors.Errorf("document record holds a %s", v.Kind())
	}
	return doc, nil
}

func decodeValue(dec *msgpack.Decoder) (document.Value, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return document.Value{}, err
	}

	switch {
	case c == msgpcode.Nil:
		return document.Null(), dec.DecodeNil()
	case c == msgpcode.True || c == msgpcode.False:
		b, err := dec.DecodeBool()
		return document.FromBool(b), err
	case c == msgpcode.Float || c == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		return document.FromFloat(f), err
	case msgpcode.IsString(c):
		s, err := dec.DecodeString()
		return document.FromString(s), err
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return document.Value{}, err
		}
		m := document.NewMap()
		for i := 0; i < n; i++ {
			key, err := dec.DecodeString()
			if err != nil {
				return document.Value{}, err
			}
			v, err := decodeValue(dec)
			if err != nil {
				return document.Value{}, errors.Wrapf(err, "field %q", key)
			}
			m.Set(key, v)
		}
		return document.FromMap(m), nil
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return document.Value{}, err
		}
		seq := make([]document.Value, n)
		for i := range seq {
			if seq[i], err = decodeValue(dec); err != nil {
				return document.Value{}, err
			}
		}
		return document.FromSeq(seq...), nil
	default:
		i, err := dec.DecodeInt64()
		if err != nil {
			return document.Value{}, errors.Wrapf(err, "unexpected code 0x%x", c)
		}
		return document.FromInt(i), nil
	}
}

func encodeIndexSpec(spec any) ([]byte, error) {
	return msgpack.Marshal(spec)
}

func decodeIndexSpec(data []byte, spec any) error {
	return msgpack.Unmarshal(data, spec)
}
