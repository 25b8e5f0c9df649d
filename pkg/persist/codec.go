// Package persist stores typed snapshots as files, one per name, through a
// pluggable codec.
package persist

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Codec serializes snapshots. Extension names the files it produces.
type Codec interface {
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
	Extension() string
}

// GobCodec is the plain gob codec.
type GobCodec struct{}

// NewGobCodec returns a gob codec.
func NewGobCodec() GobCodec { return GobCodec{} }

// Encode implements Codec.
func (GobCodec) Encode(w io.Writer, v any) error {
	if err := gob.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (GobCodec) Decode(r io.Reader, v any) error {
	if err := gob.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}

// Extension implements Codec.
func (GobCodec) Extension() string { return ".gob" }

// LZ4Codec frames the output of another codec with lz4.
type LZ4Codec struct {
	inner Codec
}

// NewLZ4Codec compresses inner, or gob when inner is nil.
func NewLZ4Codec(inner Codec) LZ4Codec {
	if inner == nil {
		inner = GobCodec{}
	}

	return LZ4Codec{inner: inner}
}

// Encode implements Codec.
func (c LZ4Codec) Encode(w io.Writer, v any) error {
	zw := lz4.NewWriter(w)

	if err := c.inner.Encode(zw, v); err != nil {
		return errors.Join(err, zw.Close())
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("lz4 flush: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (c LZ4Codec) Decode(r io.Reader, v any) error {
	return c.inner.Decode(lz4.NewReader(r), v)
}

// Extension implements Codec, e.g. ".gob.lz4".
func (c LZ4Codec) Extension() string { return c.inner.Extension() + ".lz4" }
