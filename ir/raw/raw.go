// Package raw holds the object model of the PDF object layer: the tagged
// values the grammar produces, before any semantic interpretation.
package raw

import "fmt"

// ObjectKey uniquely identifies an indirect PDF object.
type ObjectKey struct {
	Num int64
	Gen int
}

func (k ObjectKey) String() string { return fmt.Sprintf("%d %d R", k.Num, k.Gen) }

// Object is the base interface for all raw PDF values.
type Object interface {
	Type() string
}

// StringKind distinguishes the two surface syntaxes of PDF strings.
type StringKind int

const (
	StringLiteral StringKind = iota
	StringHex
)

// Blob is a readable stream payload owned by the document's scratch
// allocator. It stays valid until the document is closed.
type Blob interface {
	Bytes() []byte
	Len() int64
	Close() error
}
