// Package security defines the collaborator surface the parser uses for
// encrypted documents. Actual decryption algorithms live outside the core;
// the parser only wires objects through whichever handler is installed.
package security

import "github.com/veraPDF/pdfbox/ir/raw"

// AccessPermission describes the actions the encryption dictionary allows.
type AccessPermission struct {
	CanPrint              bool
	CanModify             bool
	CanExtractContent     bool
	CanModifyAnnotations  bool
	CanFillInForm         bool
	CanExtractForAccess   bool
	CanAssembleDocument   bool
	CanPrintDegraded      bool
	ReadOnly              bool
	OwnerAccess           bool
}

// AllPermissions is what an unencrypted document grants.
func AllPermissions() AccessPermission {
	return AccessPermission{
		CanPrint:             true,
		CanModify:            true,
		CanExtractContent:    true,
		CanModifyAnnotations: true,
		CanFillInForm:        true,
		CanExtractForAccess:  true,
		CanAssembleDocument:  true,
		CanPrintDegraded:     true,
		OwnerAccess:          true,
	}
}

// DecryptionMaterial carries whatever a handler needs to derive keys.
type DecryptionMaterial interface{ Kind() string }

// StandardMaterial is password-based decryption material.
type StandardMaterial struct{ Password string }

func (StandardMaterial) Kind() string { return "standard" }

// Handler decrypts objects as they are parsed. The parser calls
// PrepareForDecryption once, then Decrypt/DecryptStream per object; the
// encryption dictionary itself and the document ID strings are exempt.
type Handler interface {
	PrepareForDecryption(encryptDict *raw.DictObj, documentID []byte, material DecryptionMaterial) error
	Decrypt(obj raw.Object, num int64, gen int) error
	DecryptStream(stream *raw.StreamObj, num int64, gen int) error
	CurrentAccessPermission() AccessPermission
}

type noopHandler struct{}

func (noopHandler) PrepareForDecryption(*raw.DictObj, []byte, DecryptionMaterial) error { return nil }
func (noopHandler) Decrypt(raw.Object, int64, int) error                                { return nil }
func (noopHandler) DecryptStream(*raw.StreamObj, int64, int) error                      { return nil }
func (noopHandler) CurrentAccessPermission() AccessPermission                           { return AllPermissions() }

// NoopHandler returns a handler that passes everything through unchanged.
func NoopHandler() Handler { return noopHandler{} }
