package fragment

import "errors"

// Fragment error types.
var (
	// ErrShortRead means fewer than FooterLen bytes were available at the footer offset.
	ErrShortRead = errors.New("short read")
	// ErrCorruptFooter means a footer field could not be decoded.
	ErrCorruptFooter = errors.New("corrupt footer")
	// ErrIO wraps open/read failures unrelated to the fragment format.
	ErrIO = errors.New("fragment i/o")
	// ErrInvalidFooter is returned by Encode for values the layout cannot hold.
	ErrInvalidFooter = errors.New("invalid footer")
)
