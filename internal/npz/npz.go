package npz

import "errors"

var npyMagic = []byte{0x93, 'N', 'U', 'M', 'P', 'Y'}

// 列名与 dtype 约定
const (
	descrTime     = "<f8"
	descrCoord    = "<u2"
	descrPolarity = "|i1"
)

var (
	ErrBadMagic       = errors.New("npz: bad npy magic")
	ErrBadVersion     = errors.New("npz: unsupported npy version")
	ErrBadHeader      = errors.New("npz: malformed npy header")
	ErrFortranOrder   = errors.New("npz: fortran order not supported")
	ErrBadShape       = errors.New("npz: expected one-dimensional shape")
	ErrBadDescr       = errors.New("npz: unexpected dtype")
	ErrMissingArray   = errors.New("npz: missing array")
	ErrLengthMismatch = errors.New("npz: column length mismatch")
)
