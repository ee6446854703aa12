package record

import "errors"

// ErrInvalidInput indicates a buffer or length the record layout cannot
// represent: a short or misaligned buffer, or a payload whose length does
// not fit the 32-bit length fields.
//
// This is a programming error in the engine.
var ErrInvalidInput = errors.New("record: invalid input")
