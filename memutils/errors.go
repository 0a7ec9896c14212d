package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ZeroValueError is the error returned from CheckPow2 when the number being tested is zero
var ZeroValueError error = errors.New("number must be greater than zero")
