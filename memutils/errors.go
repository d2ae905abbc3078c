package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// RangeError is the error returned from CheckRange if an inclusive byte range is empty or inverted
var RangeError error = errors.New("byte range minimum must not exceed its maximum")
