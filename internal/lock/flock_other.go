//go:build !unix

package lock

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("deploy lock requires a unix host")

func tryLock(*os.File) (bool, error) { return false, errUnsupported }

func unlock(*os.File) error { return errUnsupported }
