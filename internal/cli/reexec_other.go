//go:build !unix

package cli

import "errors"

func systemExec(string, []string, []string) error {
	return errors.New("re-executing as another account is only supported on unix")
}
