//go:build !unix

package throw

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
