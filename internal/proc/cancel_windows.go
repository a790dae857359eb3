//go:build windows

package proc

import "os"

// Windows 不支持向进程发送 os.Interrupt。
func interrupt(p *os.Process) error { return p.Kill() }
