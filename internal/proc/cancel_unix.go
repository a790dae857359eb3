//go:build !windows

package proc

import "os"

func interrupt(p *os.Process) error { return p.Signal(os.Interrupt) }
