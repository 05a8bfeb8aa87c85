//go:build !linux

package main

import "fmt"

func runServe(m *mountedImage, mountpoint string) error {
	return fmt.Errorf("kosfsctl: serve is only built on linux (bazil.org/fuse has no kernel driver on this platform)")
}
