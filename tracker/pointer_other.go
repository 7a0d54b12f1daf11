//go:build !linux

package tracker

import (
	"errors"
)

var errNoMiceDevice = errors.New("mouse devices can only be read on linux, use the orbit pointer")

type MicePointer struct {
	Path string
}

func NewMicePointer(path string) *MicePointer {
	if path == "" {
		path = DefaultMiceDevice
	}
	return &MicePointer{Path: path}
}

func (p *MicePointer) Sample() (x, y float64, err error) {
	return 0, 0, errNoMiceDevice
}

func (p *MicePointer) Close() error {
	return nil
}
