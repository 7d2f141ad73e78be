//go:build linux

package main

// Registers V4L2 cameras with mediadevices so call modules can capture.
import _ "github.com/pion/mediadevices/pkg/driver/camera"
