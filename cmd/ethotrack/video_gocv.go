//go:build gocv

package main

import (
	"github.com/banshee-data/ethotrack/internal/camera"
	"github.com/banshee-data/ethotrack/internal/drawer"
)

func openVideo(path string) (camera.Source, error) {
	return camera.OpenVideoFile(path)
}

func openVideoDrawer(path string, fps float64) (drawer.Drawer, error) {
	return drawer.NewVideoDrawer(path, fps), nil
}
