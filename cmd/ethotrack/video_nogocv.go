//go:build !gocv

package main

import (
	"errors"

	"github.com/banshee-data/ethotrack/internal/camera"
	"github.com/banshee-data/ethotrack/internal/drawer"
)

var errNoGocv = errors.New("video support needs a build with -tags gocv")

func openVideo(string) (camera.Source, error) { return nil, errNoGocv }

func openVideoDrawer(string, float64) (drawer.Drawer, error) { return nil, errNoGocv }
