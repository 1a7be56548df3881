//go:build !gocv

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVideoNeedsGocvBuild(t *testing.T) {
	_, err := openVideo("clip.avi")
	assert.ErrorIs(t, err, errNoGocv)
	_, err = openVideoDrawer("out.avi", 25)
	assert.ErrorIs(t, err, errNoGocv)
}
