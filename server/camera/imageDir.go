package camera

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmharper/cimg/v2"
)

// ImageDirSource replays the images in a directory as if they were camera frames, in filename order.
// When the images run out, NextFrame returns io.EOF.
type ImageDirSource struct {
	Files []string

	lock sync.Mutex
	next int
}

func IsImageFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

func NewImageDirSource(dir string) (*ImageDirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := []string{}
	for _, e := range entries {
		if !e.IsDir() && IsImageFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return &ImageDirSource{Files: files}, nil
}

// Index of the frame that the next call to NextFrame will return
func (s *ImageDirSource) Position() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.next
}

// Skip to frame idx
func (s *ImageDirSource) Seek(idx int) {
	s.lock.Lock()
	s.next = max(idx, 0)
	s.lock.Unlock()
}

func (s *ImageDirSource) NextFrame() (*cimg.Image, error) {
	s.lock.Lock()
	if s.next >= len(s.Files) {
		s.lock.Unlock()
		return nil, io.EOF
	}
	filename := s.Files[s.next]
	s.next++
	s.lock.Unlock()

	img, err := cimg.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if img.NChan() != 3 {
		img = img.ToRGB()
	}
	return img, nil
}
