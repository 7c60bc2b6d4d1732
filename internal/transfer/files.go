// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transfer

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MediaExtensions are the containers a finished download can have.
var MediaExtensions = []string{"m2ts", "ts", "mp4", "mkv", "webm"}

// IsMediaFile reports whether name is the finished media file of id.
// Dotfiles (pending renameio files) never match.
func IsMediaFile(id, name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if strings.TrimSuffix(name, "."+ext) != id {
		return false
	}
	for _, known := range MediaExtensions {
		if strings.EqualFold(ext, known) {
			return true
		}
	}
	return false
}

// FindMedia returns the finished media file inside dir for id.
func FindMedia(dir, id string) (string, fs.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsMediaFile(id, e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return "", nil, err
		}
		return filepath.Join(dir, e.Name()), info, nil
	}
	return "", nil, fs.ErrNotExist
}

// MediaPath locates the finished media file of id under the documents dir.
func (m *Manager) MediaPath(id string) (string, fs.FileInfo, error) {
	p, info, err := FindMedia(m.Dir(id), id)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, ErrNotFound
	}
	return p, info, err
}
