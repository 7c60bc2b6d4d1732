// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"rec1", true},
		{"gr1024-5e3f", true},
		{"..rec", true},
		{"", false},
		{".", false},
		{"..", false},
		{"../rec1", false},
		{"a/b", false},
		{`a\b`, false},
		{"/abs", false},
		{"nul\x00", false},
	}
	for _, tt := range tests {
		err := ValidName(tt.name)
		if (err == nil) != tt.ok {
			t.Errorf("ValidName(%q) err=%v, want ok=%v", tt.name, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrUnsafeName) {
			t.Errorf("ValidName(%q) err=%v, want ErrUnsafeName", tt.name, err)
		}
	}
}

func TestChild(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Mkdir(filepath.Join(root, "rec1"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "real"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "rec1", want: filepath.Join(realRoot, "rec1")},
		{name: "missing", want: filepath.Join(realRoot, "missing")},
		{name: "alias", want: filepath.Join(realRoot, "alias")},
		{name: "escape", wantErr: true},
		{name: "../rec1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Child(root, tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsafeName) {
					t.Fatalf("Child(%q) err=%v, want ErrUnsafeName", tt.name, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Child(%q): %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("Child(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestChild_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "documents")
	got, err := Child(root, "rec1")
	if err != nil {
		t.Fatalf("Child: %v", err)
	}
	if filepath.Base(got) != "rec1" {
		t.Errorf("Child = %q", got)
	}
}
