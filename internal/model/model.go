// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the domain types shared by the catalog, the download
// store and the transfer manager.
package model

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind tags the concrete type behind an Entry.
type Kind string

const (
	KindProgram   Kind = "program"
	KindRecording Kind = "recording"
	KindTimer     Kind = "timer"
)

// Entry is implemented by every catalog item that carries program metadata.
type Entry interface {
	EntryID() string
	Kind() Kind
	ProgramInfo() Program
}

// Channel is a broadcast service as reported by the PVR.
type Channel struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	Name      string `json:"name"`
	ServiceID string `json:"serviceId,omitempty"`
	Number    int    `json:"number,omitempty"`
}

// Program is a single guide entry.
type Program struct {
	ID           string    `json:"id"`
	Category     string    `json:"category,omitempty"`
	Title        string    `json:"title"`
	FullTitle    string    `json:"fullTitle,omitempty"`
	SubTitle     string    `json:"subTitle,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Genres       []string  `json:"genres,omitempty"`
	Flags        []string  `json:"flags,omitempty"`
	Channel      Channel   `json:"channel"`
	Episode      *int      `json:"episode,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Seconds      int       `json:"seconds"`
	RecordedPath string    `json:"recordedPath,omitempty"`
}

func (p Program) EntryID() string      { return p.ID }
func (p Program) Kind() Kind           { return KindProgram }
func (p Program) ProgramInfo() Program { return p }

// Duration returns the scheduled length of the program.
func (p Program) Duration() time.Duration {
	if p.Seconds > 0 {
		return time.Duration(p.Seconds) * time.Second
	}
	if !p.End.IsZero() && p.End.After(p.Start) {
		return p.End.Sub(p.Start)
	}
	return 0
}

// Normalize returns a copy with every human-readable text field in NFC form
// and surrounding whitespace trimmed.
func (p Program) Normalize() Program {
	p.Title = NormalizeText(p.Title)
	p.FullTitle = NormalizeText(p.FullTitle)
	p.SubTitle = NormalizeText(p.SubTitle)
	p.Detail = NormalizeText(p.Detail)
	p.Channel.Name = NormalizeText(p.Channel.Name)
	return p
}

// Recording is a program that has been (or is being) recorded on the PVR.
type Recording struct {
	Program
	Tuner    string `json:"tuner,omitempty"`
	FilePath string `json:"filePath,omitempty"`
}

func (r Recording) Kind() Kind { return KindRecording }

// Timer is a scheduled reservation.
type Timer struct {
	Program
	Conflict bool `json:"conflict"`
	Manual   bool `json:"manual"`
	Skip     bool `json:"skip"`
}

func (t Timer) Kind() Kind { return KindTimer }

// Skippable reports whether the reservation can be toggled with skip/unskip.
// Manual reservations are deleted rather than skipped.
func (t Timer) Skippable() bool { return !t.Manual }

// Download is the durable record of a recording fetched for offline viewing.
// Size stays 0 while the transfer runs and becomes the on-disk byte count once
// the file has been finalised; nothing else signals completion.
type Download struct {
	ID           string     `json:"id"`
	Recording    *Recording `json:"recording,omitempty"`
	Size         int64      `json:"size"`
	DownloadedAt time.Time  `json:"downloadedAt"`
	LastPlayed   float64    `json:"lastPlayed"`
}

// Complete reports whether the download finished.
func (d Download) Complete() bool { return d.Size > 0 }

// ClampPosition bounds a playback position to [0,1].
func ClampPosition(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// NormalizeText applies Unicode NFC and trims surrounding whitespace.
func NormalizeText(s string) string {
	if s == "" {
		return s
	}
	return strings.TrimSpace(norm.NFC.String(s))
}

var (
	_ Entry = Program{}
	_ Entry = Recording{}
	_ Entry = Timer{}
)
