// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chinachu

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/harekaze/internal/model"
)

// FlexString accepts "1024" as well as 1024.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("invalid json value: %s", string(b))
	}
	if i, err := n.Int64(); err == nil {
		*s = FlexString(strconv.FormatInt(i, 10))
		return nil
	}
	*s = FlexString(n.String())
	return nil
}

// FlexInt64 accepts "1500000000000" as well as 1500000000000. Fractional
// numbers are truncated.
type FlexInt64 int64

func (v *FlexInt64) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*v = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*v = 0
			return nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer string %q", s)
		}
		*v = FlexInt64(i)
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("invalid json value: %s", string(b))
	}
	if i, err := n.Int64(); err == nil {
		*v = FlexInt64(i)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("not a number: %s", n.String())
	}
	*v = FlexInt64(int64(f))
	return nil
}

// Channel is the wire form of a broadcast service.
type Channel struct {
	N       FlexInt64  `json:"n"`
	Type    string     `json:"type"`
	Channel FlexString `json:"channel"`
	Name    string     `json:"name"`
	ID      string     `json:"id"`
	SID     FlexString `json:"sid"`
}

// Tuner describes the device that recorded a program.
type Tuner struct {
	Name string `json:"name"`
}

// Program is the wire form shared by guide entries, reservations and recordings.
type Program struct {
	ID               string     `json:"id"`
	Category         string     `json:"category"`
	Title            string     `json:"title"`
	FullTitle        string     `json:"fullTitle"`
	SubTitle         string     `json:"subTitle"`
	Detail           string     `json:"detail"`
	Episode          *FlexInt64 `json:"episode"`
	Start            FlexInt64  `json:"start"`
	End              FlexInt64  `json:"end"`
	Seconds          FlexInt64  `json:"seconds"`
	Flags            []string   `json:"flags"`
	Channel          Channel    `json:"channel"`
	IsManualReserved bool       `json:"isManualReserved"`
	IsConflict       bool       `json:"isConflict"`
	IsSkip           bool       `json:"isSkip"`
	Recorded         string     `json:"recorded"`
	Tuner            *Tuner     `json:"tuner"`
}

// ScheduleChannel is one entry of schedule.json.
type ScheduleChannel struct {
	Channel
	Programs []Program `json:"programs"`
}

// Status is the subset of status.json used for probing.
type Status struct {
	Connected FlexInt64 `json:"connectedCount"`
	Feature   struct {
		Previewer    bool `json:"previewer"`
		Streamer     bool `json:"streamer"`
		Filer        bool `json:"filer"`
		Configurator bool `json:"configurator"`
	} `json:"feature"`
	System struct {
		Core FlexInt64 `json:"core"`
	} `json:"system"`
}

func msToTime(ms FlexInt64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms)).UTC()
}

// ToModel converts the wire channel, normalising its name.
func (c Channel) ToModel() model.Channel {
	return model.Channel{
		ID:        c.ID,
		Type:      c.Type,
		Channel:   string(c.Channel),
		Name:      model.NormalizeText(c.Name),
		ServiceID: string(c.SID),
		Number:    int(c.N),
	}
}

// ToModel converts the wire program to the domain form.
func (p Program) ToModel() model.Program {
	out := model.Program{
		ID:           p.ID,
		Category:     p.Category,
		Title:        p.Title,
		FullTitle:    p.FullTitle,
		SubTitle:     p.SubTitle,
		Detail:       p.Detail,
		Flags:        append([]string(nil), p.Flags...),
		Channel:      p.Channel.ToModel(),
		Start:        msToTime(p.Start),
		End:          msToTime(p.End),
		Seconds:      int(p.Seconds),
		RecordedPath: p.Recorded,
	}
	if p.Category != "" {
		out.Genres = []string{p.Category}
	}
	if p.Episode != nil {
		ep := int(*p.Episode)
		out.Episode = &ep
	}
	if out.Seconds == 0 && !out.End.IsZero() && out.End.After(out.Start) {
		out.Seconds = int(out.End.Sub(out.Start) / time.Second)
	}
	return out.Normalize()
}

// ToRecording converts the wire program to a recording.
func (p Program) ToRecording() model.Recording {
	rec := model.Recording{Program: p.ToModel(), FilePath: p.Recorded}
	if p.Tuner != nil {
		rec.Tuner = p.Tuner.Name
	}
	return rec
}

// ToTimer converts the wire program to a reservation.
func (p Program) ToTimer() model.Timer {
	return model.Timer{
		Program:  p.ToModel(),
		Conflict: p.IsConflict,
		Manual:   p.IsManualReserved,
		Skip:     p.IsSkip,
	}
}
