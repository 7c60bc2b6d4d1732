// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chinachu

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockServer is a configurable in-process Chinachu server for tests.
type MockServer struct {
	*httptest.Server

	mu         sync.RWMutex
	recorded   map[string]Program
	reserves   map[string]Program
	schedule   []ScheduleChannel
	media      map[string][]byte
	gates      map[string]chan struct{}
	failures   map[string]int
	statusCode map[string]int
	calls      map[string]int
	username   string
	password   string
}

// NewMockServer starts a mock server with default data.
func NewMockServer() *MockServer {
	m := &MockServer{}
	m.Reset()
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// Reset restores the default data set and clears failures and counters.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = make(map[string]Program)
	m.reserves = make(map[string]Program)
	m.media = make(map[string][]byte)
	m.gates = make(map[string]chan struct{})
	m.failures = make(map[string]int)
	m.statusCode = make(map[string]int)
	m.calls = make(map[string]int)
	m.username, m.password = "", ""

	start := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	ch := Channel{N: 0, Type: "GR", Channel: "27", Name: "NHK総合", ID: "GR_1024", SID: "1024"}
	for i, title := range []string{"Morning News", "Documentary"} {
		id := fmt.Sprintf("rec%d", i+1)
		p := MockProgram(id, title, ch, start.Add(time.Duration(i)*time.Hour), 1800)
		p.Recorded = "/recorded/" + id + ".m2ts"
		p.Tuner = &Tuner{Name: "PT3-T1"}
		m.recorded[id] = p
		m.media[id] = []byte(strings.Repeat(title, 64))
	}
	timer := MockProgram("res1", "Evening Drama", ch, start.Add(30*time.Hour), 3600)
	m.reserves[timer.ID] = timer
	m.schedule = []ScheduleChannel{{
		Channel: ch,
		Programs: []Program{
			MockProgram("prg1", "Weather", ch, start.Add(26*time.Hour), 600),
			timer,
		},
	}}
}

// MockProgram builds a wire program for fixtures.
func MockProgram(id, title string, ch Channel, start time.Time, seconds int) Program {
	return Program{
		ID:        id,
		Category:  "news",
		Title:     title,
		FullTitle: title,
		Detail:    title + " detail",
		Start:     FlexInt64(start.UnixMilli()),
		End:       FlexInt64(start.Add(time.Duration(seconds) * time.Second).UnixMilli()),
		Seconds:   FlexInt64(seconds),
		Channel:   ch,
	}
}

// SetRecorded replaces the recordings.
func (m *MockServer) SetRecorded(programs ...Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = make(map[string]Program, len(programs))
	for _, p := range programs {
		m.recorded[p.ID] = p
	}
}

// SetReserves replaces the reservations.
func (m *MockServer) SetReserves(programs ...Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserves = make(map[string]Program, len(programs))
	for _, p := range programs {
		m.reserves[p.ID] = p
	}
}

// SetSchedule replaces the guide.
func (m *MockServer) SetSchedule(channels ...ScheduleChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedule = channels
}

// SetMedia sets the body served by watch for a recording.
func (m *MockServer) SetMedia(id string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media[id] = body
}

// HoldMedia makes watch for id send headers and the first half of the body,
// then block until the returned release function is called or the client
// goes away.
func (m *MockServer) HoldMedia(id string) (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gates[id] = gate
	m.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// SetFailures makes the next n requests to path answer 503.
func (m *MockServer) SetFailures(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = n
}

// SetStatus makes every request to path answer with code.
func (m *MockServer) SetStatus(path string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code == 0 {
		delete(m.statusCode, path)
		return
	}
	m.statusCode[path] = code
}

// RequireAuth enables Basic Auth.
func (m *MockServer) RequireAuth(username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.username, m.password = username, password
}

// Calls returns how many requests hit "METHOD /api/path".
func (m *MockServer) Calls(method, path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method+" "+path]
}

// IsReserved reports whether a reservation exists.
func (m *MockServer) IsReserved(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.reserves[id]
	return ok
}

// HasRecording reports whether a recording exists.
func (m *MockServer) HasRecording(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.recorded[id]
	return ok
}

func (m *MockServer) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	m.mu.Lock()
	m.calls[r.Method+" "+path]++
	user, pass := m.username, m.password
	code := m.statusCode[path]
	failing := m.failures[path] > 0
	if failing {
		m.failures[path]--
	}
	m.mu.Unlock()

	if user != "" || pass != "" {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="chinachu"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	if code != 0 {
		http.Error(w, http.StatusText(code), code)
		return
	}
	if failing {
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case rest == "recorded.json" && r.Method == http.MethodGet:
		m.writeList(w, m.recorded)
	case rest == "reserves.json" && r.Method == http.MethodGet:
		m.writeList(w, m.reserves)
	case rest == "schedule.json" && r.Method == http.MethodGet:
		m.mu.RLock()
		sched := m.schedule
		m.mu.RUnlock()
		writeJSON(w, sched)
	case rest == "status.json" && r.Method == http.MethodGet:
		writeJSON(w, map[string]any{
			"connectedCount": 1,
			"feature":        map[string]bool{"previewer": true, "streamer": true, "filer": true},
			"system":         map[string]int{"core": 4},
		})
	case strings.HasPrefix(rest, "recorded/"):
		m.serveRecorded(w, r, strings.TrimPrefix(rest, "recorded/"))
	case strings.HasPrefix(rest, "reserves/"):
		m.serveReserve(w, r, strings.TrimPrefix(rest, "reserves/"))
	case strings.HasPrefix(rest, "program/") && r.Method == http.MethodPut:
		id := strings.TrimSuffix(strings.TrimPrefix(rest, "program/"), ".json")
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, ch := range m.schedule {
			for _, p := range ch.Programs {
				if p.ID == id {
					p.IsManualReserved = true
					m.reserves[id] = p
					writeJSON(w, p)
					return
				}
			}
		}
		http.NotFound(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockServer) serveRecorded(w http.ResponseWriter, r *http.Request, rest string) {
	id, sub, _ := strings.Cut(rest, "/")
	if sub == "" {
		id = strings.TrimSuffix(id, ".json")
	}

	m.mu.RLock()
	p, exists := m.recorded[id]
	body := m.media[id]
	gate := m.gates[id]
	m.mu.RUnlock()
	if !exists {
		http.NotFound(w, r)
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		writeJSON(w, p)
	case sub == "" && r.Method == http.MethodDelete:
		m.mu.Lock()
		delete(m.recorded, id)
		delete(m.media, id)
		m.mu.Unlock()
		writeJSON(w, p)
	case sub == "file.json" && r.Method == http.MethodDelete:
		m.mu.Lock()
		delete(m.media, id)
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case sub == "preview.png" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "image/png")
		q := r.URL.Query()
		_, _ = fmt.Fprintf(w, "\x89PNG %s %sx%s@%s", id, q.Get("width"), q.Get("height"), q.Get("pos"))
	case strings.HasPrefix(sub, "watch.") && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if gate == nil {
			_, _ = w.Write(body)
			return
		}
		half := len(body) / 2
		_, _ = w.Write(body[:half])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-gate:
			_, _ = w.Write(body[half:])
		case <-r.Context().Done():
		}
	default:
		http.NotFound(w, r)
	}
}

func (m *MockServer) serveReserve(w http.ResponseWriter, r *http.Request, rest string) {
	id, sub, _ := strings.Cut(rest, "/")
	if sub == "" {
		id = strings.TrimSuffix(id, ".json")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, exists := m.reserves[id]
	if !exists {
		http.NotFound(w, r)
		return
	}
	switch {
	case sub == "" && r.Method == http.MethodDelete:
		delete(m.reserves, id)
		writeJSON(w, p)
	case sub == "skip.json" && r.Method == http.MethodPut:
		p.IsSkip = true
		m.reserves[id] = p
		writeJSON(w, p)
	case sub == "unskip.json" && r.Method == http.MethodPut:
		p.IsSkip = false
		m.reserves[id] = p
		writeJSON(w, p)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockServer) writeList(w http.ResponseWriter, set map[string]Program) {
	m.mu.RLock()
	list := make([]Program, 0, len(set))
	for _, p := range set {
		list = append(list, p)
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	writeJSON(w, list)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
