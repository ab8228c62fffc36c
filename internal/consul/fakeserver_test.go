package consul

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeConsul is an in-process stand-in for the coordination store. It
// implements the KV, session, and leader endpoints with real conditional
// write semantics: at most one session can hold the acquire flag on a key,
// and destroying a session that holds locks delays re-acquisition of those
// keys by the session's lock delay.
type fakeConsul struct {
	mu       sync.Mutex
	kv       map[string]*fakeKVEntry
	sessions map[string]*fakeSession

	// leaderless simulates a store without an elected leader.
	leaderless bool
	// failures maps URL path prefixes to a number of 500 responses to serve
	// before recovering.
	failures map[string]int
	// destroyCalls counts session destroy requests.
	destroyCalls int

	server *httptest.Server
}

type fakeKVEntry struct {
	value       []byte
	session     string
	modifyIndex uint64
	delayUntil  time.Time
}

type fakeSession struct {
	id        string
	name      string
	ttl       time.Duration
	lockDelay time.Duration
	behavior  string
}

func newFakeConsul() *fakeConsul {
	f := &fakeConsul{
		kv:       make(map[string]*fakeKVEntry),
		sessions: make(map[string]*fakeSession),
		failures: make(map[string]int),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeConsul) Close() { f.server.Close() }

func (f *fakeConsul) URL() string { return f.server.URL }

func (f *fakeConsul) failNext(pathPrefix string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[pathPrefix] = times
}

func (f *fakeConsul) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeConsul) holder(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry, ok := f.kv[key]; ok {
		return entry.session
	}
	return ""
}

func (f *fakeConsul) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for prefix, remaining := range f.failures {
		if remaining > 0 && strings.HasPrefix(r.URL.Path, prefix) {
			f.failures[prefix] = remaining - 1
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	switch {
	case r.URL.Path == "/v1/status/leader":
		if f.leaderless {
			_, _ = w.Write([]byte(`""`))
			return
		}
		_, _ = w.Write([]byte(`"127.0.0.1:8300"`))

	case r.URL.Path == "/v1/session/create":
		f.handleSessionCreate(w, r)

	case strings.HasPrefix(r.URL.Path, "/v1/session/destroy/"):
		id := strings.TrimPrefix(r.URL.Path, "/v1/session/destroy/")
		f.destroyCalls++
		f.destroySession(id)
		_, _ = w.Write([]byte("true"))

	case r.URL.Path == "/v1/session/list":
		list := make([]map[string]any, 0, len(f.sessions))
		for _, s := range f.sessions {
			list = append(list, map[string]any{"ID": s.id, "Name": s.name})
		}
		_ = json.NewEncoder(w).Encode(list)

	case strings.HasPrefix(r.URL.Path, "/v1/kv/"):
		f.handleKV(w, r, strings.TrimPrefix(r.URL.Path, "/v1/kv/"))

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeConsul) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var payload map[string]string
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s := &fakeSession{
		id:       uuid.NewString(),
		name:     payload["Name"],
		behavior: payload["Behavior"],
	}
	s.ttl = parseSeconds(payload["TTL"])
	s.lockDelay = parseSeconds(payload["LockDelay"])
	f.sessions[s.id] = s
	_ = json.NewEncoder(w).Encode(map[string]string{"ID": s.id})
}

// destroySession invalidates a session. Keys the session still holds get a
// lock-delay window during which no other session may acquire them.
func (f *fakeConsul) destroySession(id string) {
	s, ok := f.sessions[id]
	if !ok {
		return
	}
	delete(f.sessions, id)
	for _, entry := range f.kv {
		if entry.session == id {
			entry.session = ""
			if s.lockDelay > 0 {
				entry.delayUntil = time.Now().Add(s.lockDelay)
			}
		}
	}
}

func (f *fakeConsul) handleKV(w http.ResponseWriter, r *http.Request, key string) {
	switch r.Method {
	case http.MethodGet:
		f.handleKVGet(w, r, key)
	case http.MethodPut:
		f.handleKVPut(w, r, key)
	case http.MethodDelete:
		delete(f.kv, key)
		_, _ = w.Write([]byte("true"))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (f *fakeConsul) handleKVGet(w http.ResponseWriter, r *http.Request, key string) {
	if r.URL.Query().Get("recurse") == "true" {
		var pairs []KVPair
		for k, entry := range f.kv {
			if strings.HasPrefix(k, key) {
				pairs = append(pairs, KVPair{Key: k, Value: entry.value, Session: entry.session, ModifyIndex: entry.modifyIndex})
			}
		}
		if len(pairs) == 0 {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(pairs)
		return
	}

	entry, ok := f.kv[key]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.URL.Query().Get("raw") == "true" {
		_, _ = w.Write(entry.value)
		return
	}
	_ = json.NewEncoder(w).Encode([]KVPair{{Key: key, Value: entry.value, Session: entry.session, ModifyIndex: entry.modifyIndex}})
}

func (f *fakeConsul) handleKVPut(w http.ResponseWriter, r *http.Request, key string) {
	value, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, ok := f.kv[key]
	if !ok {
		entry = &fakeKVEntry{}
		f.kv[key] = entry
	}

	acquire := r.URL.Query().Get("acquire")
	release := r.URL.Query().Get("release")

	switch {
	case acquire != "":
		if _, ok := f.sessions[acquire]; !ok {
			_, _ = w.Write([]byte("false"))
			return
		}
		if entry.session != "" && entry.session != acquire {
			_, _ = w.Write([]byte("false"))
			return
		}
		if entry.session == "" && time.Now().Before(entry.delayUntil) {
			_, _ = w.Write([]byte("false"))
			return
		}
		entry.session = acquire
		entry.value = value
		entry.modifyIndex++
		_, _ = w.Write([]byte("true"))

	case release != "":
		if entry.session != release {
			_, _ = w.Write([]byte("false"))
			return
		}
		entry.session = ""
		entry.value = value
		entry.modifyIndex++
		_, _ = w.Write([]byte("true"))

	default:
		entry.value = value
		entry.modifyIndex++
		_, _ = w.Write([]byte("true"))
	}
}

func parseSeconds(s string) time.Duration {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, "s"))
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Second
}
