package devicescheduler

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry is the keyed mapping from client name to ClientInfo. It is
// rebuilt wholesale on every resource-config reload; callers needing a
// consistent read across several fields should hold the scheduler's mutex
// while reading, per the ownership note in spec.md §3/§5 — Registry's own
// lock only protects the map structure itself against concurrent Load.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*ClientInfo

	quota      float64
	minQuota   float64
	windowSize float64
}

// NewRegistry returns an empty registry configured with the process-wide
// quota defaults used to build each loaded ClientInfo.
func NewRegistry(quota, minQuota, windowSize float64) *Registry {
	return &Registry{
		clients:    make(map[string]*ClientInfo),
		quota:      quota,
		minQuota:   minQuota,
		windowSize: windowSize,
	}
}

// Get returns the named client's info, or nil if unknown.
func (r *Registry) Get(name string) *ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[name]
}

// Names returns every registered client name, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// Load parses a resource-config file and replaces every matching entry.
// Format (spec.md §4.1 / §6):
//
//	<N>
//	<name> <min_frac> <max_frac> <sm_partition> <mem_bytes>
//	... N times
//
// A replaced entry loses its prior mem_used (documented policy, spec.md §9)
// and quota state; existing tokens/history for that client are untouched,
// since those live on the Scheduler, not the Registry.
func (r *Registry) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open resource config %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	n, err := scanNextInt(scanner)
	if err != nil {
		return fmt.Errorf("read client count: %w", err)
	}

	next := make(map[string]*ClientInfo, n)
	for i := 0; i < n; i++ {
		name, minFrac, maxFrac, smPartition, memBytes, err := scanNextRecord(scanner)
		if err != nil {
			return fmt.Errorf("read client record %d: %w", i, err)
		}
		next[name] = NewClientInfo(name, r.quota, r.minQuota, r.windowSize, minFrac, maxFrac, smPartition, memBytes)
	}

	r.mu.Lock()
	for name, ci := range next {
		r.clients[name] = ci
	}
	r.mu.Unlock()

	return nil
}

// LoadOrFatal loads the resource-config file, exiting the process on
// failure, per spec.md §7 ("Failure to open the file at startup is fatal").
func (r *Registry) LoadOrFatal(path string, log *logrus.Logger) {
	if err := r.Load(path); err != nil {
		log.Fatalf("failed to load resource config %s: %v", path, err)
	}
}

// ConfigPath joins a watched directory and filename the way the original
// scheduler concatenated limit_file_dir and limit_file_name.
func ConfigPath(dir, filename string) string {
	return filepath.Join(dir, filename)
}

func scanNextInt(s *bufio.Scanner) (int, error) {
	var n int
	for s.Scan() {
		line := s.Text()
		if line == "" {
			continue
		}
		if _, err := fmt.Sscanf(line, "%d", &n); err != nil {
			return 0, err
		}
		return n, nil
	}
	if err := s.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("unexpected end of file")
}

func scanNextRecord(s *bufio.Scanner) (name string, minFrac, maxFrac float64, smPartition int, memBytes uint64, err error) {
	for s.Scan() {
		line := s.Text()
		if line == "" {
			continue
		}
		_, err = fmt.Sscanf(line, "%s %f %f %d %d", &name, &minFrac, &maxFrac, &smPartition, &memBytes)
		return
	}
	if err = s.Err(); err == nil {
		err = fmt.Errorf("unexpected end of file")
	}
	return
}
