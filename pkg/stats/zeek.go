package stats

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/networktap/networktap/pkg/tail"
)

const (
	// ZeekTTL is the cache window for computed aggregates; the
	// underlying log tails move slowly enough that 30 s is fresh.
	ZeekTTL = 30 * time.Second

	// zeekTailBytes bounds how much of each analyzer log one aggregate
	// pass reads.
	zeekTailBytes = 4 * 1024 * 1024

	topN = 10
)

// CountEntry is one name/count pair in a top-N list.
type CountEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TalkerEntry ranks a host by bytes moved.
type TalkerEntry struct {
	Host  string `json:"host"`
	Bytes uint64 `json:"bytes"`
	Conns int    `json:"conns"`
}

// TrendPoint is connections per minute bucket.
type TrendPoint struct {
	Minute time.Time `json:"minute"`
	Conns  int       `json:"conns"`
}

// DNSStats summarizes dns.log.
type DNSStats struct {
	TopQueries []CountEntry `json:"top_queries"`
	QueryTypes []CountEntry `json:"query_types"`
	Total      int          `json:"total"`
}

// Zeek computes dashboard aggregates from Zeek analyzer logs through
// the shared bounded tail reader. Every aggregate is cached for ZeekTTL
// with single-flight recomputation.
type Zeek struct {
	reader *tail.Reader
	logDir func() string
	now    func() time.Time

	mu      sync.Mutex
	cache   map[string]zeekEntry
	group   singleflight.Group
}

type zeekEntry struct {
	value   any
	expires time.Time
}

// NewZeek creates an aggregator over the Zeek log directory accessor.
func NewZeek(reader *tail.Reader, logDir func() string) *Zeek {
	return &Zeek{
		reader: reader,
		logDir: logDir,
		now:    time.Now,
		cache:  make(map[string]zeekEntry),
	}
}

func (z *Zeek) cached(key string, compute func() (any, error)) (any, error) {
	z.mu.Lock()
	if e, ok := z.cache[key]; ok && z.now().Before(e.expires) {
		z.mu.Unlock()
		return e.value, nil
	}
	z.mu.Unlock()

	v, err, _ := z.group.Do(key, func() (any, error) {
		value, err := compute()
		if err != nil {
			return nil, err
		}
		z.mu.Lock()
		z.cache[key] = zeekEntry{value: value, expires: z.now().Add(ZeekTTL)}
		z.mu.Unlock()
		return value, nil
	})
	return v, err
}

func (z *Zeek) lines(logName string) ([][]byte, error) {
	return z.reader.Lines(filepath.Join(z.logDir(), logName), zeekTailBytes)
}

type dnsRecord struct {
	Query     string `json:"query"`
	QTypeName string `json:"qtype_name"`
}

// DNS aggregates dns.log into top queries and query-type distribution.
func (z *Zeek) DNS() (DNSStats, error) {
	v, err := z.cached("dns", func() (any, error) {
		lines, err := z.lines("dns.log")
		if err != nil {
			return nil, err
		}
		queries := make(map[string]int)
		qtypes := make(map[string]int)
		total := 0
		for _, line := range lines {
			var rec dnsRecord
			if json.Unmarshal(line, &rec) != nil || rec.Query == "" {
				continue
			}
			total++
			queries[rec.Query]++
			if rec.QTypeName != "" {
				qtypes[rec.QTypeName]++
			}
		}
		return DNSStats{
			TopQueries: topCounts(queries, topN),
			QueryTypes: topCounts(qtypes, 0),
			Total:      total,
		}, nil
	})
	if err != nil {
		return DNSStats{}, err
	}
	return v.(DNSStats), nil
}

type connRecord struct {
	TS        json.RawMessage `json:"ts"`
	Proto     string          `json:"proto"`
	Service   string          `json:"service"`
	OrigH     string          `json:"id.orig_h"`
	RespH     string          `json:"id.resp_h"`
	OrigBytes uint64          `json:"orig_bytes"`
	RespBytes uint64          `json:"resp_bytes"`
}

func (z *Zeek) connRecords() ([]connRecord, error) {
	v, err := z.cached("conn", func() (any, error) {
		lines, err := z.lines("conn.log")
		if err != nil {
			return nil, err
		}
		records := make([]connRecord, 0, len(lines))
		for _, line := range lines {
			var rec connRecord
			if json.Unmarshal(line, &rec) != nil {
				continue
			}
			records = append(records, rec)
		}
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]connRecord), nil
}

// Protocols returns the transport protocol distribution from conn.log.
func (z *Zeek) Protocols() ([]CountEntry, error) {
	records, err := z.connRecords()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, r := range records {
		if r.Proto != "" {
			counts[r.Proto]++
		}
	}
	return topCounts(counts, 0), nil
}

// Services returns the application service distribution from conn.log.
func (z *Zeek) Services() ([]CountEntry, error) {
	records, err := z.connRecords()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, r := range records {
		svc := r.Service
		if svc == "" {
			svc = "unknown"
		}
		counts[svc]++
	}
	return topCounts(counts, topN), nil
}

// Talkers ranks hosts by total bytes moved.
func (z *Zeek) Talkers() ([]TalkerEntry, error) {
	records, err := z.connRecords()
	if err != nil {
		return nil, err
	}
	type acc struct {
		bytes uint64
		conns int
	}
	hosts := make(map[string]*acc)
	add := func(h string, b uint64) {
		if h == "" {
			return
		}
		a := hosts[h]
		if a == nil {
			a = &acc{}
			hosts[h] = a
		}
		a.bytes += b
		a.conns++
	}
	for _, r := range records {
		add(r.OrigH, r.OrigBytes+r.RespBytes)
		add(r.RespH, r.OrigBytes+r.RespBytes)
	}

	entries := make([]TalkerEntry, 0, len(hosts))
	for h, a := range hosts {
		entries = append(entries, TalkerEntry{Host: h, Bytes: a.bytes, Conns: a.conns})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Bytes != entries[j].Bytes {
			return entries[i].Bytes > entries[j].Bytes
		}
		return entries[i].Host < entries[j].Host
	})
	if len(entries) > topN {
		entries = entries[:topN]
	}
	return entries, nil
}

// Trends buckets conn.log entries into per-minute connection counts.
func (z *Zeek) Trends() ([]TrendPoint, error) {
	records, err := z.connRecords()
	if err != nil {
		return nil, err
	}
	buckets := make(map[time.Time]int)
	for _, r := range records {
		ts := parseZeekTime(r.TS)
		if ts.IsZero() {
			continue
		}
		buckets[ts.Truncate(time.Minute)]++
	}

	points := make([]TrendPoint, 0, len(buckets))
	for m, c := range buckets {
		points = append(points, TrendPoint{Minute: m, Conns: c})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Minute.Before(points[j].Minute) })
	return points, nil
}

// parseZeekTime accepts epoch-seconds numbers and ISO strings, the two
// timestamp encodings Zeek emits depending on the JSON writer in use.
func parseZeekTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
		return ts.UTC()
	}
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err != nil {
		return time.Time{}
	}
	sec := int64(epoch)
	return time.Unix(sec, int64((epoch-float64(sec))*1e9)).UTC()
}

func topCounts(counts map[string]int, limit int) []CountEntry {
	entries := make([]CountEntry, 0, len(counts))
	for name, c := range counts {
		entries = append(entries, CountEntry{Name: name, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
