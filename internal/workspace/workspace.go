// Package workspace keeps shared, named JSON payloads per feature in a single
// document.
//
// The document maps feature keys to workspace names to payloads. Every
// mutation holds the document lock for its whole read-modify-write. The store
// favors availability: a document that does not parse reads as empty and a
// write that cannot get the lock in time is dropped with a warning. Entries
// that parse but are not JSON objects are kept verbatim and never listed.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/maruel/kitchenstore/internal/atomicfile"
	"github.com/maruel/kitchenstore/internal/lock"
	"github.com/maruel/kitchenstore/internal/models"
	"github.com/maruel/kitchenstore/internal/paths"
)

// DefaultName is the workspace used when the caller has not picked one.
const DefaultName = "Main Floor"

// MaxNameLen is the maximum length of a workspace name, in characters.
const MaxNameLen = 60

// Payload is the JSON object stored for one workspace.
type Payload = map[string]any

// document is the decoded team state.
type document struct {
	features map[string]map[string]Payload
	// Values that are not JSON objects, written back unchanged.
	badFeatures map[string]json.RawMessage
	badPayloads map[string]map[string]json.RawMessage
}

func newDocument() *document {
	return &document{
		features:    map[string]map[string]Payload{},
		badFeatures: map[string]json.RawMessage{},
		badPayloads: map[string]map[string]json.RawMessage{},
	}
}

func (d *document) get(feature, name string) (Payload, bool) {
	p, ok := d.features[feature][name]
	return p, ok
}

func (d *document) set(feature, name string, p Payload) {
	delete(d.badFeatures, feature)
	if bad := d.badPayloads[feature]; bad != nil {
		delete(bad, name)
		if len(bad) == 0 {
			delete(d.badPayloads, feature)
		}
	}
	bucket := d.features[feature]
	if bucket == nil {
		bucket = map[string]Payload{}
		d.features[feature] = bucket
	}
	bucket[name] = p
}

// remove deletes the workspace and reports whether it existed. A feature
// left empty is removed.
func (d *document) remove(feature, name string) bool {
	found := false
	if bucket, ok := d.features[feature]; ok {
		if _, ok := bucket[name]; ok {
			delete(bucket, name)
			found = true
		}
	}
	if bad, ok := d.badPayloads[feature]; ok {
		if _, ok := bad[name]; ok {
			delete(bad, name)
			found = true
		}
		if len(bad) == 0 {
			delete(d.badPayloads, feature)
		}
	}
	if len(d.features[feature]) == 0 && len(d.badPayloads[feature]) == 0 {
		delete(d.features, feature)
	}
	return found
}

func (d *document) marshal() ([]byte, error) {
	top := make(map[string]any, len(d.features)+len(d.badFeatures))
	for f, raw := range d.badFeatures {
		top[f] = raw
	}
	for f, bucket := range d.features {
		obj := make(map[string]any, len(bucket)+len(d.badPayloads[f]))
		for n, p := range bucket {
			obj[n] = p
		}
		top[f] = obj
	}
	for f, bad := range d.badPayloads {
		obj, _ := top[f].(map[string]any)
		if obj == nil {
			obj = make(map[string]any, len(bad))
			top[f] = obj
		}
		for n, raw := range bad {
			obj[n] = raw
		}
	}
	return json.MarshalIndent(top, "", "  ")
}

// Recorder is notified after the document is committed, under the document
// lock. Its failure is logged only.
type Recorder interface {
	Record(ctx context.Context, path, message string) error
}

// Options configures a Store.
type Options struct {
	// Locker guards the document. Defaults to a lock.Sentinel.
	Locker lock.Locker
	// LockTimeout bounds each lock wait. 0 uses the Locker's default.
	LockTimeout time.Duration
	// Recorder, if set, records every committed document.
	Recorder Recorder
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store reads and writes the workspace document.
//
// It is safe for concurrent use.
type Store struct {
	path     string
	locker   lock.Locker
	timeout  time.Duration
	recorder Recorder
	log      *slog.Logger
}

// New returns a Store for the team state document under resolver's root.
func New(resolver *paths.Resolver, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	p, err := resolver.File(paths.TeamStateFile)
	if err != nil {
		return nil, err
	}
	s := &Store{path: p, locker: opts.Locker, timeout: opts.LockTimeout, recorder: opts.Recorder, log: opts.Logger}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.locker == nil {
		s.locker = lock.NewSentinel(s.timeout, 0, s.log)
	}
	return s, nil
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// NormalizeFeature lower-cases feature and replaces spaces with underscores.
func NormalizeFeature(feature string) (string, error) {
	f := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(feature)), " ", "_")
	if f == "" {
		return "", models.MissingField("feature")
	}
	return f, nil
}

// NormalizeName collapses whitespace in name and caps its length.
func NormalizeName(name string) (string, error) {
	n := strings.Join(strings.Fields(name), " ")
	if r := []rune(n); len(r) > MaxNameLen {
		n = strings.TrimSpace(string(r[:MaxNameLen]))
	}
	if n == "" {
		return "", models.MissingField("workspace name")
	}
	return n, nil
}

func normalize(feature, name string) (string, string, error) {
	f, err := NormalizeFeature(feature)
	if err != nil {
		return "", "", err
	}
	n, err := NormalizeName(name)
	if err != nil {
		return "", "", err
	}
	return f, n, nil
}

// List returns the workspace names of feature, sorted case-insensitively.
func (s *Store) List(ctx context.Context, feature string) ([]string, error) {
	f, err := NormalizeFeature(feature)
	if err != nil {
		return nil, err
	}
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(doc.features[f]))
	for n := range doc.features[f] {
		names = append(names, n)
	}
	slices.SortFunc(names, compareFold)
	return names, nil
}

// Features returns the feature keys that have at least one workspace.
func (s *Store) Features(ctx context.Context) ([]string, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(doc.features))
	for f, bucket := range doc.features {
		if len(bucket) > 0 {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Ensure creates the workspace with def if it does not exist and returns its
// normalized name.
func (s *Store) Ensure(ctx context.Context, feature, name string, def Payload) (string, error) {
	f, n, err := normalize(feature, name)
	if err != nil {
		return "", err
	}
	initial, err := clone(def)
	if err != nil {
		return "", err
	}
	_, err = s.update(ctx, "ensure workspace "+f+"/"+n, func(doc *document) bool {
		if _, ok := doc.get(f, n); ok {
			return false
		}
		doc.set(f, n, initial)
		return true
	})
	return n, err
}

// Load returns a copy of the workspace payload. A workspace that was never
// saved is created with def and a copy of def is returned.
func (s *Store) Load(ctx context.Context, feature, name string, def Payload) (Payload, error) {
	f, n, err := normalize(feature, name)
	if err != nil {
		return nil, err
	}
	initial, err := clone(def)
	if err != nil {
		return nil, err
	}
	var out Payload
	applied, err := s.update(ctx, "create workspace "+f+"/"+n, func(doc *document) bool {
		if p, ok := doc.get(f, n); ok {
			out = p
			return false
		}
		doc.set(f, n, initial)
		out = initial
		return true
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		// The lock was not acquired; fall back to what is on disk.
		doc, err := s.read(ctx)
		if err != nil {
			return nil, err
		}
		if p, ok := doc.get(f, n); ok {
			out = p
		} else {
			out = initial
		}
	}
	return clone(out)
}

// Save replaces the workspace payload with a copy of payload.
func (s *Store) Save(ctx context.Context, feature, name string, payload Payload) error {
	f, n, err := normalize(feature, name)
	if err != nil {
		return err
	}
	p, err := clone(payload)
	if err != nil {
		return err
	}
	_, err = s.update(ctx, "save workspace "+f+"/"+n, func(doc *document) bool {
		doc.set(f, n, p)
		return true
	})
	return err
}

// Delete removes the workspace. A feature left without workspaces is removed
// too.
func (s *Store) Delete(ctx context.Context, feature, name string) error {
	f, n, err := normalize(feature, name)
	if err != nil {
		return err
	}
	_, err = s.update(ctx, "delete workspace "+f+"/"+n, func(doc *document) bool {
		return doc.remove(f, n)
	})
	return err
}

// update runs fn on the current document under the document lock and writes
// the document back when fn reports a change.
//
// applied is false when the lock could not be acquired in time; the change is
// then dropped and no error is returned.
func (s *Store) update(ctx context.Context, message string, fn func(doc *document) bool) (applied bool, err error) {
	err = lock.Do(ctx, s.locker, lock.PathFor(s.path), s.timeout, func() error {
		doc, err := s.read(ctx)
		if err != nil {
			return err
		}
		if !fn(doc) {
			return nil
		}
		if err := s.write(doc); err != nil {
			return err
		}
		if s.recorder != nil {
			if err := s.recorder.Record(ctx, s.path, message); err != nil {
				s.log.WarnContext(ctx, "failed to record history", "path", s.path, "err", err)
			}
		}
		return nil
	})
	if models.IsLockTimeout(err) {
		s.log.WarnContext(ctx, "workspace write skipped", "path", s.path, "err", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// read loads the document. A missing document, or one that is not a JSON
// object, is empty.
func (s *Store) read(ctx context.Context) (*document, error) {
	data, err := os.ReadFile(s.path) //nolint:gosec // G304: path is resolved under the data root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newDocument(), nil
		}
		return nil, fmt.Errorf("failed to read workspace document: %w", err)
	}
	doc := newDocument()
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		s.log.WarnContext(ctx, "corrupt workspace document treated as empty", "err", models.Malformed(s.path, err))
		return doc, nil
	}
	for f, raw := range top {
		var bucket map[string]json.RawMessage
		if err := json.Unmarshal(raw, &bucket); err != nil || bucket == nil {
			s.log.WarnContext(ctx, "workspace feature is not an object", "feature", f)
			doc.badFeatures[f] = raw
			continue
		}
		doc.features[f] = map[string]Payload{}
		for n, praw := range bucket {
			p, err := decodePayload(praw)
			if err != nil {
				s.log.WarnContext(ctx, "workspace payload is not an object", "feature", f, "workspace", n)
				if doc.badPayloads[f] == nil {
					doc.badPayloads[f] = map[string]json.RawMessage{}
				}
				doc.badPayloads[f][n] = praw
				continue
			}
			doc.features[f][n] = p
		}
	}
	return doc, nil
}

func (s *Store) write(doc *document) error {
	data, err := doc.marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal workspace document: %w", err)
	}
	data = append(data, '\n')
	if err := atomicfile.WriteFile(s.path, data); err != nil {
		return fmt.Errorf("failed to write workspace document: %w", err)
	}
	return nil
}

// clone deep copies p through its JSON form. A nil payload becomes an empty
// one.
func clone(p Payload) (Payload, error) {
	if p == nil {
		return Payload{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, models.Validation(fmt.Sprintf("payload is not JSON serializable: %v", err))
	}
	return decodePayload(b)
}

// decodePayload decodes a JSON object. Numbers become float64 when that is
// exact and stay json.Number otherwise.
func decodePayload(b []byte) (Payload, error) {
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	var p Payload
	if err := d.Decode(&p); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("payload is null")
	}
	return fixNumbers(p).(Payload), nil
}

func fixNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = fixNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = fixNumbers(e)
		}
	case json.Number:
		s := string(t)
		if !strings.ContainsAny(s, ".eE") {
			i, err := t.Int64()
			if err != nil || i != int64(float64(i)) {
				return t
			}
			return float64(i)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t
	}
	return v
}

func compareFold(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}
