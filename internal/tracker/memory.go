package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cisift/cisift/internal/metadata"
	"github.com/cisift/cisift/internal/types"
)

// record is the in-memory backing store entry.
type record struct {
	id       string
	title    string
	body     string
	status   types.Status
	labels   []string
	comments []string
}

// Memory is an in-memory Tracker used by tests and dry runs. Queries
// match on the correlation key parsed from each record's body, the
// same way a real provider-side search would.
type Memory struct {
	mu      sync.Mutex
	records map[string]*record
	order   []string
	nextID  int
	prefix  string
}

// NewMemory creates an empty in-memory tracker. Ids look like "ts-1".
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*record), prefix: "ts-"}
}

func (m *Memory) ListOpenByKey(ctx context.Context, key types.CorrelationKey) ([]types.TrackedRef, error) {
	return m.listByKey(key, types.StatusOpen)
}

func (m *Memory) ListClosedByKey(ctx context.Context, key types.CorrelationKey) ([]types.TrackedRef, error) {
	return m.listByKey(key, types.StatusClosed)
}

func (m *Memory) ListOpenByFeature(ctx context.Context, featureID string) ([]types.TrackedRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var refs []types.TrackedRef
	for _, id := range m.order {
		rec := m.records[id]
		if rec.status != types.StatusOpen {
			continue
		}
		md, err := metadata.ExtractFromBody(rec.body)
		if err != nil {
			continue
		}
		if !md.FeatureID.Set || md.FeatureID.Value != featureID {
			continue
		}
		refs = append(refs, rec.ref())
	}
	return refs, nil
}

func (m *Memory) listByKey(key types.CorrelationKey, status types.Status) ([]types.TrackedRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var refs []types.TrackedRef
	for _, id := range m.order {
		rec := m.records[id]
		if rec.status != status {
			continue
		}
		md, err := metadata.ExtractFromBody(rec.body)
		if err != nil {
			continue
		}
		if md.Key() != key {
			continue
		}
		refs = append(refs, rec.ref())
	}
	return refs, nil
}

func (m *Memory) Create(ctx context.Context, title, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := fmt.Sprintf("%s%d", m.prefix, m.nextID)
	m.records[id] = &record{
		id:     id,
		title:  title,
		body:   body,
		status: types.StatusOpen,
	}
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) GetRef(ctx context.Context, id string) (types.TrackedRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return types.TrackedRef{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return rec.ref(), nil
}

func (m *Memory) AddLabel(ctx context.Context, id, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("add label to %s: %w", id, ErrNotFound)
	}
	for _, l := range rec.labels {
		if l == label {
			return nil
		}
	}
	rec.labels = append(rec.labels, label)
	return nil
}

func (m *Memory) RemoveLabel(ctx context.Context, id, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("remove label from %s: %w", id, ErrNotFound)
	}
	kept := rec.labels[:0]
	for _, l := range rec.labels {
		if l != label {
			kept = append(kept, l)
		}
	}
	rec.labels = kept
	return nil
}

func (m *Memory) AddComment(ctx context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("comment on %s: %w", id, ErrNotFound)
	}
	rec.comments = append(rec.comments, text)
	return nil
}

func (m *Memory) GetState(ctx context.Context, id string) (types.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return "", fmt.Errorf("get state of %s: %w", id, ErrNotFound)
	}
	return rec.status, nil
}

// Seed files an open record under a caller-chosen id. Used by tests
// and the CLI harness to stand in for records that exist on a real
// tracker.
func (m *Memory) Seed(id, title, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[id]; exists {
		return fmt.Errorf("seed %s: id already in use", id)
	}
	m.records[id] = &record{
		id:     id,
		title:  title,
		body:   body,
		status: types.StatusOpen,
	}
	m.order = append(m.order, id)
	return nil
}

// Close marks a record closed, standing in for the external actor that
// owns closing in production.
func (m *Memory) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("close %s: %w", id, ErrNotFound)
	}
	rec.status = types.StatusClosed
	return nil
}

// Comments returns the comments on a record, for test assertions.
func (m *Memory) Comments(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	return append([]string(nil), rec.comments...)
}

// Labels returns the labels on a record, for test assertions.
func (m *Memory) Labels(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	return append([]string(nil), rec.labels...)
}

// Title returns a record's title, for test assertions.
func (m *Memory) Title(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[id]; ok {
		return rec.title
	}
	return ""
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Dump renders a short listing of all records, newest last. Used by
// the dry-run CLI output.
func (m *Memory) Dump() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	for _, id := range m.order {
		rec := m.records[id]
		fmt.Fprintf(&b, "%s [%s] %s", rec.id, rec.status, rec.title)
		if len(rec.labels) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(rec.labels, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (r *record) ref() types.TrackedRef {
	return types.TrackedRef{
		ID:     r.id,
		Body:   r.body,
		Status: r.status,
		Labels: append([]string(nil), r.labels...),
	}
}
