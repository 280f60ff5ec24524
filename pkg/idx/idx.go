package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/tollgate/pkg/clockx"
	"github.com/oklog/ulid/v2"
)

type ID string

// Zero represents the zero value ID, don't use this unless its a placeholder.
const Zero ID = ""

// ErrInvalid reports a malformed ULID string.
var ErrInvalid = errors.New("idx: invalid ulid")

var (
	globalOnce sync.Once
	global     *Generator
)

// Generator safely produces ULIDs concurrently from a monotonic entropy
// source. The timestamp half comes from the injected clock, so records
// created under a fake clock still sort in creation order.
type Generator struct {
	mu      sync.Mutex
	clock   clockx.Clock
	entropy *ulid.MonotonicEntropy
}

// NewGenerator returns a Generator stamping ids with c.
func NewGenerator(c clockx.Clock) *Generator {
	if c == nil {
		c = clockx.System()
	}
	return &Generator{
		clock:   c,
		entropy: ulid.Monotonic(rand.Reader, 0), // Max Monotonic Window
	}
}

// New returns an ID stamped with the generator clock.
func (g *Generator) New() ID {
	return g.NewAt(g.clock.Now())
}

// NewAt returns an ID stamped with t.
func (g *Generator) NewAt(t time.Time) ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	u := ulid.MustNew(ulid.Timestamp(t.UTC()), g.entropy)
	return ID(u.String())
}

func initGlobal() {
	global = NewGenerator(clockx.System())
}

// New returns a new lexicographically sortable ULID-based ID using the
// current time in UTC and a monotonic entropy source.
func New() ID {
	globalOnce.Do(initGlobal)
	return global.New()
}

// NewAt generates an ID at the provided time (UTC), useful for tests or
// constructing time-bounded cursors.
func NewAt(t time.Time) ID {
	globalOnce.Do(initGlobal)
	return global.NewAt(t)
}

// Parse parses a ULID string into an ID and validates its form.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}

	if _, err := ulid.ParseStrict(s); err != nil {
		return Zero, ErrInvalid
	}

	return ID(s), nil
}

// MustParse parses or panics. Useful for hard-coded IDs in tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == Zero }

// String returns the canonical string form.
func (id ID) String() string { return string(id) }

// Time extracts the embedded UTC timestamp from the ID.
// If the ID is invalid or zero, it returns the zero time.
func (id ID) Time() time.Time {
	if id.IsZero() {
		return time.Time{}
	}

	u, err := ulid.ParseStrict(id.String())
	if err != nil {
		return time.Time{}
	}

	// ULID time component is in ms since epoch.
	return ulid.Time(u.Time()).UTC()
}

// Compare reports the lexical ordering between a and b.
// Returns -1 if a<b, 0 if a==b, +1 if a>b.
func Compare(a, b ID) int {
	return strings.Compare(a.String(), b.String())
}
