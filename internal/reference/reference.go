package reference

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator produces transaction references: a time-derived component for
// traceability plus a random component so two references minted in the same
// millisecond still differ. Uniqueness is enforced at persist time; callers
// retry on a constraint violation.
type Generator struct {
	prefix string
	now    func() time.Time
}

func New(prefix string) Generator {
	if prefix == "" {
		prefix = "TXN"
	}
	return Generator{prefix: prefix, now: time.Now}
}

// NewAt pins the clock, for tests.
func NewAt(prefix string, now func() time.Time) Generator {
	g := New(prefix)
	g.now = now
	return g
}

func (g Generator) Generate() string {
	ts := strings.ToUpper(strconv.FormatInt(g.now().UTC().UnixMilli(), 36))
	u := uuid.New()
	rnd := strings.ToUpper(hex.EncodeToString(u[:5]))
	return g.prefix + "-" + ts + "-" + rnd
}
