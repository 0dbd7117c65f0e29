package service

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// orderIDGenerator hands out ids of the form ORD-<time token>-<random>. The
// time token is a millisecond clock forced to increase strictly, so ids sort
// by creation even when two checkouts share a millisecond.
type orderIDGenerator struct {
	last atomic.Int64
}

func (g *orderIDGenerator) Next(now time.Time) string {
	ms := now.UnixMilli()
	for {
		prev := g.last.Load()
		next := ms
		if next <= prev {
			next = prev + 1
		}
		if g.last.CompareAndSwap(prev, next) {
			token := strings.ToUpper(strconv.FormatInt(next, 36))
			suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
			return "ORD-" + token + "-" + suffix
		}
	}
}
