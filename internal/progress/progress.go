// Package progress reports the position of long iterations through
// the structured logger.
package progress

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const defaultInterval = 100000

// Tracker logs every interval items and once more on Done.
type Tracker struct {
	log      *logrus.Logger
	label    string
	total    uint64
	count    uint64
	interval uint64
}

// New makes a tracker; total 0 means unknown.
func New(log *logrus.Logger, label string, total uint64) *Tracker {
	if log == nil {
		log = logrus.New()
	}
	return &Tracker{log: log, label: label, total: total, interval: defaultInterval}
}

func (t *Tracker) Track() {
	n := atomic.AddUint64(&t.count, 1)
	if n%t.interval == 0 {
		t.report(n)
	}
}

func (t *Tracker) Done() {
	t.report(atomic.LoadUint64(&t.count))
}

func (t *Tracker) report(n uint64) {
	fields := logrus.Fields{"processed": n}
	if t.total > 0 {
		fields["total"] = t.total
	}
	t.log.WithFields(fields).Infof("%s progress", t.label)
}
