package pathsync

import (
	"fmt"
	"sync/atomic"

	"github.com/paulschiretz/pgl-sync/pkg/plog"
)

// progress logs every n completed tasks and on the last one.
type progress struct {
	label string
	total int64
	every int64
	done  atomic.Int64
}

func newProgress(label string, total, every int) *progress {
	return &progress{label: label, total: int64(total), every: int64(every)}
}

func (p *progress) step() {
	n := p.done.Add(1)
	if n%p.every != 0 && n != p.total {
		return
	}
	plog.Info(p.label, "done", n, "total", p.total, "percent", fmt.Sprintf("%.1f%%", float64(n)/float64(p.total)*100))
}
