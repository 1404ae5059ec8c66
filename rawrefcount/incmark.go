// ABOUTME: Incremental cycle detection strategy built on the snapshot engine
// ABOUTME: Each major step does a bounded amount of marking; the result is validated before use

package rawrefcount

import "go.opentelemetry.io/otel/attribute"

type incPhase uint8

const (
	incIdle incPhase = iota
	incRoots
	incInit
	incMark
)

func (p incPhase) String() string {
	return [...]string{"idle", "roots", "init", "mark"}[p]
}

type incMarkStrategy struct {
	phase  incPhase
	snap   *snapshot
	cursor int
	work   []int32
}

func (s *incMarkStrategy) traceStep(b *Bridge) bool {
	if !b.cycles {
		if s.snap != nil {
			b.log.Debug("cycle detection turned off during marking")
			s.reset(b)
			b.state = StateDefault
		}
		b.traceBorder(false)
		return true
	}
	span := b.startSpan("rawrefcount.incmark", attribute.String("rrc.phase", s.phase.String()))
	defer span.End()

	switch s.phase {
	case incIdle:
		b.beginCycle()
		s.snap = b.takeSnapshot()
		b.last.Snapshot = len(s.snap.objs)
		b.last.Candidates = s.snap.gcObjects()
		b.state = StateMarking
		s.phase = incRoots
		span.SetAttributes(attribute.Int("rrc.snapshot", len(s.snap.objs)))
		return false
	case incRoots:
		s.snap.subtractInternal()
		s.phase = incInit
		return false
	case incInit:
		if s.initStep(b) {
			s.phase = incMark
		}
		return false
	}
	if !s.markStep(b) {
		span.SetAttributes(attribute.Int("rrc.worklist", len(s.work)))
		return false
	}
	consistent := s.finish(b)
	span.SetAttributes(
		attribute.Bool("rrc.consistent", consistent),
		attribute.Int("rrc.dead", b.last.Dead))
	return true
}

// initStep marks the snapshot objects referenced from outside it.
func (s *incMarkStrategy) initStep(b *Bridge) bool {
	for budget := b.cfg.IncrementLimit; budget > 0 && s.cursor < len(s.snap.objs); budget-- {
		s.mark(b, int32(s.cursor))
		s.cursor++
	}
	return s.cursor == len(s.snap.objs)
}

// markStep propagates liveness from the work list. When the list runs dry
// it looks for objects whose mirror got marked since; marking is complete
// only when there are none.
func (s *incMarkStrategy) markStep(b *Bridge) bool {
	for budget := b.cfg.IncrementLimit; budget > 0 && len(s.work) > 0; budget-- {
		n := len(s.work) - 1
		i := s.work[n]
		s.work = s.work[:n]
		s.mark(b, i)
	}
	if len(s.work) > 0 {
		return false
	}
	return !s.rescan(b)
}

func (s *incMarkStrategy) mark(b *Bridge, i int32) {
	o := &s.snap.objs[i]
	if o.marked {
		return
	}
	if o.refcnt == 0 && o.link != Nil && b.heap.Marked(o.link) {
		o.refcnt = 1
	}
	if o.refcnt == 0 {
		return
	}
	o.marked = true
	for _, r := range o.refs {
		if r < 0 {
			continue
		}
		t := &s.snap.objs[r]
		if t.refcnt == 0 && !t.marked {
			s.work = append(s.work, r)
		}
		t.refcnt++
	}
	if o.link != Nil {
		b.heap.KeepAlive(o.link)
		b.heap.VisitAll()
	}
}

func (s *incMarkStrategy) rescan(b *Bridge) bool {
	found := false
	for i := range s.snap.objs {
		o := &s.snap.objs[i]
		if !o.marked && o.link != Nil && b.heap.Marked(o.link) {
			s.work = append(s.work, int32(i))
			found = true
		}
	}
	return found
}

// finish applies the marking result, or keeps every candidate alive for
// this cycle if the mutator changed an object marking found dead.
func (s *incMarkStrategy) finish(b *Bridge) bool {
	defer s.reset(b)

	consistent := b.syncSnapshot(s.snap)
	b.last.Consistent = consistent
	useCyclic := false
	if consistent {
		useCyclic = b.finishCycle()
	} else {
		b.log.Debug("snapshot invalidated by mutator, candidates kept alive", "snapshot", len(s.snap.objs))
		b.state = StateDefault
	}
	b.traceBorder(useCyclic)
	return consistent
}

func (s *incMarkStrategy) reset(b *Bridge) {
	if s.snap != nil {
		b.discardSnapshot(s.snap)
	}
	s.snap = nil
	s.work = s.work[:0]
	s.cursor = 0
	s.phase = incIdle
}
