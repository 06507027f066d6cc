// File: reactor/work.go
// Author: momentics <momentics@gmail.com>
//
// Background work queue: work runs on a pool goroutine, after runs on the loop.

package reactor

// QueueWork runs work on the background pool and then after on the loop
// goroutine. The loop stays alive until after has run. Safe from any goroutine.
func (l *Loop) QueueWork(work func(), after func()) error {
	if l.state.Load() == loopClosed {
		return ErrLoopClosed
	}
	l.requests.Add(1)
	err := l.exec.Submit(func() {
		defer l.post(func() {
			l.requests.Add(-1)
			if after != nil {
				after()
			}
		})
		work()
	})
	if err != nil {
		l.requests.Add(-1)
		return err
	}
	return nil
}
