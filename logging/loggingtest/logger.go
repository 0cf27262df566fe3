// Package loggingtest provides a logging.Logger implementation that
// records the entries, so tests can wait for expected log lines.
package loggingtest

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

type logSubscription struct {
	exp      string
	n        int
	response chan<- struct{}
}

type countMessage struct {
	exp      string
	response chan<- int
}

type logWatch struct {
	entries []string
	reqs    []*logSubscription
	mute    bool
}

type TestLogger struct {
	save   chan string
	notify chan<- logSubscription
	count  chan<- countMessage
	clear  chan struct{}
	mute   chan bool
	quit   chan<- struct{}
}

var ErrWaitTimeout = errors.New("timeout")

func (lw *logWatch) save(e string) {
	if lw.mute {
		return
	}

	lw.entries = append(lw.entries, e)
	for i := len(lw.reqs) - 1; i >= 0; i-- {
		req := lw.reqs[i]
		if strings.Contains(e, req.exp) {
			req.n--
			if req.n <= 0 {
				close(req.response)
				lw.reqs = append(lw.reqs[:i], lw.reqs[i+1:]...)
			}
		}
	}
}

func (lw *logWatch) notify(req logSubscription) {
	for i := len(lw.entries) - 1; i >= 0; i-- {
		if strings.Contains(lw.entries[i], req.exp) {
			req.n--
			if req.n == 0 {
				break
			}
		}
	}

	if req.n <= 0 {
		close(req.response)
	} else {
		lw.reqs = append(lw.reqs, &req)
	}
}

func (lw *logWatch) count(m countMessage) {
	var count int
	for _, e := range lw.entries {
		if strings.Contains(e, m.exp) {
			count++
		}
	}

	m.response <- count
}

func (lw *logWatch) clear() {
	lw.entries = nil
	lw.reqs = nil
}

// New creates a test logger. It needs to be closed.
func New() *TestLogger {
	lw := &logWatch{}
	save := make(chan string)
	notify := make(chan logSubscription)
	count := make(chan countMessage)
	clear := make(chan struct{})
	mute := make(chan bool)
	quit := make(chan struct{})

	go func() {
		for {
			select {
			case e := <-save:
				lw.save(e)
			case req := <-notify:
				lw.notify(req)
			case m := <-count:
				lw.count(m)
			case <-clear:
				lw.clear()
			case m := <-mute:
				lw.mute = m
			case <-quit:
				return
			}
		}
	}()

	return &TestLogger{save, notify, count, clear, mute, quit}
}

func (tl *TestLogger) logf(f string, a ...interface{}) {
	log.Printf(f, a...)
	tl.save <- fmt.Sprintf(f, a...)
}

func (tl *TestLogger) log(a ...interface{}) {
	log.Println(a...)
	tl.save <- fmt.Sprint(a...)
}

// WaitForN blocks until n entries containing exp were logged, or the
// timeout expires.
func (tl *TestLogger) WaitForN(exp string, n int, to time.Duration) error {
	found := make(chan struct{}, 1)
	tl.notify <- logSubscription{exp, n, found}

	select {
	case <-found:
		return nil
	case <-time.After(to):
		return ErrWaitTimeout
	}
}

// WaitFor blocks until an entry containing exp was logged, or the
// timeout expires.
func (tl *TestLogger) WaitFor(exp string, to time.Duration) error {
	return tl.WaitForN(exp, 1, to)
}

// Count returns the number of entries containing exp.
func (tl *TestLogger) Count(exp string) int {
	rsp := make(chan int, 1)
	tl.count <- countMessage{exp, rsp}
	return <-rsp
}

func (tl *TestLogger) Reset()  { tl.clear <- struct{}{} }
func (tl *TestLogger) Mute()   { tl.mute <- true }
func (tl *TestLogger) Unmute() { tl.mute <- false }
func (tl *TestLogger) Close()  { close(tl.quit) }

func (tl *TestLogger) Error(a ...interface{})            { tl.log(a...) }
func (tl *TestLogger) Errorf(f string, a ...interface{}) { tl.logf(f, a...) }
func (tl *TestLogger) Warn(a ...interface{})             { tl.log(a...) }
func (tl *TestLogger) Warnf(f string, a ...interface{})  { tl.logf(f, a...) }
func (tl *TestLogger) Info(a ...interface{})             { tl.log(a...) }
func (tl *TestLogger) Infof(f string, a ...interface{})  { tl.logf(f, a...) }
func (tl *TestLogger) Debug(a ...interface{})            { tl.log(a...) }
func (tl *TestLogger) Debugf(f string, a ...interface{}) { tl.logf(f, a...) }
