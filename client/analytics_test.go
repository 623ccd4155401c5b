package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/grantdesk/grantdesk/analytics"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

// pageViewSink is a fake analytics API that records the page views sent to
// it. Requests block until release is closed.
type pageViewSink struct {
	mtx     sync.Mutex
	views   []analytics.PageView
	release chan struct{}
	status  int
}

func (s *pageViewSink) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	<-s.release

	if req.URL.Path != "/api/analytics/pageview" {
		http.NotFound(w, req)
		return
	}
	var pv analytics.PageView
	if err := json.NewDecoder(req.Body).Decode(&pv); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mtx.Lock()
	s.views = append(s.views, pv)
	s.mtx.Unlock()

	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *pageViewSink) Views() []analytics.PageView {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]analytics.PageView{}, s.views...)
}

// newSinkClient starts a server for sink. The returned func stops it and must
// be called before checking for leaked goroutines.
func newSinkClient(sink *pageViewSink) (*Client, func()) {
	srv := httptest.NewServer(sink)
	c := New(srv.URL)
	c.HTTP = srv.Client()
	return c, func() {
		c.HTTP.CloseIdleConnections()
		srv.Close()
	}
}

func Test_Tracker(t *testing.T) {
	t.Run("close waits for page views in flight", func(t *testing.T) {
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
		assert := assert.New(t)

		sink := &pageViewSink{release: make(chan struct{})}
		c, stop := newSinkClient(sink)
		defer stop()
		tr := c.NewTracker("s1", "c1")

		tr.PageView("/dashboard", "Dashboard")
		tr.Track(analytics.PageView{Path: "/billing", DurationMS: 1500})
		tr.Track(analytics.PageView{Path: "/elsewhere", SessionID: "s2", ClientID: "c2"})

		closed := make(chan struct{})
		go func() {
			tr.Close()
			close(closed)
		}()

		select {
		case <-closed:
			close(sink.release)
			t.Fatal("Close returned while page views were still being sent")
		case <-time.After(50 * time.Millisecond):
		}

		close(sink.release)
		select {
		case <-closed:
		case <-time.After(5 * time.Second):
			t.Fatal("Close did not return")
		}

		views := sink.Views()
		if !assert.Len(views, 3) {
			return
		}
		byPath := map[string]analytics.PageView{}
		for _, v := range views {
			byPath[v.Path] = v
		}
		assert.Equal("s1", byPath["/dashboard"].SessionID)
		assert.Equal("c1", byPath["/dashboard"].ClientID)
		assert.Equal("Dashboard", byPath["/dashboard"].Title)
		assert.False(byPath["/dashboard"].ViewedAt.IsZero())
		assert.Equal(int64(1500), byPath["/billing"].DurationMS)
		assert.Equal("s2", byPath["/elsewhere"].SessionID)
		assert.Equal("c2", byPath["/elsewhere"].ClientID)
	})

	t.Run("page views after close are dropped", func(t *testing.T) {
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
		assert := assert.New(t)

		sink := &pageViewSink{release: make(chan struct{})}
		close(sink.release)
		c, stop := newSinkClient(sink)
		defer stop()
		tr := c.NewTracker("s1", "c1")

		tr.Close()
		tr.PageView("/late", "")
		tr.Close()

		assert.Empty(sink.Views())
	})

	t.Run("failures are not returned", func(t *testing.T) {
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
		assert := assert.New(t)

		sink := &pageViewSink{release: make(chan struct{}), status: http.StatusInternalServerError}
		close(sink.release)
		c, stop := newSinkClient(sink)
		defer stop()
		tr := c.NewTracker("s1", "c1")

		assert.NotPanics(func() {
			tr.PageView("/dashboard", "")
			tr.Close()
		})
		assert.Len(sink.Views(), 1)
	})
}
