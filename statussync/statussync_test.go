package statussync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnqueueFiltersNonReportableStatus(t *testing.T) {
	var called int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := New(2, 4, time.Second, 1)
	require.NoError(t, err)
	defer s.Close()

	s.Enqueue(Event{DocID: "doc1", InternalStatus: "chunking", CallbackURL: srv.URL})
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, called)
}

func TestEnqueueDeliversMappedStatus(t *testing.T) {
	received := make(chan callbackPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p callbackPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := New(2, 4, time.Second, 1)
	require.NoError(t, err)
	defer s.Close()

	s.Enqueue(Event{DocID: "doc1", InternalStatus: StatusSplited, RequestID: "req-1", CallbackURL: srv.URL})

	select {
	case p := <-received:
		require.Equal(t, "doc1", p.DocID)
		require.Equal(t, "fully_processed", p.Status)
		require.Equal(t, "req-1", p.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("callback not delivered")
	}
}

func TestEnqueueNeverBlocksOnFullQueue(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(block)

	s, err := New(1, 1, 5*time.Second, 0)
	require.NoError(t, err)
	defer s.Close()

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			s.Enqueue(Event{DocID: "doc", InternalStatus: StatusSplited, CallbackURL: srv.URL})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked the caller")
	}
	wg.Wait()
}

func TestEnqueueSkipsEmptyCallbackURL(t *testing.T) {
	s, err := New(1, 1, time.Second, 0)
	require.NoError(t, err)
	defer s.Close()
	s.Enqueue(Event{DocID: "doc1", InternalStatus: StatusSplited, CallbackURL: ""})
}
