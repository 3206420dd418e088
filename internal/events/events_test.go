package events

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/folio/internal/domain"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster(nil)
	c1, c2 := b.Connect(), b.Connect()
	require.Equal(t, 2, b.Len())

	b.LibraryChanged("book.added", 42)
	for _, c := range []*Client{c1, c2} {
		ev := <-c.Events
		assert.Equal(t, "book.added", ev.Type)
		assert.Equal(t, domain.BookID(42), ev.BookID)
		assert.False(t, ev.At.IsZero())
	}

	b.Disconnect(c1.ID)
	b.Disconnect(c1.ID)
	assert.Equal(t, 1, b.Len())
	_, open := <-c1.Done
	assert.False(t, open)
}

func TestBroadcasterDropsForSlowClient(t *testing.T) {
	b := NewBroadcaster(nil)
	c := b.Connect()
	for range clientBuffer + 5 {
		b.LibraryChanged("book.deleted", 1)
	}
	assert.Len(t, c.Events, clientBuffer)
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(nil)
	c := b.Connect()
	b.Close()
	<-c.Done
	assert.Nil(t, b.Connect())
	assert.Equal(t, 0, b.Len())
}

func TestHandlerStreamsEvents(t *testing.T) {
	b := NewBroadcaster(nil)
	srv := httptest.NewServer(&Handler{Broadcaster: b, Heartbeat: time.Hour})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return b.Len() == 1 }, time.Second, 5*time.Millisecond)
	b.LibraryChanged("book.added", 7)

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	assert.Equal(t, "event: book.added", sc.Text())
	require.True(t, sc.Scan())
	data, ok := strings.CutPrefix(sc.Text(), "data: ")
	require.True(t, ok)
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, domain.BookID(7), ev.BookID)

	b.Close()
}

func TestHandlerRefusesAfterClose(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Close()
	rec := httptest.NewRecorder()
	(&Handler{Broadcaster: b}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
