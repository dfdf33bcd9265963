package generate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_SuccessSingleObject(t *testing.T) {
	// Given: a backend that returns one non-streaming JSON object
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		fmt.Fprint(w, `{"response":"the synthesized answer","done":true}`)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Model: "llama3"})

	// When: I call Generate
	text, err := c.Generate(context.Background(), "prompt")

	// Then: the response text is returned
	require.NoError(t, err)
	assert.Equal(t, "the synthesized answer", text)
}

func TestGenerate_AccumulatesStreamedChunks(t *testing.T) {
	// Given: a backend that streams line-delimited JSON fragments
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"part one ","done":false}`)
		fmt.Fprintln(w, `{"response":"part two","done":true}`)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Model: "llama3"})

	text, err := c.Generate(context.Background(), "prompt")

	require.NoError(t, err)
	assert.Equal(t, "part one part two", text)
}

func TestGenerate_RetriesOnTransportFailure(t *testing.T) {
	// Given: a backend that fails twice then succeeds
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"response":"ok","done":true}`)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Model: "llama3", MaxRetries: 3})

	text, err := c.Generate(context.Background(), "prompt")

	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestGenerate_FailsAfterMaxRetries(t *testing.T) {
	// Given: a backend that always errors
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Model: "llama3", MaxRetries: 1})

	_, err := c.Generate(context.Background(), "prompt")

	require.Error(t, err)
}

func TestGenerate_ContextCancellation(t *testing.T) {
	// Given: a backend that hangs
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Model: "llama3", MaxRetries: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, "prompt")

	require.Error(t, err)
}

func TestAvailable_ModelPresent(t *testing.T) {
	// Given: a backend reporting one model
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3:latest"}]}`)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Model: "llama3"})

	assert.True(t, c.Available(context.Background()))
}

func TestAvailable_ModelMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"mistral:latest"}]}`)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Model: "llama3"})

	assert.False(t, c.Available(context.Background()))
}

func TestAvailable_BackendUnreachable(t *testing.T) {
	c := New(Config{URL: "http://127.0.0.1:1", Model: "llama3"})

	assert.False(t, c.Available(context.Background()))
}

func TestClose_IsIdempotent(t *testing.T) {
	c := New(Config{URL: "http://localhost:11434", Model: "llama3"})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestGenerate_AfterClose_Errors(t *testing.T) {
	c := New(Config{URL: "http://localhost:11434", Model: "llama3"})
	require.NoError(t, c.Close())

	_, err := c.Generate(context.Background(), "prompt")

	require.Error(t, err)
}
