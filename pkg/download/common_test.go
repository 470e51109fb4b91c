package download

import (
	"bytes"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/replicate/rget/pkg/byterange"
)

const testFilePath = "test.bin"

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// generateTestContent generates a byte slice of random content
func generateTestContent(size int64) []byte {
	content := make([]byte, size)
	rnd := rand.New(rand.NewSource(99))
	for i := range content {
		content[i] = byte(rnd.Intn(256))
	}
	return content
}

// tempFilename returns a path in a fresh temp directory that does not exist yet.
func tempFilename(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), testFilePath)
}

type testServer struct {
	*httptest.Server
	content []byte
	// ranges counts GET requests carrying a Range header.
	ranges atomic.Int64
	// failAfter, when set, makes every GET fail once that many range
	// requests have been served.
	failAfter atomic.Int64
}

// newTestServer serves content with support for range requests.
func newTestServer(t *testing.T, content []byte) *testServer {
	t.Helper()
	ts := &testServer{content: content}
	ts.failAfter.Store(-1)
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.Header.Get("Range") != "" {
			n := ts.ranges.Add(1)
			if limit := ts.failAfter.Load(); limit >= 0 && n > limit {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		http.ServeContent(w, r, testFilePath, time.Time{}, bytes.NewReader(ts.content))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) fileURL() string {
	return ts.URL + "/" + testFilePath
}

// collect drains queue after the producer has finished.
func collect(queue chan byterange.Chunk) []byterange.Chunk {
	close(queue)
	var chunks []byterange.Chunk
	for c := range queue {
		chunks = append(chunks, c)
	}
	return chunks
}

func concat(chunks []byterange.Chunk) []byte {
	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c.Data[:c.Length])
	}
	return buf.Bytes()
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return data
}
