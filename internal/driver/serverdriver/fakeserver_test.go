package serverdriver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
)

const testSessionID = "session-123"

type fakeFile struct {
	name        string
	isDirectory bool
	content     []byte
	updatedTime int64
}

// fakeServer is an in-memory implementation of the sync server file API.
type fakeServer struct {
	mu       sync.Mutex
	files    map[string]*fakeFile
	clock    int64
	failNext int
	failCode int
	requests []string
	server   *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fs := &fakeServer{
		files: map[string]*fakeFile{"": {name: "root", isDirectory: true}},
		clock: 1_700_000_000_000,
	}

	r := gin.New()
	r.Use(slogGin.New(slog.Default().WithGroup("http")))
	r.Use(fs.auth)
	r.Any("/api/files/*path", fs.handle)

	fs.server = httptest.NewServer(r)
	t.Cleanup(fs.server.Close)
	return fs
}

func (s *fakeServer) URL() string {
	return s.server.URL
}

func (s *fakeServer) failRequests(n, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext, s.failCode = n, code
}

func (s *fakeServer) auth(c *gin.Context) {
	if c.GetHeader(HeaderSessionID) != testSessionID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid session"})
		return
	}
	c.Next()
}

// parse splits `/root:/a/b:/content` into ("a/b", "content").
func parse(raw string) (sub, link string) {
	raw = strings.TrimPrefix(raw, "/")
	if rest, ok := strings.CutPrefix(raw, "root:/"); ok {
		idx := strings.LastIndex(rest, ":")
		return rest[:idx], strings.TrimPrefix(rest[idx+1:], "/")
	}
	return "", strings.TrimPrefix(strings.TrimPrefix(raw, "root"), "/")
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func (s *fakeServer) tick() int64 {
	s.clock += 1000
	return s.clock
}

func (s *fakeServer) handle(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, c.Request.Method+" "+c.Param("path"))
	if s.failNext > 0 {
		s.failNext--
		c.JSON(s.failCode, gin.H{"error": "try again"})
		return
	}

	sub, link := parse(c.Param("path"))
	f, exists := s.files[sub]

	switch {
	case link == "" && c.Request.Method == http.MethodGet:
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, s.metadata(f))

	case link == "" && c.Request.Method == http.MethodDelete:
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		for p := range s.files {
			if p == sub || strings.HasPrefix(p, sub+"/") {
				delete(s.files, p)
			}
		}
		c.Status(http.StatusOK)

	case link == "content" && c.Request.Method == http.MethodGet:
		if !exists || f.isDirectory {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.Data(http.StatusOK, "application/octet-stream", f.content)

	case link == "content" && c.Request.Method == http.MethodPut:
		body, _ := io.ReadAll(c.Request.Body)
		name := sub[strings.LastIndex(sub, "/")+1:]
		s.files[sub] = &fakeFile{name: name, content: body, updatedTime: s.tick()}
		c.JSON(http.StatusOK, s.metadata(s.files[sub]))

	case link == "children" && c.Request.Method == http.MethodGet:
		if !exists || !f.isDirectory {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		s.children(c, sub)

	case link == "children" && c.Request.Method == http.MethodPost:
		var req mkdirRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "parent not found"})
			return
		}
		child := join(sub, req.Name)
		if _, ok := s.files[child]; ok {
			c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
			return
		}
		s.files[child] = &fakeFile{name: req.Name, isDirectory: req.IsDirectory == 1, updatedTime: s.tick()}
		c.JSON(http.StatusOK, s.metadata(s.files[child]))

	default:
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	}
}

func (s *fakeServer) metadata(f *fakeFile) fileMetadata {
	md := fileMetadata{Name: f.name, UpdatedTime: f.updatedTime}
	if f.isDirectory {
		md.IsDirectory = 1
	}
	return md
}

func (s *fakeServer) children(c *gin.Context, sub string) {
	var names []string
	for p := range s.files {
		if p == "" || p == sub {
			continue
		}
		parent := ""
		if idx := strings.LastIndex(p, "/"); idx >= 0 {
			parent = p[:idx]
		}
		if parent == sub {
			names = append(names, p)
		}
	}
	sort.Strings(names)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("cursor", "0"))
	end := min(offset+limit, len(names))

	page := childrenPage{Items: []fileMetadata{}}
	for _, p := range names[offset:end] {
		page.Items = append(page.Items, s.metadata(s.files[p]))
	}
	if end < len(names) {
		page.HasMore = true
		page.Cursor = strconv.Itoa(end)
	}
	c.JSON(http.StatusOK, page)
}
