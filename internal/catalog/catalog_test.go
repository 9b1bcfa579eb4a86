package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/academy/internal/client"
	"github.com/wolfeidau/academy/internal/models"
)

const testCatalog = `
courses:
  - id: abc123
    title: Go for Web Developers
    slug: go-for-web-developers
    price_cents: 4900
    currency: USD
    published: true
  - id: draft1
    title: Upcoming Course
    price_cents: 9900
    published: false
  - id: aaa001
    title: Intro to HTTP
    price_cents: 0
    published: true
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(testCatalog))
	require.NoError(t, err)

	course, ok := c.GetByID("abc123")
	require.True(t, ok)
	require.Equal(t, "Go for Web Developers", course.Title)
	require.Equal(t, int64(4900), course.PriceCents)

	_, ok = c.GetByID("zzz")
	require.False(t, ok)

	_, ok = c.GetByID("draft1")
	require.False(t, ok, "unpublished courses are not resolvable")

	list := c.List()
	require.Len(t, list, 2)
	require.Equal(t, "aaa001", list[0].ID)
	require.Equal(t, "USD", list[0].Currency, "currency defaults to USD")
}

func TestNew_rejectsBadIDs(t *testing.T) {
	_, err := New([]models.Course{{ID: " "}})
	require.ErrorIs(t, err, ErrEmptyCourseID)

	_, err = New([]models.Course{{ID: "a"}, {ID: "a"}})
	require.ErrorIs(t, err, ErrDuplicateCourseID)
}

func TestParse_invalidYAML(t *testing.T) {
	_, err := Parse([]byte("courses: [\n"))
	require.Error(t, err)
}

func TestGetByID_returnsCopy(t *testing.T) {
	c, err := Parse([]byte(testCatalog))
	require.NoError(t, err)

	course, ok := c.GetByID("abc123")
	require.True(t, ok)
	course.Title = "changed"

	again, _ := c.GetByID("abc123")
	require.Equal(t, "Go for Web Developers", again.Title)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courses.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, c.List(), 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/courses.yaml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte(testCatalog))
	}))
	defer srv.Close()

	ctx := context.Background()
	httpClient := client.NewCachingHTTPClient("", 0)

	c, err := Load(ctx, httpClient, srv.URL+"/courses.yaml")
	require.NoError(t, err)
	_, ok := c.GetByID("abc123")
	require.True(t, ok)

	_, err = LoadURL(ctx, httpClient, srv.URL+"/missing.yaml")
	require.Error(t, err)
}

func TestLoadURL_tooLarge(t *testing.T) {
	// valid YAML up to the cut so a truncated read would still parse
	var body strings.Builder
	body.WriteString("courses:\n")
	for i := 0; body.Len() <= maxCatalogSize; i++ {
		fmt.Fprintf(&body, "  - id: course-%d\n    title: Course %d\n    published: true\n", i, i)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body.String()))
	}))
	defer srv.Close()

	_, err := LoadURL(context.Background(), srv.Client(), srv.URL)
	require.ErrorIs(t, err, ErrCatalogTooLarge)
}
