// Package catalog holds the course catalog used to resolve course ids on protected routes.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/client"
	"github.com/wolfeidau/academy/internal/models"
	"gopkg.in/yaml.v3"
)

// maxCatalogSize caps catalog downloads.
const maxCatalogSize = 1 << 20

var (
	ErrEmptyCourseID     = errors.New("course id is required")
	ErrDuplicateCourseID = errors.New("duplicate course id")
	ErrCatalogTooLarge   = errors.New("catalog exceeds size limit")
)

type catalogFile struct {
	Courses []models.Course `yaml:"courses"`
}

// Catalog is an immutable set of courses keyed by id.
type Catalog struct {
	courses map[string]models.Course
	ids     []string
}

// New builds a catalog, rejecting empty and duplicate ids.
func New(courses []models.Course) (*Catalog, error) {
	c := &Catalog{courses: make(map[string]models.Course, len(courses))}
	for _, course := range courses {
		course.ID = strings.TrimSpace(course.ID)
		if course.ID == "" {
			return nil, ErrEmptyCourseID
		}
		if _, exists := c.courses[course.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCourseID, course.ID)
		}
		if course.Currency == "" {
			course.Currency = "USD"
		}
		c.courses[course.ID] = course
		c.ids = append(c.ids, course.ID)
	}
	slices.Sort(c.ids)
	return c, nil
}

// GetByID returns a published course. Unpublished courses are reported as missing.
func (c *Catalog) GetByID(id string) (*models.Course, bool) {
	course, ok := c.courses[id]
	if !ok || !course.Published {
		return nil, false
	}
	return &course, true
}

// List returns the published courses ordered by id.
func (c *Catalog) List() []models.Course {
	out := make([]models.Course, 0, len(c.ids))
	for _, id := range c.ids {
		if course := c.courses[id]; course.Published {
			out = append(out, course)
		}
	}
	return out
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(f.Courses)
}

// LoadFile reads a YAML catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// LoadURL downloads a YAML catalog. Pass a caching client to avoid refetching unchanged catalogs.
func LoadURL(ctx context.Context, httpClient *http.Client, url string) (*Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/yaml, text/yaml;q=0.9, */*;q=0.1")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	if len(data) > maxCatalogSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCatalogTooLarge, maxCatalogSize)
	}

	log.Debug().Str("url", url).Bool("cached", client.FromCache(resp)).Msg("Fetched course catalog")

	return Parse(data)
}

// Load picks LoadURL for http(s) sources and LoadFile otherwise.
func Load(ctx context.Context, httpClient *http.Client, source string) (*Catalog, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return LoadURL(ctx, httpClient, source)
	}
	return LoadFile(source)
}
