package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// Loader loads one collection.
type Loader interface {
	Load(ctx context.Context, collectionID string) (*domain.Collection, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, collectionID string) (*domain.Collection, error)

func (f LoaderFunc) Load(ctx context.Context, collectionID string) (*domain.Collection, error) {
	return f(ctx, collectionID)
}

// CollectionFile is the YAML layout of a collection.
type CollectionFile struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	Questions []struct {
		ID        string `yaml:"id"`
		Question  string `yaml:"question"`
		Answer    string `yaml:"answer"`
		Rank      string `yaml:"rank"`
		Subject   string `yaml:"subject"`
		Reference string `yaml:"reference"`
	} `yaml:"questions"`
}

// FileLoader loads collections from {basePath}/{id}.yaml, or
// {basePath}/{id}/collection.yaml when the flat file is absent.
type FileLoader struct {
	basePath string
}

// NewFileLoader creates a loader rooted at basePath.
func NewFileLoader(basePath string) *FileLoader {
	return &FileLoader{basePath: basePath}
}

// BasePath returns the collections directory.
func (l *FileLoader) BasePath() string {
	return l.basePath
}

func (l *FileLoader) Load(_ context.Context, collectionID string) (*domain.Collection, error) {
	if collectionID == "" || strings.ContainsAny(collectionID, `/\`) || strings.HasPrefix(collectionID, ".") {
		return nil, fmt.Errorf("invalid collection id %q", collectionID)
	}

	data, err := os.ReadFile(filepath.Join(l.basePath, collectionID+".yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		data, err = os.ReadFile(filepath.Join(l.basePath, collectionID, "collection.yaml"))
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, collectionID)
	}
	if err != nil {
		return nil, fmt.Errorf("read collection file: %w", err)
	}

	var file CollectionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse collection file: %w", err)
	}

	c := &domain.Collection{
		ID:        file.ID,
		Title:     file.Title,
		Questions: make([]domain.Question, 0, len(file.Questions)),
	}
	if c.ID == "" {
		c.ID = collectionID
	}
	for i, q := range file.Questions {
		id := q.ID
		if id == "" {
			id = fmt.Sprintf("q%d", i+1)
		}
		c.Questions = append(c.Questions, domain.Question{
			ID:        id,
			Text:      q.Question,
			Answer:    q.Answer,
			Rank:      q.Rank,
			Subject:   q.Subject,
			Reference: q.Reference,
		})
	}
	return c, nil
}

// List returns the ids of every collection under basePath, sorted.
func (l *FileLoader) List() ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read collections directory: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case entry.IsDir():
			if _, err := os.Stat(filepath.Join(l.basePath, name, "collection.yaml")); err == nil {
				ids = append(ids, name)
			}
		case strings.HasSuffix(name, ".yaml"):
			ids = append(ids, strings.TrimSuffix(name, ".yaml"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}
