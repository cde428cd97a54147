// Package speakers caches the studio speaker profiles of an XTTS server.
package speakers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/book-expert/llm-gateway/internal/tts/xtts"
	"github.com/book-expert/logger"
)

// maxListedNames bounds how many available names an unknown-speaker error lists.
const maxListedNames = 5

var (
	// ErrSpeakerNotFound is returned for a name the server does not know.
	ErrSpeakerNotFound = errors.New("speaker not found")
	// ErrIncompleteProfile is returned when a listed speaker lacks its
	// embedding or conditioning latent.
	ErrIncompleteProfile = errors.New("speaker profile is incomplete")
)

// Source lists speaker profiles. *xtts.Client satisfies it.
type Source interface {
	StudioSpeakers(ctx context.Context) (map[string]xtts.Speaker, error)
}

// Profile is the opaque voice conditioning data sent with every synthesis
// request for a speaker.
type Profile struct {
	SpeakerEmbedding json.RawMessage
	GPTCondLatent    json.RawMessage
}

// Cache holds the speaker listing of one server. It is filled on first use
// and kept until Invalidate or Refresh. It is safe for concurrent use.
type Cache struct {
	source Source
	log    *logger.Logger

	mu       sync.Mutex
	profiles map[string]Profile
	names    []string
}

// NewCache creates an empty cache backed by source.
func NewCache(source Source, log *logger.Logger) *Cache {
	return &Cache{
		source:   source,
		log:      log,
		mu:       sync.Mutex{},
		profiles: nil,
		names:    nil,
	}
}

// Get returns the profile for name, loading the listing if needed.
func (c *Cache) Get(ctx context.Context, name string) (Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.ensureLoaded(ctx)
	if err != nil {
		return Profile{}, err
	}

	profile, ok := c.profiles[name]
	if !ok {
		listed := c.names[:min(len(c.names), maxListedNames)]

		return Profile{}, fmt.Errorf("%w: %q (available: %s)",
			ErrSpeakerNotFound, name, strings.Join(listed, ", "))
	}

	if isBlank(profile.SpeakerEmbedding) || isBlank(profile.GPTCondLatent) {
		return Profile{}, fmt.Errorf("%w: %q", ErrIncompleteProfile, name)
	}

	return profile, nil
}

// Names returns the sorted speaker names, loading the listing if needed.
func (c *Cache) Names(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	return slices.Clone(c.names), nil
}

// Invalidate drops the cached listing; the next Get or Names reloads it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.profiles = nil
	c.names = nil
}

// Refresh reloads the listing now. On failure the previous listing is kept.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.load(ctx)
}

func (c *Cache) ensureLoaded(ctx context.Context) error {
	if c.profiles != nil {
		return nil
	}

	return c.load(ctx)
}

func (c *Cache) load(ctx context.Context) error {
	listing, err := c.source.StudioSpeakers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load studio speakers: %w", err)
	}

	profiles := make(map[string]Profile, len(listing))
	names := make([]string, 0, len(listing))

	for name, speaker := range listing {
		profiles[name] = Profile{
			SpeakerEmbedding: speaker.SpeakerEmbedding,
			GPTCondLatent:    speaker.GPTCondLatent,
		}
		names = append(names, name)
	}

	slices.Sort(names)

	c.profiles = profiles
	c.names = names

	c.log.Info("Loaded %d studio speakers", len(names))

	return nil
}

func isBlank(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))

	return trimmed == "" || trimmed == "null"
}
