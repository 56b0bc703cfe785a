// Package nuclos maps the Nuclos REST API onto Go types: business object
// types, records with dirty tracking, sub-form dependencies, state
// transitions and process metadata.
package nuclos

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/saierd/go-nuclos/pkg/config"
	"github.com/saierd/go-nuclos/pkg/log"
	"github.com/saierd/go-nuclos/pkg/rest"
)

// Client is the API root. It owns the transport session and the registry of
// business object types, keyed by normalized name and by meta id.
type Client struct {
	rest   *rest.Client
	logger *slog.Logger

	mu         sync.Mutex
	namespaces []string
	boList     []boListEntry
	boListOK   bool
	types      map[string]*BusinessObject
}

type boListEntry struct {
	Name     string `json:"name"`
	BoMetaID string `json:"boMetaId"`
}

func NewClient(settings *config.Settings) *Client {
	return &Client{
		rest:   rest.NewClient(settings),
		logger: log.WithModule("nuclos"),
		types:  make(map[string]*BusinessObject),
	}
}

// NewClientFromFile loads a settings file, sets up logging according to its
// log options and returns a client for it.
func NewClientFromFile(path string) (*Client, error) {
	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if err := log.Setup(settings.Nuclos.LogLevel, settings.Nuclos.LogFile); err != nil {
		return nil, err
	}

	return NewClient(settings), nil
}

// Login opens a session. Calling it is optional, any request logs in
// on demand.
func (c *Client) Login(ctx context.Context) error {
	return c.rest.Login(ctx)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.rest.Logout(ctx)
}

// Reconnect logs out and drops every cached answer, including all business
// object metadata.
func (c *Client) Reconnect(ctx context.Context) error {
	if err := c.rest.Logout(ctx); err != nil {
		return err
	}

	c.rest.Reset()

	c.mu.Lock()
	c.boList = nil
	c.boListOK = false
	c.types = make(map[string]*BusinessObject)
	c.mu.Unlock()

	return nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	return c.rest.Version(ctx)
}

func (c *Client) RequireVersion(ctx context.Context, required ...int) (bool, error) {
	return c.rest.RequireVersion(ctx, required...)
}

// AddNamespace registers a Nuclet namespace in which business object names
// are searched as a fallback. This works around server versions whose
// metadata answer does not include the names of all business objects. The
// namespace is given the way the REST API spells it, e.g. `com_company` for
// `com.company`.
func (c *Client) AddNamespace(namespace string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.namespaces = append(c.namespaces, namespace)
}

func (c *Client) businessObjects(ctx context.Context) ([]boListEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.boListOK {
		return c.boList, nil
	}

	var list []boListEntry
	if err := c.rest.Get(ctx, rest.BoListRoute, nil, &list); err != nil {
		return nil, err
	}

	c.boList = list
	c.boListOK = true

	return list, nil
}

// businessObject returns the shared handle for a meta id without checking
// that the id exists.
func (c *Client) businessObject(boMetaID string) *BusinessObject {
	c.mu.Lock()
	defer c.mu.Unlock()

	if bo, ok := c.types[boMetaID]; ok {
		return bo
	}

	bo := &BusinessObject{
		client:   c,
		boMetaID: boMetaID,
		deps:     make(map[string]*DependencyMeta),
	}
	c.types[boMetaID] = bo

	return bo
}

// BusinessObjects lists all business object types known to the server.
func (c *Client) BusinessObjects(ctx context.Context) ([]*BusinessObject, error) {
	list, err := c.businessObjects(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*BusinessObject, 0, len(list))
	for _, entry := range list {
		result = append(result, c.businessObject(entry.BoMetaID))
	}

	return result, nil
}

// BusinessObjectByID finds a business object type by its meta id.
func (c *Client) BusinessObjectByID(ctx context.Context, boMetaID string) (*BusinessObject, error) {
	exists, err := c.boMetaIDExists(ctx, boMetaID)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, fmt.Errorf("unknown business object '%s': %w", boMetaID, ErrNotFound)
	}

	return c.businessObject(boMetaID), nil
}

// BusinessObject finds a business object type by its name. The lookup is
// case-insensitive and ignores spaces, underscores and hyphens.
func (c *Client) BusinessObject(ctx context.Context, name string) (*BusinessObject, error) {
	list, err := c.businessObjects(ctx)
	if err != nil {
		return nil, err
	}

	normalized := normalizeName(name)
	for _, entry := range list {
		if normalizeName(entry.Name) == normalized {
			return c.businessObject(entry.BoMetaID), nil
		}
	}

	// Guess the meta id from the registered namespaces, see AddNamespace.
	c.mu.Lock()
	namespaces := append([]string(nil), c.namespaces...)
	c.mu.Unlock()

	for _, namespace := range namespaces {
		for _, candidate := range []string{name, capitalize(name)} {
			candidateID := namespace + "_" + candidate

			exists, err := c.boMetaIDExists(ctx, candidateID)
			if err != nil {
				return nil, err
			}

			if exists {
				return c.businessObject(candidateID), nil
			}
		}
	}

	return nil, fmt.Errorf("unknown business object '%s': %w", name, ErrNotFound)
}

func (c *Client) boMetaIDExists(ctx context.Context, boMetaID string) (bool, error) {
	list, err := c.businessObjects(ctx)
	if err != nil {
		return false, err
	}

	for _, entry := range list {
		if entry.BoMetaID == boMetaID {
			return true, nil
		}
	}

	return false, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
