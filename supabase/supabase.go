package supabase

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	supa "github.com/nedpals/supabase-go"
)

const (
	DefaultUploadTimeout = time.Second * 10
)

// Client provides an interface onto the Supabase platform.
// It hides the underlying open source supabase library and adds reconnection and timeout logic.
type Client struct {
	url     string
	anonKey string
	userKey string
	schema  string
	timeout time.Duration

	lock            sync.Mutex
	subClient       *supa.Client // the raw client of the underlying supabase library we are using
	shouldReconnect bool         // when true, the subClient is 'dirty' and will be re-created next time a write call is made
	logger          *slog.Logger
}

func New(url, anonKey, userKey, schema string) (*Client, error) {
	if url == "" || anonKey == "" {
		return nil, errors.New("supabase url and key are required")
	}

	client := &Client{
		url:             url,
		anonKey:         anonKey,
		userKey:         userKey,
		schema:          schema,
		timeout:         DefaultUploadTimeout,
		shouldReconnect: true, // the connection is made lazily on the first request
		logger:          slog.Default().With("host", url),
	}

	return client, nil
}

// UploadReadings inserts the given rows into the named supabase table. `rows` must JSON encode to an array of
// objects whose fields match the table columns.
func (c *Client) UploadReadings(table string, rows interface{}) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.reconnectIfNeccesary()

	// The supabase client library doesn't have good timeout support, so here we wrap the call in a timeout
	subClient := c.subClient
	errCh := make(chan error, 1)
	go func() {
		errCh <- subClient.DB.From(table).Insert(rows).Execute(nil)
	}()

	select {
	case <-time.After(c.timeout):
		c.shouldReconnect = true
		return errors.New("timed out")
	case err := <-errCh:
		if err != nil {
			c.shouldReconnect = true
			return fmt.Errorf("insert into '%s': %w", table, err)
		}
		return nil
	}
}

// createSubClient creates the open-source supabase library client.
func (c *Client) createSubClient() {

	subClient := supa.CreateClient(c.url, c.anonKey)

	// The supabase client library doesn't have a fully featured interface, here we specify options directly by
	// adding headers to the postgrest requests.
	if c.schema != "" {
		subClient.DB.AddHeader("Accept-Profile", c.schema)
		subClient.DB.AddHeader("Content-Profile", c.schema)
	}

	// Use a user JWT:
	if c.userKey != "" {
		subClient.DB.AddHeader("Authorization", fmt.Sprintf("Bearer %s", c.userKey))
	}

	c.subClient = subClient
}

// reconnectIfNeccesary re-creates the underlying client if there have been problems with the last request.
func (c *Client) reconnectIfNeccesary() {
	if !c.shouldReconnect {
		return
	}

	c.createSubClient()
	c.shouldReconnect = false

	c.logger.Info("Created supabase client")
}
