// Package bitbucket implements a minimal read-only client for the
// Bitbucket Cloud v2 REST API. Listings are exposed as lazy iterators
// over the paginated values/next envelope, so callers can consume
// entries incrementally without loading a whole listing into memory.
//
// A non-success status code ends the current walk: the failure is
// logged with URL and status, entries already yielded stand, and no
// error is raised. Each listing call starts a fresh walk.
package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bucketcloner/bucketcloner/internal/logging"
	"github.com/bucketcloner/bucketcloner/internal/metrics"
)

// DefaultBaseURL is the Bitbucket Cloud v2 API root.
const DefaultBaseURL = "https://api.bitbucket.org/2.0"

const (
	defaultPageLength = 10
	requestTimeout    = 10 * time.Second
)

type Client struct {
	baseURL string
	email   string
	token   string
	pagelen int
	client  *http.Client
	log     *logging.Logger
}

// New creates a client authenticating with HTTP basic auth using the
// account email and an API token.
func New(email, token string) *Client {
	return &Client{
		baseURL: DefaultBaseURL,
		email:   email,
		token:   token,
		pagelen: defaultPageLength,
		client:  &http.Client{Timeout: requestTimeout},
		log:     logging.NewLogger(logging.Config{}),
	}
}

func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.client = client
	return c
}

func (c *Client) WithLogger(log *logging.Logger) *Client {
	c.log = log
	return c
}

// WithTransport swaps the underlying round tripper while keeping the
// request timeout. Used to install the debug LoggingTransport.
func (c *Client) WithTransport(transport http.RoundTripper) *Client {
	c.client.Transport = transport
	return c
}

func (c *Client) WithPageLength(n int) *Client {
	if n > 0 {
		c.pagelen = n
	}
	return c
}

type Link struct {
	Href string `json:"href"`
}

type CloneLink struct {
	Name string `json:"name"`
	Href string `json:"href"`
}

type Links struct {
	HTML  Link        `json:"html"`
	Clone []CloneLink `json:"clone"`
}

type Workspace struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Links Links  `json:"links"`
}

func (w Workspace) URL() string {
	return w.Links.HTML.Href
}

type Project struct {
	Name  string `json:"name"`
	Key   string `json:"key"`
	Links Links  `json:"links"`
}

func (p Project) URL() string {
	return p.Links.HTML.Href
}

type Repository struct {
	Name    string   `json:"name"`
	SCM     string   `json:"scm"`
	Project *Project `json:"project,omitempty"`
	Links   Links    `json:"links"`
}

// CloneLink returns the href of the first clone link with the given
// name ("https" or "ssh"). Absence is not an error; repositories are
// not required to expose every transport.
func (r Repository) CloneLink(name string) (string, bool) {
	for _, link := range r.Links.Clone {
		if link.Name == name {
			return link.Href, true
		}
	}
	return "", false
}

// Workspaces lists the workspaces visible to the account.
func (c *Client) Workspaces(ctx context.Context) iter.Seq[Workspace] {
	return pages[Workspace](ctx, c, c.baseURL+"/workspaces")
}

// Projects lists the projects of a workspace.
func (c *Client) Projects(ctx context.Context, workspace string) iter.Seq[Project] {
	return pages[Project](ctx, c, fmt.Sprintf("%s/workspaces/%s/projects", c.baseURL, url.PathEscape(workspace)))
}

// Repositories lists the repositories of a workspace, optionally
// restricted server-side to a single project key.
func (c *Client) Repositories(ctx context.Context, workspace, projectKey string) iter.Seq[Repository] {
	u := fmt.Sprintf("%s/repositories/%s?pagelen=%d", c.baseURL, url.PathEscape(workspace), c.pagelen)
	if projectKey != "" {
		u += "&q=" + url.QueryEscape(fmt.Sprintf("project.key=%q", projectKey))
	}
	return pages[Repository](ctx, c, u)
}

// ResolveWorkspaces returns the workspace slugs to operate on. Explicit
// slugs are returned literally without validating their existence
// against the API; only when none are given is the account's workspace
// listing consulted.
func (c *Client) ResolveWorkspaces(ctx context.Context, explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}

	var slugs []string
	for w := range c.Workspaces(ctx) {
		slugs = append(slugs, w.Slug)
	}
	return slugs
}

// pages walks a paginated listing starting at u, yielding the entries
// of each page in order. The walk is finite and not restartable
// mid-way.
func pages[T any](ctx context.Context, c *Client, u string) iter.Seq[T] {
	return func(yield func(T) bool) {
		for u != "" {
			var page struct {
				Values []T    `json:"values"`
				Next   string `json:"next"`
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				c.log.Warnf("The url %s is not requestable: %v.", u, err)
				return
			}
			req.SetBasicAuth(c.email, c.token)

			resp, err := c.client.Do(req)
			if err != nil {
				c.log.Warnf("The url %s failed: %v.", u, err)
				metrics.APIPageFailed.WithLabelValues("0").Inc()
				return
			}

			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				c.log.Warnf("The url %s returned status code %d.", u, resp.StatusCode)
				metrics.APIPageFailed.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
				return
			}

			err = json.NewDecoder(resp.Body).Decode(&page)
			resp.Body.Close()
			if err != nil {
				c.log.Warnf("The url %s returned a malformed page: %v.", u, err)
				metrics.APIPageFailed.WithLabelValues("decode").Inc()
				return
			}
			metrics.APIPageCount.Inc()

			for _, v := range page.Values {
				if !yield(v) {
					return
				}
			}

			u = page.Next
		}
	}
}
