// Package clanapi reads the clan member list from the Clash of Clans API.
package clanapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

const (
	defaultBaseURL     = "https://api.clashofclans.com/v1"
	defaultHTTPTimeout = 10 * time.Second
	defaultCacheTTL    = time.Minute
)

// Config describes the clan API client.
type Config struct {
	BaseURL    string
	Token      string
	ClanTag    string
	Timeout    time.Duration
	CacheTTL   time.Duration
	RatePerSec int
	HTTPClient *http.Client
	Now        func() time.Time
}

// Client implements builders.MemberDirectory for one clan.
type Client struct {
	baseURL *url.URL
	token   string
	clanTag string
	http    *http.Client
	limiter *rate.Limiter
	ttl     time.Duration
	now     func() time.Time
	log     logx.Logger

	mu       sync.Mutex
	cached   []builders.Member
	cachedAt time.Time
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("clanapi: token is required")
	}
	clanTag := builders.NormalizeTag(cfg.ClanTag)
	if clanTag == "" {
		return nil, errors.New("clanapi: clan tag is required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("clanapi: parse base url: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	rps := max(1, cfg.RatePerSec)
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		clanTag: clanTag,
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		ttl:     ttl,
		now:     now,
		log:     log.With(logx.String("comp", "clanapi")),
	}, nil
}

type membersResponse struct {
	Items []struct {
		Tag           string `json:"tag"`
		Name          string `json:"name"`
		TownHallLevel int    `json:"townHallLevel"`
	} `json:"items"`
}

type apiError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Members returns the clan member list, served from cache within the TTL.
func (c *Client) Members(ctx context.Context) ([]builders.Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil && c.now().Sub(c.cachedAt) < c.ttl {
		return c.cached, nil
	}
	members, err := c.fetchMembers(ctx)
	if err != nil {
		return nil, err
	}
	c.cached, c.cachedAt = members, c.now()
	return members, nil
}

func (c *Client) fetchMembers(ctx context.Context) ([]builders.Member, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	// Tags contain '#', which must travel escaped inside the path.
	endpoint := c.baseURL.JoinPath("clans", c.clanTag, "members")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("clanapi: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	started := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clanapi: members request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Reason != "" {
			return nil, fmt.Errorf("clanapi: members failed (%s): %s %s", resp.Status, ae.Reason, ae.Message)
		}
		return nil, fmt.Errorf("clanapi: members failed (%s): %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload membersResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("clanapi: decode members: %w", err)
	}
	out := make([]builders.Member, 0, len(payload.Items))
	for _, it := range payload.Items {
		out = append(out, builders.Member{Tag: builders.NormalizeTag(it.Tag), Name: it.Name, Level: it.TownHallLevel})
	}
	c.log.Debug("clan members fetched", logx.Int("members", len(out)), logx.Duration("took", c.now().Sub(started)))
	return out, nil
}

// LookupMember finds a member by tag, or else by display name (case-insensitive).
func (c *Client) LookupMember(ctx context.Context, tagOrName string) (builders.Member, error) {
	members, err := c.Members(ctx)
	if err != nil {
		return builders.Member{}, err
	}
	tag := builders.NormalizeTag(tagOrName)
	for _, m := range members {
		if m.Tag == tag {
			return m, nil
		}
	}
	for _, m := range members {
		if builders.SameName(m.Name, tagOrName) {
			return m, nil
		}
	}
	return builders.Member{}, fmt.Errorf("%w: %s", builders.ErrMemberNotFound, strings.TrimSpace(tagOrName))
}
