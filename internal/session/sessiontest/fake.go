// Package sessiontest provides scripted in-memory sessions for tests of code
// that drives crawler.Session values.
package sessiontest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
)

// ErrNoPage is returned when a session navigates to a URL the Site does not know.
var ErrNoPage = errors.New("sessiontest: unknown page")

// Page scripts what a session sees for one URL.
type Page struct {
	// Eval is the JSON returned by Evaluate. Empty means JSON null.
	Eval string
	// EvalErr, when set, is returned by Evaluate.
	EvalErr error
	// HTML is returned by PageSource.
	HTML string
	// NavErr, when set, is returned by every navigation to the page.
	NavErr error
	// FailFirst makes the first N navigations fail with FailErr.
	FailFirst int
	FailErr   error
	// KillOnFail marks the session dead when a FailFirst navigation fails.
	KillOnFail bool
	// Panic makes Navigate panic.
	Panic bool
}

// Site is the set of pages shared by every session created by a Factory.
type Site struct {
	mu     sync.Mutex
	pages  map[string]Page
	visits map[string]int
}

// NewSite builds a Site from pages keyed by URL.
func NewSite(pages map[string]Page) *Site {
	copied := make(map[string]Page, len(pages))
	for k, v := range pages {
		copied[k] = v
	}
	return &Site{pages: copied, visits: make(map[string]int)}
}

// Set replaces the script for url.
func (s *Site) Set(url string, page Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = page
}

// Visits reports how many navigations url has received.
func (s *Site) Visits(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visits[url]
}

func (s *Site) visit(url string) (Page, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits[url]++
	page, ok := s.pages[url]
	return page, s.visits[url], ok
}

func (s *Site) page(url string) (Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[url]
	return page, ok
}

// Session is a scripted crawler.Session. It records overlapping calls so
// tests can assert that a session is never used by two goroutines at once.
type Session struct {
	id   string
	site *Site

	mu      sync.Mutex
	alive   bool
	closed  bool
	current string

	inFlight   atomic.Int32
	overlapped atomic.Bool
	closes     atomic.Int32
}

// NewSession returns a live session backed by site.
func NewSession(id string, site *Site) *Session {
	if site == nil {
		site = NewSite(nil)
	}
	return &Session{id: id, site: site, alive: true}
}

// ID implements crawler.Session.
func (s *Session) ID() string { return s.id }

// IsAlive implements crawler.Session.
func (s *Session) IsAlive(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive && !s.closed
}

// Kill marks the session dead without closing it.
func (s *Session) Kill() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
}

// Navigate implements crawler.Session.
func (s *Session) Navigate(ctx context.Context, url string, _ time.Duration) error {
	defer s.enter()()
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.IsAlive(ctx) {
		return fmt.Errorf("navigate %s: target closed", url)
	}
	page, visit, ok := s.site.visit(url)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPage, url)
	}
	if page.Panic {
		panic("sessiontest: scripted panic for " + url)
	}
	if visit <= page.FailFirst {
		if page.KillOnFail {
			s.Kill()
		}
		if page.FailErr != nil {
			return page.FailErr
		}
		return fmt.Errorf("navigate %s: websocket closed", url)
	}
	if page.NavErr != nil {
		return page.NavErr
	}
	s.mu.Lock()
	s.current = url
	s.mu.Unlock()
	return nil
}

// Evaluate implements crawler.Session.
func (s *Session) Evaluate(ctx context.Context, _ string) (json.RawMessage, error) {
	defer s.enter()()
	if !s.IsAlive(ctx) {
		return nil, errors.New("evaluate: no such window")
	}
	page, _ := s.site.page(s.url())
	if page.EvalErr != nil {
		return nil, page.EvalErr
	}
	if page.Eval == "" {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(page.Eval), nil
}

// PageSource implements crawler.Session.
func (s *Session) PageSource(ctx context.Context) (string, error) {
	defer s.enter()()
	if !s.IsAlive(ctx) {
		return "", errors.New("page source: no such window")
	}
	page, _ := s.site.page(s.url())
	return page.HTML, nil
}

// Close implements crawler.Session.
func (s *Session) Close() {
	s.closes.Add(1)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close was called at least once.
func (s *Session) Closed() bool {
	return s.closes.Load() > 0
}

// Overlapped reports whether two calls ever ran on the session concurrently.
func (s *Session) Overlapped() bool {
	return s.overlapped.Load()
}

func (s *Session) url() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) enter() func() {
	if s.inFlight.Add(1) > 1 {
		s.overlapped.Store(true)
	}
	return func() { s.inFlight.Add(-1) }
}

// Factory is a crawler.SessionFactory creating Sessions over one Site.
type Factory struct {
	Site *Site
	// Errs are returned, in order, by the first len(Errs) Create calls.
	Errs []error

	mu      sync.Mutex
	calls   int
	created []*Session
}

// NewFactory returns a Factory serving site.
func NewFactory(site *Site) *Factory {
	return &Factory{Site: site}
}

// Create implements crawler.SessionFactory.
func (f *Factory) Create(ctx context.Context) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= len(f.Errs) && f.Errs[f.calls-1] != nil {
		return nil, f.Errs[f.calls-1]
	}
	sess := NewSession(fmt.Sprintf("fake-%d", f.calls), f.Site)
	f.created = append(f.created, sess)
	return sess, nil
}

// Created returns every session the factory handed out.
func (f *Factory) Created() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Session, len(f.created))
	copy(out, f.created)
	return out
}

// Calls returns the number of Create calls.
func (f *Factory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
