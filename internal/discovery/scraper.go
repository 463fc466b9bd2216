// Package discovery builds the catalog of files to download, either by
// scraping an index page and its category pages or from a static file.
package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/italolelis/catalog_downloader/internal/catalog"
	"github.com/italolelis/catalog_downloader/internal/logctx"
	"github.com/italolelis/catalog_downloader/internal/retry"
	"github.com/italolelis/catalog_downloader/internal/transfer"
)

const (
	DefaultIndexURL = "https://www.dhammadownload.com/AudioInMyanmar.htm"
	DefaultBaseURL  = "https://www.dhammadownload.com/"

	// DefaultCategoryPattern matches links to category pages. The first
	// group is the href.
	DefaultCategoryPattern = `href="([^"]*[Ss]ayadaw[^"]*\.htm)"`

	// DefaultMediaPattern matches links to audio files. The first group is
	// the href.
	DefaultMediaPattern = `(?i)href="([^"]*\.(mp3|m4a|wav|ogg))"`

	maxPageSize = 16 << 20
)

type ScraperOptions struct {
	IndexURL        string
	BaseURL         string
	CategoryPattern string
	MediaPattern    string

	// MaxParallel bounds concurrent category page fetches.
	MaxParallel int
	Retry       retry.Policy
}

// Scraper discovers media links by pattern matching on HTML pages.
type Scraper struct {
	client   *http.Client
	index    string
	base     *url.URL
	category *regexp.Regexp
	media    *regexp.Regexp
	parallel int
	retry    retry.Policy
}

func NewScraper(client *http.Client, opts ScraperOptions) (*Scraper, error) {
	if opts.IndexURL == "" {
		opts.IndexURL = DefaultIndexURL
	}

	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.CategoryPattern == "" {
		opts.CategoryPattern = DefaultCategoryPattern
	}

	if opts.MediaPattern == "" {
		opts.MediaPattern = DefaultMediaPattern
	}

	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 3
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	category, err := compileLinkPattern(opts.CategoryPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid category pattern: %w", err)
	}

	media, err := compileLinkPattern(opts.MediaPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid media pattern: %w", err)
	}

	return &Scraper{
		client:   client,
		index:    opts.IndexURL,
		base:     base,
		category: category,
		media:    media,
		parallel: opts.MaxParallel,
		retry:    opts.Retry,
	}, nil
}

func compileLinkPattern(expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}

	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("pattern %q has no capture group for the link", expr)
	}

	return re, nil
}

// Discover fetches the index page, then every category page it links to.
// A category page that cannot be fetched is logged and skipped; an
// unreachable index page fails the discovery.
func (s *Scraper) Discover(ctx context.Context) ([]catalog.FileRecord, error) {
	logger := logctx.LoggerFromContext(ctx)

	page, err := s.fetch(ctx, s.index)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index page: %w", err)
	}

	hrefs := links(s.category, page)
	slices.Sort(hrefs)

	logger.Info("found categories", "index", s.index, "categories", len(hrefs))

	found := make([][]catalog.FileRecord, len(hrefs))

	wg, gctx := errgroup.WithContext(ctx)
	wg.SetLimit(s.parallel)

	for n, href := range hrefs {
		wg.Go(func() error {
			records, err := s.scrapeCategory(gctx, href)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				logger.Warn("skipping category", "category", href, "err", err)

				return nil
			}

			logger.Debug("scanned category", "category", href, "files", len(records))
			found[n] = records

			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("discovery interrupted: %w", err)
	}

	var records []catalog.FileRecord
	for _, r := range found {
		records = append(records, r...)
	}

	return uniqueNames(catalog.Dedupe(records)), nil
}

func (s *Scraper) scrapeCategory(ctx context.Context, href string) ([]catalog.FileRecord, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("invalid category link: %w", err)
	}

	name := categoryName(ref.Path)
	if name == "" {
		return nil, fmt.Errorf("cannot derive a category name from %q", href)
	}

	page, err := s.fetch(ctx, s.base.ResolveReference(ref).String())
	if err != nil {
		return nil, err
	}

	logger := logctx.LoggerFromContext(ctx)

	var records []catalog.FileRecord

	for _, media := range links(s.media, page) {
		ref, err := url.Parse(media)
		if err != nil {
			logger.Warn("skipping malformed media link", "category", name, "link", media, "err", err)

			continue
		}

		rec := catalog.NewRecord(name, path.Base(ref.Path), s.base.ResolveReference(ref).String())
		if err := rec.Validate(); err != nil {
			logger.Warn("skipping media link", "category", name, "link", media, "err", err)

			continue
		}

		records = append(records, rec)
	}

	return records, nil
}

// uniqueNames renames records that would share a file with an earlier record
// of the same category. The parent directory of the url is folded into the
// name first ("two/01.mp3" becomes "two_01.mp3"), then a counter is added.
func uniqueNames(records []catalog.FileRecord) []catalog.FileRecord {
	taken := make(map[string]struct{}, len(records))

	for i := range records {
		rec := &records[i]

		if _, ok := taken[rec.Name()]; ok {
			rec.Filename = freeName(*rec, taken)
		}

		taken[rec.Name()] = struct{}{}
	}

	return records
}

func freeName(rec catalog.FileRecord, taken map[string]struct{}) string {
	name := rec.Filename

	if u, err := url.Parse(rec.URL); err == nil {
		if parent := path.Base(path.Dir(u.Path)); parent != "/" && parent != "." {
			name = parent + "_" + name

			if _, ok := taken[rec.Category+"/"+name]; !ok {
				return name
			}
		}
	}

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for n := 2; ; n++ {
		candidate := stem + "-" + strconv.Itoa(n) + ext
		if _, ok := taken[rec.Category+"/"+candidate]; !ok {
			return candidate
		}
	}
}

// categoryName turns a category page path into a directory name:
// "/talks/Sayadaw-U-Pandita.htm" becomes "talks_Sayadaw-U-Pandita".
func categoryName(p string) string {
	p = strings.TrimSuffix(p, ".htm")
	p = strings.Trim(path.Clean("/"+p), "/")

	return strings.ReplaceAll(p, "/", "_")
}

// links returns the first capture group of every match, once each, in
// order of appearance.
func links(re *regexp.Regexp, page string) []string {
	seen := make(map[string]struct{})

	var out []string

	for _, m := range re.FindAllStringSubmatch(page, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}

		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}

	return out
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) (string, error) {
	return retry.Do(ctx, s.retry, func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return "", retry.Permanent(err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return "", &transfer.NetworkError{Operation: "get", URL: pageURL, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", &transfer.NetworkError{Operation: "get", URL: pageURL, StatusCode: resp.StatusCode, Message: resp.Status}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
		if err != nil {
			return "", &transfer.NetworkError{Operation: "read", URL: pageURL, Err: err}
		}

		return string(body), nil
	})
}
