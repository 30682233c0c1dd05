// Package library aggregates the per-creator artifacts into the read-only
// browsing surfaces: the account overview, the search filter options, and
// the system verification summary.
package library

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/reelsonar/internal/accountindex"
	"github.com/MrWong99/reelsonar/internal/observe"
	"github.com/MrWong99/reelsonar/internal/topics"
	"github.com/MrWong99/reelsonar/internal/vecindex"
)

// topTopicCount bounds the per-account topic preview in the overview.
const topTopicCount = 5

// loadWorkers bounds concurrent per-creator artifact reads.
const loadWorkers = 8

// Account is one row of the account overview.
type Account struct {
	Creator        string    `json:"creator"`
	Category       string    `json:"category,omitempty"`
	VideoCount     int       `json:"video_count"`
	LastUpdated    time.Time `json:"last_updated"`
	TopTopics      []string  `json:"top_topics"`
	HasTranscripts bool      `json:"has_transcripts"`
	HasTags        bool      `json:"has_tags"`
	HasCategory    bool      `json:"has_category"`
}

// FilterOptions lists the distinct values search filters can take over the
// current corpus.
type FilterOptions struct {
	Creators   []string `json:"creators"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
}

// Verification summarises corpus integrity. Status is "healthy" when at
// least one creator and one vector exist, "warning" when the corpus is
// empty or partial, and "error" when the totals could not be computed.
type Verification struct {
	TotalCreators    int       `json:"total_creators"`
	TotalTranscripts int       `json:"total_transcripts"`
	TotalVectors     int       `json:"total_vectors"`
	Status           string    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
}

// Service reads the artifact stores; it never writes.
type Service struct {
	accounts *accountindex.Store
	topics   *topics.Store
	index    vecindex.Index
}

// NewService returns a Service over the given stores.
func NewService(accounts *accountindex.Store, topicStore *topics.Store, index vecindex.Index) *Service {
	return &Service{accounts: accounts, topics: topicStore, index: index}
}

// Accounts returns the overview row for every known creator, sorted by
// handle. Creators load concurrently; missing optional artifacts (tags,
// category) leave their fields empty rather than failing the listing.
func (s *Service) Accounts(ctx context.Context) ([]Account, error) {
	creators, err := s.accounts.Creators()
	if err != nil {
		return nil, err
	}

	out := make([]Account, len(creators))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadWorkers)
	for i, creator := range creators {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			acct, err := s.loadAccount(creator)
			if err != nil {
				return err
			}
			out[i] = acct
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, k int) bool { return out[i].Creator < out[k].Creator })
	return out, nil
}

func (s *Service) loadAccount(creator string) (Account, error) {
	idx, err := s.accounts.Load(creator)
	if err != nil {
		return Account{}, err
	}
	acct := Account{
		Creator:        creator,
		VideoCount:     idx.Stats.Processed,
		LastUpdated:    idx.LastUpdated,
		TopTopics:      []string{},
		HasTranscripts: idx.Stats.Processed > 0,
	}

	if tags, err := s.topics.ReadAccountTags(creator); err == nil {
		acct.HasTags = len(tags.Tags) > 0
		for _, t := range tags.Tags {
			if len(acct.TopTopics) == topTopicCount {
				break
			}
			acct.TopTopics = append(acct.TopTopics, t.Canonical)
		}
	}
	if cat, err := s.topics.ReadCategory(creator); err == nil && cat.Category != "" {
		acct.Category = cat.Category
		acct.HasCategory = true
	}
	return acct, nil
}

// FilterOptions returns the distinct creators, categories, and canonical
// tags present in the corpus, each sorted ascending.
func (s *Service) FilterOptions(ctx context.Context) (FilterOptions, error) {
	creators, err := s.accounts.Creators()
	if err != nil {
		return FilterOptions{}, err
	}

	var (
		mu         sync.Mutex
		categories = map[string]struct{}{}
		tags       = map[string]struct{}{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadWorkers)
	for _, creator := range creators {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var cat string
			if c, err := s.topics.ReadCategory(creator); err == nil {
				cat = strings.ToLower(c.Category)
			}
			var canonicals []string
			if t, err := s.topics.ReadAccountTags(creator); err == nil {
				for _, a := range t.Tags {
					canonicals = append(canonicals, a.Canonical)
				}
			}
			mu.Lock()
			if cat != "" {
				categories[cat] = struct{}{}
			}
			for _, c := range canonicals {
				tags[c] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return FilterOptions{}, err
	}

	if creators == nil {
		creators = []string{}
	}
	return FilterOptions{
		Creators:   creators,
		Categories: sortedKeys(categories),
		Tags:       sortedKeys(tags),
	}, nil
}

// Verify computes the corpus totals. Computation failures degrade to status
// "error" instead of propagating, so the verification surface always
// answers.
func (s *Service) Verify(ctx context.Context) Verification {
	v := Verification{Status: "error", Timestamp: time.Now().UTC()}

	totals, err := s.accounts.Totals()
	if err != nil {
		observe.Logger(ctx).Warn("verification totals failed", "error", err)
		return v
	}
	size, err := s.index.Size(ctx)
	if err != nil {
		observe.Logger(ctx).Warn("verification index size failed", "error", err)
		return v
	}

	v.TotalCreators = totals.Creators
	v.TotalTranscripts = totals.Transcripts
	v.TotalVectors = size
	if totals.Creators > 0 && size > 0 {
		v.Status = "healthy"
	} else {
		v.Status = "warning"
	}
	return v
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
