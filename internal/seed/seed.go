// Package seed fills a board with demo notices, comments and subscriptions
// for local development.
package seed

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/models"
	"github.com/AndreasThinks/nodeice-board/internal/observability"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options configures the seeder.
type Options struct {
	Nodes          int
	Posts          int
	MaxComments    int
	MaxDays        int
	ExpiredPosts   int
	ShouldClean    bool
	Seed           int64
	ExpirationDays int
}

// DefaultOptions returns a small, realistic board.
func DefaultOptions() Options {
	return Options{
		Nodes:          12,
		Posts:          25,
		MaxComments:    4,
		MaxDays:        6,
		ExpiredPosts:   3,
		ShouldClean:    false,
		ExpirationDays: 7,
	}
}

// Result counts what was written.
type Result struct {
	Nodes         int
	Posts         int
	Comments      int
	Subscriptions int
}

// Node is a demo radio node.
type Node struct {
	ID   string
	Name string
}

var noticeTemplates = []string{
	"Lost %s near the %s, please message if found",
	"Free %s to a good home, collect from the %s",
	"Community meeting about the %s on %s",
	"Anyone have a spare %s? Can trade for %s",
	"Road closed by the %s until %s",
	"Fresh %s at the %s market this weekend",
}

// Seeder writes demo data with gofakeit.
type Seeder struct {
	db   *gorm.DB
	opts Options
	rng  *rand.Rand
	now  time.Time
}

// NewSeeder creates a seeder. A zero opts.Seed picks a random seed.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 6
	}
	if opts.ExpirationDays <= 0 {
		opts.ExpirationDays = 7
	}
	gofakeit.Seed(opts.Seed)
	return &Seeder{
		db:   db,
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
		now:  time.Now().UTC(),
	}
}

// ClearAll removes every board row.
func (s *Seeder) ClearAll() error {
	for _, table := range []string{"subscriptions", "comments", "posts"} {
		if err := s.db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// BuildNodes returns n demo nodes with Meshtastic-style IDs.
func (s *Seeder) BuildNodes(n int) []Node {
	nodes := make([]Node, 0, n)
	seen := map[string]bool{}
	for len(nodes) < n {
		id := fmt.Sprintf("!%08x", s.rng.Uint32())
		if seen[id] {
			continue
		}
		seen[id] = true
		node := Node{ID: id}
		// some nodes never set a long name
		if s.rng.Intn(4) > 0 {
			node.Name = gofakeit.FirstName()
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// BuildPost returns an unsaved post by author, created within MaxDays.
func (s *Seeder) BuildPost(author Node) *models.Post {
	tmpl := noticeTemplates[s.rng.Intn(len(noticeTemplates))]
	content := fmt.Sprintf(tmpl, gofakeit.NounConcrete(), gofakeit.Noun())
	if s.rng.Intn(3) == 0 {
		content += ". " + gofakeit.Sentence(6)
	}
	return &models.Post{
		Content:    models.NormalizeContent(content),
		AuthorID:   author.ID,
		AuthorName: models.OptionalName(author.Name),
		CreatedAt:  s.randomTimeWithin(time.Duration(s.opts.MaxDays) * 24 * time.Hour),
		Visible:    true,
	}
}

// BuildComment returns an unsaved comment on post, after the post's creation.
func (s *Seeder) BuildComment(post *models.Post, author Node) *models.Comment {
	created := post.CreatedAt.Add(time.Duration(s.rng.Intn(180)+1) * time.Minute)
	if created.After(s.now) {
		created = s.now
	}
	return &models.Comment{
		PostID:     post.ID,
		Content:    models.NormalizeContent(gofakeit.Sentence(s.rng.Intn(8) + 3)),
		AuthorID:   author.ID,
		AuthorName: models.OptionalName(author.Name),
		CreatedAt:  created,
	}
}

func (s *Seeder) randomTimeWithin(window time.Duration) time.Time {
	back := time.Duration(s.rng.Int63n(int64(window)))
	return s.now.Add(-back)
}

// Run writes nodes, posts, comments and subscriptions in one transaction.
// ExpiredPosts extra posts are backdated past the retention window so the
// first sweep has work to do.
func (s *Seeder) Run() (Result, error) {
	var res Result
	if s.opts.Nodes < 1 {
		return res, fmt.Errorf("at least one node is required")
	}

	if s.opts.ShouldClean {
		if err := s.ClearAll(); err != nil {
			return res, err
		}
	}

	nodes := s.BuildNodes(s.opts.Nodes)
	res.Nodes = len(nodes)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		posts := make([]*models.Post, 0, s.opts.Posts+s.opts.ExpiredPosts)
		for i := 0; i < s.opts.Posts; i++ {
			posts = append(posts, s.BuildPost(nodes[s.rng.Intn(len(nodes))]))
		}
		for i := 0; i < s.opts.ExpiredPosts; i++ {
			p := s.BuildPost(nodes[s.rng.Intn(len(nodes))])
			extra := time.Duration(s.rng.Intn(72)+1) * time.Hour
			p.CreatedAt = s.now.Add(-time.Duration(s.opts.ExpirationDays)*24*time.Hour - extra)
			posts = append(posts, p)
		}
		if len(posts) > 0 {
			if err := tx.CreateInBatches(posts, 100).Error; err != nil {
				return fmt.Errorf("create posts: %w", err)
			}
		}
		res.Posts = len(posts)

		var comments []*models.Comment
		for _, p := range posts {
			if s.opts.MaxComments <= 0 {
				break
			}
			for i := s.rng.Intn(s.opts.MaxComments + 1); i > 0; i-- {
				comments = append(comments, s.BuildComment(p, nodes[s.rng.Intn(len(nodes))]))
			}
		}
		if len(comments) > 0 {
			if err := tx.CreateInBatches(comments, 100).Error; err != nil {
				return fmt.Errorf("create comments: %w", err)
			}
		}
		res.Comments = len(comments)

		n, err := s.subscribe(tx, nodes, posts)
		if err != nil {
			return err
		}
		res.Subscriptions = n
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	observability.Logger.Info("Seeded board",
		slog.Int("nodes", res.Nodes),
		slog.Int("posts", res.Posts),
		slog.Int("comments", res.Comments),
		slog.Int("subscriptions", res.Subscriptions),
	)
	return res, nil
}

// subscribe gives about a third of the nodes a blanket subscription and
// subscribes every post author to their own post.
func (s *Seeder) subscribe(tx *gorm.DB, nodes []Node, posts []*models.Post) (int, error) {
	var subs []*models.Subscription
	for _, n := range nodes {
		if s.rng.Intn(3) == 0 {
			subs = append(subs, models.NewBlanketSubscription(n.ID))
		}
	}
	for _, p := range posts {
		subs = append(subs, models.NewPostSubscription(p.AuthorID, p.ID))
	}

	count := 0
	for _, sub := range subs {
		sub.CreatedAt = s.now
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(sub)
		if result.Error != nil {
			return count, fmt.Errorf("create subscription: %w", result.Error)
		}
		count += int(result.RowsAffected)
	}
	return count, nil
}
