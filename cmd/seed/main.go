// Command seed fills the configured board database with demo notices.
package main

import (
	"flag"
	"log"

	"github.com/AndreasThinks/nodeice-board/internal/config"
	"github.com/AndreasThinks/nodeice-board/internal/database"
	"github.com/AndreasThinks/nodeice-board/internal/observability"
	"github.com/AndreasThinks/nodeice-board/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	nodes := flag.Int("nodes", defaults.Nodes, "Number of demo nodes")
	posts := flag.Int("posts", defaults.Posts, "Number of live posts to create")
	comments := flag.Int("comments", defaults.MaxComments, "Maximum comments per post")
	expired := flag.Int("expired", defaults.ExpiredPosts, "Extra posts backdated past the retention window")
	shouldClean := flag.Bool("clean", false, "Remove existing posts, comments and subscriptions first")
	rngSeed := flag.Int64("seed", 0, "Random seed (0 picks one)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.ConfigureLogger(cfg.Env, cfg.LogLevel)

	log.Printf("Seeding %s: %d nodes, %d posts, clean=%v", cfg.BoardLongName, *nodes, *posts, *shouldClean)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	opts := defaults
	opts.Nodes = *nodes
	opts.Posts = *posts
	opts.MaxComments = *comments
	opts.ExpiredPosts = *expired
	opts.ShouldClean = *shouldClean
	opts.Seed = *rngSeed
	opts.ExpirationDays = cfg.ExpirationDays

	res, err := seed.NewSeeder(db, opts).Run()
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Printf("Done: %d posts, %d comments, %d subscriptions", res.Posts, res.Comments, res.Subscriptions)
}
