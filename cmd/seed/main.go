// Command seed fills the user directory and document store with demo data.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"classroom/internal/cache"
	"classroom/internal/comments"
	"classroom/internal/config"
	"classroom/internal/database"
	"classroom/internal/docstore"
	"classroom/internal/identity"
	"classroom/internal/posts"
	"classroom/internal/seed"

	"github.com/redis/go-redis/v9"
)

type autoConfirm struct{}

func (autoConfirm) Confirm(context.Context, string) (bool, error) { return true, nil }

func main() {
	students := flag.Int("students", 20, "Number of students to create")
	teachers := flag.Int("teachers", 3, "Number of teachers to create")
	numPosts := flag.Int("posts", 10, "Number of posts to create")
	commentsPerPost := flag.Int("comments", 8, "Comments per post")
	repliesPerPost := flag.Int("replies", 4, "Replies per post")
	seedValue := flag.Int64("seed", 0, "Random seed (0 picks one from the clock)")
	flag.Parse()

	log.Println("🌱 Classroom Seeder")
	log.Printf("Target: %d teachers, %d students, %d posts\n", *teachers, *students, *numPosts)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.DocstoreDriver == config.DriverMemory {
		log.Fatalf("DOCSTORE_DRIVER=memory keeps nothing after exit; use redis")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = cache.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer func() { _ = rdb.Close() }()
	}

	docs, err := docstore.Open(cfg, rdb)
	if err != nil {
		log.Fatalf("Failed to open document store: %v", err)
	}

	directory := identity.NewDirectory(identity.NewUserRepository(db), rdb, cfg.IdentityCacheTTL)
	roles := identity.NewRoles(directory)
	postSvc := posts.NewService(docs, roles, autoConfirm{})
	store := comments.NewStore(docs, directory, roles, autoConfirm{})

	if *seedValue == 0 {
		*seedValue = time.Now().UnixNano()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := seed.NewSeeder(directory, postSvc, store, *seedValue).Run(ctx, seed.Options{
		Students:        *students,
		Teachers:        *teachers,
		Posts:           *numPosts,
		CommentsPerPost: *commentsPerPost,
		RepliesPerPost:  *repliesPerPost,
	})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✅ Seeded %d users and %d posts", len(res.Users), len(res.PostIDs))
	for _, id := range res.PostIDs {
		log.Printf("   post %s", id)
	}
}
