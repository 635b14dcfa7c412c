// Command seed fills the database with demo riders, friendships and
// conversations.
package main

import (
	"context"
	"flag"
	"log"

	"roadcrew/internal/config"
	"roadcrew/internal/database"
	"roadcrew/internal/seed"
)

func main() {
	opts := seed.DefaultOptions
	flag.IntVar(&opts.Riders, "riders", opts.Riders, "Number of riders to create")
	flag.IntVar(&opts.FriendsPerUser, "friends", opts.FriendsPerUser, "Friend requests sent per rider")
	flag.IntVar(&opts.Groups, "groups", opts.Groups, "Number of group rides")
	flag.IntVar(&opts.MessagesPerChat, "messages", opts.MessagesPerChat, "Messages per conversation")
	flag.Int64Var(&opts.Seed, "seed", 0, "Random seed, 0 for a random data set")
	fixture := flag.String("fixture", "", "YAML fixture to load instead of generated data")
	clean := flag.Bool("clean", true, "Clear community tables before seeding")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	s := seed.NewSeeder(db)

	if *clean {
		if err := s.ClearAll(ctx); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	var sum seed.Summary
	if *fixture != "" {
		fx, err := seed.LoadFixtureFile(*fixture)
		if err != nil {
			log.Fatalf("Failed to load fixture: %v", err)
		}
		sum, err = s.Apply(ctx, fx)
		if err != nil {
			log.Fatalf("Fixture seeding failed: %v", err)
		}
	} else {
		sum, err = s.Run(ctx, opts)
		if err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
	}

	log.Printf("Seeded %d riders, %d friendships, %d conversations, %d messages",
		sum.Riders, sum.Friendships, sum.Conversations, sum.Messages)
}
