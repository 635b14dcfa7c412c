package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"roadcrew/internal/models"

	"gopkg.in/yaml.v3"
)

// Fixture is a hand-written data set, typically a YAML file checked in next
// to a demo or an integration test.
type Fixture struct {
	Riders      []FixtureRider      `yaml:"riders"`
	Friendships []FixtureFriendship `yaml:"friendships"`
	Groups      []FixtureGroup      `yaml:"groups"`
	Private     []FixturePrivate    `yaml:"private"`
}

type FixtureRider struct {
	UserID   string `yaml:"user_id"`
	Username string `yaml:"username"`
	Mileage  int    `yaml:"mileage"`
}

type FixtureFriendship struct {
	From   string                  `yaml:"from"`
	To     string                  `yaml:"to"`
	Status models.FriendshipStatus `yaml:"status"`
}

type FixtureMessage struct {
	From    string `yaml:"from"`
	Content string `yaml:"content"`
}

type FixtureGroup struct {
	Name     string           `yaml:"name"`
	Members  []string         `yaml:"members"`
	Messages []FixtureMessage `yaml:"messages"`
}

type FixturePrivate struct {
	Between  [2]string        `yaml:"between"`
	Messages []FixtureMessage `yaml:"messages"`
}

// DecodeFixture parses YAML and checks that every reference names a rider
// declared in the same document.
func DecodeFixture(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := fx.validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// LoadFixtureFile reads a fixture from path.
func LoadFixtureFile(path string) (*Fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return DecodeFixture(file)
}

func (fx *Fixture) validate() error {
	known := make(map[string]bool, len(fx.Riders))
	for _, r := range fx.Riders {
		if r.UserID == "" || r.Username == "" {
			return errors.New("fixture: rider needs user_id and username")
		}
		if known[r.UserID] {
			return fmt.Errorf("fixture: duplicate rider %q", r.UserID)
		}
		known[r.UserID] = true
	}
	check := func(where, id string) error {
		if !known[id] {
			return fmt.Errorf("fixture: %s references unknown rider %q", where, id)
		}
		return nil
	}
	for _, f := range fx.Friendships {
		if err := check("friendship", f.From); err != nil {
			return err
		}
		if err := check("friendship", f.To); err != nil {
			return err
		}
		switch f.Status {
		case "", models.FriendshipStatusPending, models.FriendshipStatusAccepted,
			models.FriendshipStatusRejected, models.FriendshipStatusBlocked:
		default:
			return fmt.Errorf("fixture: unknown friendship status %q", f.Status)
		}
	}
	for _, g := range fx.Groups {
		if g.Name == "" || len(g.Members) < 2 {
			return fmt.Errorf("fixture: group %q needs a name and two members", g.Name)
		}
		for _, m := range g.Members {
			if err := check("group "+g.Name, m); err != nil {
				return err
			}
		}
		for _, msg := range g.Messages {
			if err := check("group "+g.Name, msg.From); err != nil {
				return err
			}
		}
	}
	for _, p := range fx.Private {
		for _, id := range p.Between {
			if err := check("private conversation", id); err != nil {
				return err
			}
		}
		if p.Between[0] == p.Between[1] {
			return errors.New("fixture: private conversation needs two distinct riders")
		}
	}
	return nil
}

// Apply writes the fixture. Friendships move from pending to their listed
// status the way a receiver would answer.
func (s *Seeder) Apply(ctx context.Context, fx *Fixture) (Summary, error) {
	var sum Summary
	for _, r := range fx.Riders {
		p := models.UserProfile{UserID: r.UserID, Username: r.Username, Mileage: r.Mileage}
		if err := s.profiles.Create(ctx, &p); err != nil {
			return sum, fmt.Errorf("create rider %s: %w", r.UserID, err)
		}
		sum.Riders++
	}

	for _, f := range fx.Friendships {
		fr := models.Friendship{UserA: f.From, UserB: f.To, Status: models.FriendshipStatusPending}
		if err := s.friends.CreateIfNoActive(ctx, &fr); err != nil {
			return sum, fmt.Errorf("friendship %s -> %s: %w", f.From, f.To, err)
		}
		if f.Status != "" && f.Status != models.FriendshipStatusPending {
			if err := s.friends.UpdateStatus(ctx, fr.ID, models.FriendshipStatusPending, f.Status); err != nil {
				return sum, fmt.Errorf("friendship %s -> %s: %w", f.From, f.To, err)
			}
		}
		sum.Friendships++
	}

	for _, g := range fx.Groups {
		name := g.Name
		conv := &models.Conversation{Type: models.ConversationTypeGroup, Name: &name}
		if err := s.chat.CreateConversation(ctx, conv, g.Members); err != nil {
			return sum, fmt.Errorf("group %s: %w", g.Name, err)
		}
		sum.Conversations++
		if err := s.postAll(ctx, conv.ID, g.Messages, &sum); err != nil {
			return sum, err
		}
	}

	for _, p := range fx.Private {
		conv, created, err := s.chat.FindOrCreatePrivate(ctx, p.Between[0], p.Between[1])
		if err != nil {
			return sum, fmt.Errorf("private %s/%s: %w", p.Between[0], p.Between[1], err)
		}
		if created {
			sum.Conversations++
		}
		if err := s.postAll(ctx, conv.ID, p.Messages, &sum); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (s *Seeder) postAll(ctx context.Context, convID uint, msgs []FixtureMessage, sum *Summary) error {
	for _, m := range msgs {
		msg := &models.Message{ConversationID: convID, SenderID: m.From, Content: m.Content}
		if err := s.chat.CreateMessage(ctx, msg); err != nil {
			return fmt.Errorf("message from %s: %w", m.From, err)
		}
		sum.Messages++
	}
	return nil
}
