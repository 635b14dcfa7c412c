// Package seed creates demo riders, friendships and conversations for local
// development and tests.
package seed

import (
	"fmt"
	"strings"

	"roadcrew/internal/models"

	"github.com/brianvoe/gofakeit/v6"
)

var (
	bikeMakes = []string{"ducati", "triumph", "guzzi", "honda", "bmw", "ktm", "yamaha", "enfield"}

	roadNames = []string{
		"Tail of the Dragon", "Pacific Coast", "Beartooth Pass", "Blue Ridge", "Going-to-the-Sun",
		"Million Dollar Highway", "Three Sisters", "Cherohala Skyway", "Moki Dugway", "Needles Highway",
	}

	rideChatter = []string{
		"kickstands up at %s",
		"fuel stop at mile %d",
		"anyone got a spare %s?",
		"rain on the pass, taking the long way",
		"chain's been slapping since %s",
		"coffee at the diner first",
		"sweeper section was perfect",
		"meet at the gas station by the %s",
	}
)

// Factory builds domain values with realistic fake content. It never touches
// the database.
type Factory struct {
	faker *gofakeit.Faker
	seq   int
}

// NewFactory returns a factory. A zero seed draws from a random source;
// any other value makes the output reproducible.
func NewFactory(seed int64) *Factory {
	return &Factory{faker: gofakeit.New(seed)}
}

// Rider builds a profile with a unique user ref and a motorcycle-flavoured
// username.
func (f *Factory) Rider() models.UserProfile {
	f.seq++
	name := strings.ToLower(f.faker.FirstName())
	bike := bikeMakes[f.faker.Number(0, len(bikeMakes)-1)]
	return models.UserProfile{
		UserID:   f.faker.UUID(),
		Username: fmt.Sprintf("%s_%s%d", name, bike, f.seq),
		Mileage:  f.faker.Number(0, 250000),
	}
}

// GroupName picks a road to name a group ride after.
func (f *Factory) GroupName() string {
	road := roadNames[f.faker.Number(0, len(roadNames)-1)]
	return fmt.Sprintf("%s %s run", road, f.faker.WeekDay())
}

// Line returns one chat line.
func (f *Factory) Line() string {
	tmpl := rideChatter[f.faker.Number(0, len(rideChatter)-1)]
	switch {
	case strings.Contains(tmpl, "%d"):
		return fmt.Sprintf(tmpl, f.faker.Number(20, 300))
	case strings.Contains(tmpl, "at %s"), strings.Contains(tmpl, "since %s"):
		return fmt.Sprintf(tmpl, f.faker.Date().Format("15:04"))
	case strings.Contains(tmpl, "%s"):
		return fmt.Sprintf(tmpl, f.faker.Noun())
	}
	return tmpl
}

// Pick returns n distinct elements of pool in random order. n is clamped to
// the pool size.
func (f *Factory) Pick(pool []models.UserProfile, n int) []models.UserProfile {
	if n > len(pool) {
		n = len(pool)
	}
	shuffled := append([]models.UserProfile(nil), pool...)
	f.faker.ShuffleAnySlice(shuffled)
	return shuffled[:n]
}
