package storystore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/lifebook/era"
	"github.com/aschepis/backscratcher/lifebook/story"
)

// WelcomeMessageID is the id of the first biographer message of every story.
const WelcomeMessageID = "welcome_origin"

// Onboarding is what the user tells the biographer before the story begins.
type Onboarding struct {
	DisplayName string
	// DateOfBirth is "YYYY", "YYYY-MM" or "YYYY-MM-DD".
	DateOfBirth string
	BirthCity   string
	Tone        story.Tone
}

// CompleteOnboarding writes the profile, starts the era set and replaces the
// chat log with the welcome message, which proposes the birth as the first
// memory.
func (s *Store) CompleteOnboarding(o Onboarding) error {
	year, ok := story.YearOf(o.DateOfBirth)
	if !ok {
		return fmt.Errorf("%w: no birth year in %q", ErrInvalidProfile, o.DateOfBirth)
	}
	city := strings.TrimSpace(o.BirthCity)

	s.mu.Lock()
	defer s.mu.Unlock()

	profile := story.Profile{UID: s.uid}
	if s.snap.Profile != nil {
		profile = *s.snap.Profile
		profile.UID = s.uid
	}
	profile.DisplayName = strings.TrimSpace(o.DisplayName)
	profile.BirthYear = year
	profile.BirthCity = city
	profile.Onboarded = true
	if o.Tone != "" {
		profile.Tone = o.Tone
	}
	if err := s.validate.Struct(profile); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	next := s.snap.Clone()
	next.Profile = &profile
	next.Eras = era.Onboarding(year, city)
	next.Memories = era.Reassign(next.Memories, next.Eras)
	next.ChatHistory = []story.ChatMessage{{
		ID:        WelcomeMessageID,
		Role:      story.RoleBiographer,
		Text:      welcomeText(o.DateOfBirth, year),
		Timestamp: s.now().UnixMilli(),
		Proposals: []story.DraftMemory{{
			Narrative:              fmt.Sprintf("Born in %s.", city),
			SortDate:               o.DateOfBirth,
			Location:               city,
			Sentiment:              story.SentimentNeutral,
			SuggestedEraCategories: []story.EraCategory{story.EraPersonal, story.EraLocation},
		}},
	}}
	s.commitLocked(next)

	s.logger.Info().Int("birthYear", year).Str("birthCity", city).Msg("Onboarding complete")
	return nil
}

func welcomeText(dob string, year int) string {
	born := strconv.Itoa(year)
	if month := birthMonth(dob); month != "" {
		born = month + " " + born
	}
	return "I see you were born in " + born + ", that is great. \n\n" +
		"Do you want to tell me a bit about your parents or siblings? \n\n" +
		"If not, just start entering any story, adventure, trip, work, or anything relevant to your life" +
		"—your love life, kids, whatever comes to mind. I'm listening."
}

// birthMonth returns the month name of a "YYYY-MM[-DD]" date, or "".
func birthMonth(dob string) string {
	parts := strings.Split(dob, "-")
	if len(parts) < 2 {
		return ""
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 1 || n > 12 {
		return ""
	}
	return time.Month(n).String()
}
