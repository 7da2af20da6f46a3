package profile

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"uniassist/internal/errkind"
	"uniassist/internal/llm"
)

// Store is the persistence port. Profiles travel as opaque JSON with an
// optimistic-lock version; version 0 on save means "create".
type Store interface {
	LoadProfile(ctx context.Context, userID string) ([]byte, int64, error)
	SaveProfile(ctx context.Context, userID string, profile []byte, version int64) error
}

// interestBumps maps interaction types to score increments.
var interestBumps = map[string]float64{
	InteractionQuestion:     0.10,
	InteractionFileDownload: 0.15,
	InteractionFormFill:     0.20,
	InteractionTopicClick:   0.05,
}

const saveRetries = 3

// Service reads, mutates and persists student profiles.
type Service struct {
	store     Store
	reasoning llm.Client
	halfLife  time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// NewService wires a profile service. reasoning may be nil when memory
// extraction is not needed (e.g. the CLI).
func NewService(store Store, reasoning llm.Client, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:     store,
		reasoning: reasoning,
		halfLife:  defaultHalfLife,
		log:       log,
		now:       time.Now,
	}
}

// GetOrCreate loads a profile, creating an empty one on first access.
// Interest scores are decayed on every read. The returned version feeds
// the next save.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*StudentProfile, int64, error) {
	if userID == "" {
		return nil, 0, errkind.Errorf(errkind.InvalidInput, "user id is required")
	}

	raw, version, err := s.store.LoadProfile(ctx, userID)
	if errkind.Is(err, errkind.NotFound) {
		p := &StudentProfile{
			UserID:      userID,
			Language:    "vi",
			DetailLevel: "medium",
			CreatedAt:   s.now(),
			UpdatedAt:   s.now(),
		}
		if err := s.save(ctx, p, 0); err != nil && !errkind.Is(err, errkind.Conflict) {
			return nil, 0, err
		}
		// A concurrent creator may have won; reload either way.
		raw, version, err = s.store.LoadProfile(ctx, userID)
		if err != nil {
			return nil, 0, err
		}
	} else if err != nil {
		return nil, 0, err
	}

	var p StudentProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, 0, errkind.E(errkind.Internal, "decode profile", err)
	}
	p.UserID = userID
	p.DecayInterests(s.now(), s.halfLife)
	return &p, version, nil
}

// Record appends an interaction and bumps the matching interest. Lost
// optimistic-lock races are retried against a fresh read.
func (s *Service) Record(ctx context.Context, userID, interactionType, topic string, metadata map[string]string) error {
	if interestBumps[interactionType] == 0 {
		return errkind.Errorf(errkind.InvalidInput, "unknown interaction type %q", interactionType)
	}

	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		p, version, err := s.GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		now := s.now()
		p.AppendInteraction(Interaction{Type: interactionType, Topic: topic, Metadata: metadata, At: now})
		p.BumpInterest(topic, "interaction", interestBumps[interactionType], now)

		err = s.save(ctx, p, version)
		if err == nil {
			return nil
		}
		if !errkind.Is(err, errkind.Conflict) {
			return err
		}
		lastErr = err
		s.log.Debug("profile save raced, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt+1))
	}
	return lastErr
}

// Personalize returns prompt-injection hints for a user.
func (s *Service) Personalize(ctx context.Context, userID string) (PersonalizedContext, error) {
	p, _, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return PersonalizedContext{}, err
	}
	return p.Personalize(), nil
}

// FormFields satisfies the fill_form tool's profile port.
func (s *Service) FormFields(ctx context.Context, userID string) (map[string]string, error) {
	p, _, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.FormValues(), nil
}

func (s *Service) save(ctx context.Context, p *StudentProfile, version int64) error {
	p.UpdatedAt = s.now()
	raw, err := json.Marshal(p)
	if err != nil {
		return errkind.E(errkind.Internal, "encode profile", err)
	}
	return s.store.SaveProfile(ctx, p.UserID, raw, version)
}
