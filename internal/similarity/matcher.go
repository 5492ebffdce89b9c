// Package similarity detects when a new asset is a silent or shorter copy of
// something the owner already stores, by comparing per-second frame hashes.
package similarity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"thirdcoast.systems/reel/internal/media"
)

type Reason string

const (
	ReasonAudioVariant  Reason = "audio-variant-found"
	ReasonLongerVariant Reason = "longer-variant-found"
)

// Policy holds the match thresholds. They are empirical and meant to be
// tuned from configuration.
type Policy struct {
	// ShortThreshold applies when the new sequence has at most ShortFrames samples.
	ShortThreshold int
	LongThreshold  int
	ShortFrames    int
	// DurationMarginMS is how much longer a candidate must run to count as a
	// longer variant when frame counts alone do not show it.
	DurationMarginMS int64
}

func DefaultPolicy() Policy {
	return Policy{
		ShortThreshold:   24,
		LongThreshold:    12,
		ShortFrames:      20,
		DurationMarginMS: 500,
	}
}

// Threshold returns the maximum average distance accepted for a new
// sequence of n frames.
func (p Policy) Threshold(n int) float64 {
	if n <= p.ShortFrames {
		return float64(p.ShortThreshold)
	}
	return float64(p.LongThreshold)
}

type Match struct {
	AssetID   uuid.UUID `json:"asset_id"`
	SourceURL *string   `json:"source_url,omitempty"`
	Reason    Reason    `json:"reason"`
	Score     float64   `json:"score"`
}

type Matcher struct {
	repo   media.Repository
	policy Policy
	logger *slog.Logger
}

func NewMatcher(repo media.Repository, policy Policy, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "similarity"))
	}
	def := DefaultPolicy()
	if policy.ShortThreshold <= 0 {
		policy.ShortThreshold = def.ShortThreshold
	}
	if policy.LongThreshold <= 0 {
		policy.LongThreshold = def.LongThreshold
	}
	if policy.ShortFrames <= 0 {
		policy.ShortFrames = def.ShortFrames
	}
	if policy.DurationMarginMS <= 0 {
		policy.DurationMarginMS = def.DurationMarginMS
	}
	return &Matcher{repo: repo, policy: policy, logger: logger}
}

// FindMatch scans the owner's other assets, most recent first, and returns
// the first one that qualifies. A nil Match means nothing qualified.
func (m *Matcher) FindMatch(ctx context.Context, a *media.Asset) (*Match, error) {
	if len(a.FrameHashes) == 0 {
		return nil, nil
	}

	candidates, err := m.repo.FindAll(ctx, a.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	limit := m.policy.Threshold(len(a.FrameHashes))
	for _, c := range candidates {
		if c.ID == a.ID || len(c.FrameHashes) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !a.HasAudio && c.HasAudio {
			if score, ok := BestWindow(a.FrameHashes, c.FrameHashes); ok && score <= limit {
				return &Match{AssetID: c.ID, SourceURL: c.SourceURL, Reason: ReasonAudioVariant, Score: score}, nil
			}
		}

		if m.isLonger(c, a) {
			if score, ok := BestWindow(a.FrameHashes, c.FrameHashes); ok && score <= limit {
				return &Match{AssetID: c.ID, SourceURL: c.SourceURL, Reason: ReasonLongerVariant, Score: score}, nil
			}
		}
	}

	m.logger.Debug("No variant match", "asset_id", a.ID, "candidates", len(candidates))
	return nil, nil
}

func (m *Matcher) isLonger(candidate, a *media.Asset) bool {
	if len(candidate.FrameHashes) > len(a.FrameHashes) {
		return true
	}
	if candidate.DurationMS != nil && a.DurationMS != nil {
		return *candidate.DurationMS-*a.DurationMS >= m.policy.DurationMarginMS
	}
	return false
}
