package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/samber/lo"

	"discussionhub/pkg/interfaces"
	"discussionhub/pkg/types"
)

var _ interfaces.AnalysisEngine = (*BaselineAnalyzer)(nil)

const (
	wordsPerMinute  = 150
	minSpeakingTime = 60
	maxSpeakingTime = 600
	scoreFloor      = 70
	scoreSpan       = 30
)

// BaselineAnalyzer produces a deterministic report: the same transcript and
// roster always yield the same scores. Scores fall in [70,99].
type BaselineAnalyzer struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewBaselineAnalyzer creates an analyzer stamping reports with now.
func NewBaselineAnalyzer(now func() time.Time, logger *slog.Logger) *BaselineAnalyzer {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BaselineAnalyzer{now: now, logger: logger.With("component", "analyzer")}
}

type contribution struct {
	messages int
	words    int
}

// Analyze returns one ParticipantAnalysis per distinct roster id, in roster order.
func (a *BaselineAnalyzer) Analyze(ctx context.Context, transcript []*types.Message, roster []types.RosterEntry) (*types.SessionAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contributions := make(map[string]*contribution)
	for _, msg := range transcript {
		c, ok := contributions[msg.SenderID]
		if !ok {
			c = &contribution{}
			contributions[msg.SenderID] = c
		}
		c.messages++
		c.words += len(strings.Fields(msg.Content))
	}

	entries := lo.UniqBy(roster, func(entry types.RosterEntry) string { return entry.ID })
	analyses := lo.Map(entries, func(entry types.RosterEntry, _ int) types.ParticipantAnalysis {
		return scoreParticipant(entry, contributions[entry.ID])
	})

	overall := 0
	if len(analyses) > 0 {
		total := lo.SumBy(analyses, func(p types.ParticipantAnalysis) int {
			return p.ContributionQuality + p.CommunicationEffectiveness
		})
		overall = clamp(total/(2*len(analyses)), 0, 100)
	}

	analysis := &types.SessionAnalysis{
		OverallScore:        overall,
		ParticipantAnalyses: analyses,
		KeyInsights:         append(append([]string{}, keyInsights...), languageInsights(transcript)...),
		Recommendations:     append([]string{}, recommendations...),
		Duration:            transcriptDuration(transcript),
		CompletedAt:         a.now().UTC(),
	}

	a.logger.Debug("session analyzed",
		"participants", len(analyses), "messages", len(transcript), "overall_score", overall)
	return analysis, nil
}

func scoreParticipant(entry types.RosterEntry, c *contribution) types.ParticipantAnalysis {
	if c == nil {
		c = &contribution{}
	}

	speaking := 0
	if c.messages > 0 {
		speaking = clamp(c.words*60/wordsPerMinute, minSpeakingTime, maxSpeakingTime)
	}

	points := append([]string{}, keyPoints...)
	improve := append([]string{}, improvements...)
	if c.messages == 0 {
		improve = append([]string{silentImprovement}, improve...)
	}

	name := entry.Name
	if name == "" {
		name = entry.ID
	}

	return types.ParticipantAnalysis{
		ParticipantID:              entry.ID,
		ParticipantName:            name,
		SpeakingTime:               speaking,
		ContributionQuality:        boundedScore(entry.ID, c.messages, "quality"),
		CommunicationEffectiveness: boundedScore(entry.ID, c.messages, "effectiveness"),
		KeyPoints:                  points,
		Improvements:               improve,
	}
}

// boundedScore maps (id, messages, metric) to a stable score in [70,99].
func boundedScore(id string, messages int, metric string) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s|%d|%s", id, messages, metric)
	return scoreFloor + int(h.Sum32()%scoreSpan)
}

func languageInsights(transcript []*types.Message) []string {
	text := strings.Join(lo.FilterMap(transcript, func(msg *types.Message, _ int) (string, bool) {
		return msg.Content, msg.Kind != types.KindAudioSignal
	}), " ")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return nil
	}
	return []string{fmt.Sprintf("Discussion was conducted in %s", info.Lang.String())}
}

func transcriptDuration(transcript []*types.Message) int {
	if len(transcript) < 2 {
		return 0
	}
	first, last := transcript[0].Timestamp, transcript[len(transcript)-1].Timestamp
	if last.Before(first) {
		return 0
	}
	return int(last.Sub(first).Seconds())
}

func clamp(v, low, high int) int {
	return max(low, min(v, high))
}
