// Package verification implements the Verification Service (C4): given a
// (bot, group, user) triple, decide whether that user is authorized to
// participate in the group under the group's linked channels (spec
// §4.4). This is the platform's hot path - called on every new member,
// every message, and every challenge-button press.
package verification

import (
	"context"
	"time"

	"github.com/nezuko-platform/nezuko-core/internal/domain/group"
	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
	"github.com/nezuko-platform/nezuko-core/internal/domain/verification"
)

// ChannelChecker abstracts the Telegram Client Facade's membership check
// down to the one call this service needs, so tests never touch the
// network.
type ChannelChecker interface {
	GetChatMember(ctx context.Context, chatID, userID int64) (MembershipStatus, error)
}

// MembershipStatus mirrors telegram.MembershipStatus without importing
// the infrastructure package, keeping this service free of any
// transport dependency.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipInactive MembershipStatus = "left"
)

// MembershipCache abstracts the Redis-backed verdict cache (C2).
type MembershipCache interface {
	Get(ctx context.Context, botInstanceID, channelID, userID int64) (cachedVerdict string, ok bool)
	Set(ctx context.Context, botInstanceID, channelID, userID int64, verdict string) error
}

// Cache verdict markers, mirrored from redis.MembershipVerdict to avoid
// an infrastructure import here.
const (
	CacheMember       = "member"
	CacheNonMember    = "non_member"
	CacheUnknownError = "unknown_error"
)

// GroupReader abstracts the Persistence Gateway's group-with-channels
// lookup.
type GroupReader interface {
	GetWithChannels(ctx context.Context, botInstanceID int64, groupID shared.TelegramID) (*group.WithChannels, error)
}

// LogSink abstracts the Verification Logger (C10): fire-and-forget,
// never returns an error.
type LogSink interface {
	RecordVerification(row *verification.Log)
}

// Service implements the algorithm in spec §4.4.
type Service struct {
	groups  GroupReader
	cache   MembershipCache
	checker ChannelChecker
	logs    LogSink
}

// NewService constructs a Verification Service.
func NewService(groups GroupReader, cache MembershipCache, checker ChannelChecker, logs LogSink) *Service {
	return &Service{groups: groups, cache: cache, checker: checker, logs: logs}
}

// Verify decides whether userID is authorized in groupID under
// botInstanceID, per the four-step algorithm of spec §4.4.
func (s *Service) Verify(ctx context.Context, botInstanceID int64, groupID, userID shared.TelegramID) verification.Verdict {
	start := time.Now()

	g, err := s.groups.GetWithChannels(ctx, botInstanceID, groupID)
	if err != nil {
		v := verification.Verdict{Kind: verification.VerdictError, ErrorKind: errorKind(err), LatencyMS: time.Since(start).Milliseconds()}
		s.record(botInstanceID, groupID, userID, v)
		return v
	}

	required := g.RequiredChannelIDs()
	if !g.Group.Enabled || len(required) == 0 {
		v := verification.Verdict{Kind: verification.VerdictVerified, LatencyMS: time.Since(start).Milliseconds()}
		s.record(botInstanceID, groupID, userID, v)
		return v
	}

	allCached := true
	sawError := false
	var missingChannel shared.TelegramID

	for _, channelID := range required {
		status, cached, err := s.checkChannel(ctx, botInstanceID, channelID.Int64(), userID.Int64())
		if !cached {
			allCached = false
		}
		if err != nil {
			sawError = true
			continue
		}
		if status == CacheNonMember {
			missingChannel = channelID
			break
		}
	}

	var v verification.Verdict
	switch {
	case missingChannel != 0:
		v = verification.Verdict{Kind: verification.VerdictRestricted, MissingChannelID: missingChannel, Cached: allCached}
	case sawError:
		v = verification.Verdict{Kind: verification.VerdictError, ErrorKind: "membership_check_failed", Cached: allCached}
	default:
		v = verification.Verdict{Kind: verification.VerdictVerified, Cached: allCached}
	}
	v.LatencyMS = time.Since(start).Milliseconds()
	s.record(botInstanceID, groupID, userID, v)
	return v
}

// checkChannel runs step 2 of the algorithm for one required channel:
// cache lookup, facade fallback, status mapping, cache write. Returns
// the verdict marker ("member"/"non_member"), whether it was served
// from cache, and a non-nil error only on a terminal facade failure.
func (s *Service) checkChannel(ctx context.Context, botInstanceID, channelID, userID int64) (string, bool, error) {
	if cached, ok := s.cache.Get(ctx, botInstanceID, channelID, userID); ok && cached != CacheUnknownError {
		return cached, true, nil
	}

	status, err := s.checker.GetChatMember(ctx, channelID, userID)
	if err != nil {
		_ = s.cache.Set(ctx, botInstanceID, channelID, userID, CacheUnknownError)
		return "", false, err
	}

	verdict := CacheNonMember
	if status == MembershipActive {
		verdict = CacheMember
	}
	_ = s.cache.Set(ctx, botInstanceID, channelID, userID, verdict)
	return verdict, false, nil
}

func (s *Service) record(botInstanceID int64, groupID, userID shared.TelegramID, v verification.Verdict) {
	if s.logs == nil {
		return
	}
	s.logs.RecordVerification(verification.NewLog(botInstanceID, groupID, userID, v))
}

func errorKind(err error) string {
	switch {
	case shared.IsNotFound(err):
		return "group_not_found"
	case shared.IsTransient(err):
		return "transient"
	default:
		return "unknown"
	}
}
