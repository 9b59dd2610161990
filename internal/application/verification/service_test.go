package verification

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nezuko-platform/nezuko-core/internal/domain/group"
	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
	"github.com/nezuko-platform/nezuko-core/internal/domain/verification"
)

type fakeGroupReader struct {
	result *group.WithChannels
	err    error
}

func (f *fakeGroupReader) GetWithChannels(ctx context.Context, botInstanceID int64, groupID shared.TelegramID) (*group.WithChannels, error) {
	return f.result, f.err
}

type fakeCache struct {
	data map[string]string
	sets int
}

func cacheKey(bot, channel, user int64) string {
	return fmt.Sprintf("%d:%d:%d", bot, channel, user)
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string]string{}} }

func (f *fakeCache) Get(ctx context.Context, botInstanceID, channelID, userID int64) (string, bool) {
	v, ok := f.data[cacheKey(botInstanceID, channelID, userID)]
	return v, ok
}

func (f *fakeCache) Set(ctx context.Context, botInstanceID, channelID, userID int64, verdict string) error {
	f.sets++
	f.data[cacheKey(botInstanceID, channelID, userID)] = verdict
	return nil
}

type fakeChecker struct {
	status MembershipStatus
	err    error
}

func (f *fakeChecker) GetChatMember(ctx context.Context, chatID, userID int64) (MembershipStatus, error) {
	return f.status, f.err
}

type fakeLogSink struct {
	rows []*verification.Log
}

func (f *fakeLogSink) RecordVerification(row *verification.Log) {
	f.rows = append(f.rows, row)
}

func withChannels(enabled bool, channelIDs ...int64) *group.WithChannels {
	w := &group.WithChannels{Group: group.ProtectedGroup{Enabled: enabled}}
	for _, id := range channelIDs {
		w.Channels = append(w.Channels, group.EnforcedChannel{ChannelID: shared.TelegramID(id)})
	}
	return w
}

func TestService_Verify_DisabledGroupShortCircuitsVerified(t *testing.T) {
	reader := &fakeGroupReader{result: withChannels(false, -100)}
	checker := &fakeChecker{}
	sink := &fakeLogSink{}
	svc := NewService(reader, newFakeCache(), checker, sink)

	v := svc.Verify(context.Background(), 1, shared.TelegramID(-200), shared.TelegramID(42))

	assert.Equal(t, verification.VerdictVerified, v.Kind)
	require.Len(t, sink.rows, 1)
}

func TestService_Verify_NoChannelsIsVerified(t *testing.T) {
	reader := &fakeGroupReader{result: withChannels(true)}
	svc := NewService(reader, newFakeCache(), &fakeChecker{}, &fakeLogSink{})

	v := svc.Verify(context.Background(), 1, shared.TelegramID(-200), shared.TelegramID(42))

	assert.Equal(t, verification.VerdictVerified, v.Kind)
}

func TestService_Verify_CacheHitMemberIsVerified(t *testing.T) {
	reader := &fakeGroupReader{result: withChannels(true, -300)}
	cache := newFakeCache()
	_ = cache.Set(context.Background(), 1, -300, 42, CacheMember)
	checker := &fakeChecker{} // must not be called
	svc := NewService(reader, cache, checker, &fakeLogSink{})

	v := svc.Verify(context.Background(), 1, shared.TelegramID(-200), shared.TelegramID(42))

	assert.Equal(t, verification.VerdictVerified, v.Kind)
	assert.True(t, v.Cached)
}

func TestService_Verify_FacadeNonMemberIsRestricted(t *testing.T) {
	reader := &fakeGroupReader{result: withChannels(true, -300)}
	cache := newFakeCache()
	checker := &fakeChecker{status: MembershipInactive}
	svc := NewService(reader, cache, checker, &fakeLogSink{})

	v := svc.Verify(context.Background(), 1, shared.TelegramID(-200), shared.TelegramID(42))

	assert.Equal(t, verification.VerdictRestricted, v.Kind)
	assert.EqualValues(t, -300, v.MissingChannelID)
	assert.False(t, v.Cached)

	cached, ok := cache.Get(context.Background(), 1, -300, 42)
	assert.True(t, ok)
	assert.Equal(t, CacheNonMember, cached)
}

func TestService_Verify_FacadeErrorYieldsErrorVerdict(t *testing.T) {
	reader := &fakeGroupReader{result: withChannels(true, -300)}
	cache := newFakeCache()
	checker := &fakeChecker{err: assertErr{}}
	svc := NewService(reader, cache, checker, &fakeLogSink{})

	v := svc.Verify(context.Background(), 1, shared.TelegramID(-200), shared.TelegramID(42))

	assert.Equal(t, verification.VerdictError, v.Kind)
}

func TestService_Verify_GroupLookupErrorYieldsErrorVerdict(t *testing.T) {
	reader := &fakeGroupReader{err: shared.ErrGroupNotFound}
	svc := NewService(reader, newFakeCache(), &fakeChecker{}, &fakeLogSink{})

	v := svc.Verify(context.Background(), 1, shared.TelegramID(-200), shared.TelegramID(42))

	assert.Equal(t, verification.VerdictError, v.Kind)
	assert.Equal(t, "group_not_found", v.ErrorKind)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
