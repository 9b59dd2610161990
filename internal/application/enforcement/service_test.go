package enforcement

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nezuko-platform/nezuko-core/internal/domain/group"
	"github.com/nezuko-platform/nezuko-core/internal/domain/verification"
)

type fakeFacade struct {
	restrictCalls []tgbotapi.ChatPermissions
	deletedIDs    []int
	sentTexts     []string
	nextMessageID int
	restrictErr   error
	sendErr       error
}

func (f *fakeFacade) RestrictChatMember(ctx context.Context, chatID, userID int64, permissions tgbotapi.ChatPermissions, untilUnixSeconds int64) error {
	f.restrictCalls = append(f.restrictCalls, permissions)
	return f.restrictErr
}

func (f *fakeFacade) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	f.deletedIDs = append(f.deletedIDs, messageID)
	return nil
}

func (f *fakeFacade) SendMessage(ctx context.Context, chatID int64, text string, replyMarkup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	f.sentTexts = append(f.sentTexts, text)
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextMessageID++
	return f.nextMessageID, nil
}

func TestService_Apply_RestrictedSendsChallengeAndMutes(t *testing.T) {
	facade := &fakeFacade{}
	svc := NewService(facade)

	in := Input{
		GroupChatID:      -100,
		UserID:           42,
		TriggerMessageID: 555,
		Verdict:          verification.Verdict{Kind: verification.VerdictRestricted, MissingChannelID: -300},
		Channel:          &group.EnforcedChannel{Username: "required_channel"},
	}

	err := svc.Apply(context.Background(), in)

	require.NoError(t, err)
	require.Len(t, facade.restrictCalls, 1)
	assert.Equal(t, tgbotapi.ChatPermissions{}, facade.restrictCalls[0])
	assert.Contains(t, facade.deletedIDs, 555)
	require.Len(t, facade.sentTexts, 1)
}

func TestService_Apply_VerifiedWithNoTrackedChallengeIsNoop(t *testing.T) {
	facade := &fakeFacade{}
	svc := NewService(facade)

	err := svc.Apply(context.Background(), Input{
		GroupChatID: -100,
		UserID:      42,
		Verdict:     verification.Verdict{Kind: verification.VerdictVerified},
	})

	require.NoError(t, err)
	assert.Empty(t, facade.restrictCalls)
}

func TestService_Apply_VerifiedAfterRestrictedUnmutesAndDeletesChallenge(t *testing.T) {
	facade := &fakeFacade{}
	svc := NewService(facade)

	restrictedIn := Input{
		GroupChatID: -100,
		UserID:      42,
		Verdict:     verification.Verdict{Kind: verification.VerdictRestricted, MissingChannelID: -300},
		Channel:     &group.EnforcedChannel{Username: "required_channel"},
	}
	require.NoError(t, svc.Apply(context.Background(), restrictedIn))

	verifiedIn := Input{
		GroupChatID: -100,
		UserID:      42,
		Verdict:     verification.Verdict{Kind: verification.VerdictVerified},
	}
	require.NoError(t, svc.Apply(context.Background(), verifiedIn))

	require.Len(t, facade.restrictCalls, 2)
	assert.Equal(t, DefaultPermissions, facade.restrictCalls[1])
	assert.Contains(t, facade.deletedIDs, 1) // the challenge message id sent during restrict
}

func TestService_Apply_ErrorVerdictIsNoop(t *testing.T) {
	facade := &fakeFacade{}
	svc := NewService(facade)

	err := svc.Apply(context.Background(), Input{
		GroupChatID: -100,
		UserID:      42,
		Verdict:     verification.Verdict{Kind: verification.VerdictError, ErrorKind: "transient"},
	})

	require.NoError(t, err)
	assert.Empty(t, facade.restrictCalls)
	assert.Empty(t, facade.sentTexts)
}
