package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/yagpt-chat/backend/internal/clock"
	model "github.com/zhouzirui/yagpt-chat/backend/internal/model/chat"
	chat "github.com/zhouzirui/yagpt-chat/backend/internal/service/chat"
)

func TestServiceGetSession(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "concise", "")
	require.NoError(t, err)

	got, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, "concise", got.PresetID)
	assert.NotEmpty(t, got.Title)
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc := chat.NewService()

	_, err := svc.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	_, err = svc.GetSession(context.Background(), "")
	assert.ErrorIs(t, err, chat.ErrSessionRequired)
}

func TestServiceEnsureSessionIsIdempotent(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	first, err := svc.EnsureSession(ctx, "browser-tab-1")
	require.NoError(t, err)
	require.NoError(t, svc.SaveMessage(ctx, first.ID, model.NewTurn(model.RoleUser, "hi", time.Now())))

	second, err := svc.EnsureSession(ctx, "browser-tab-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	turns, err := svc.LoadTranscript(ctx, "browser-tab-1", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestServiceRenameListDelete(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := chat.NewService(chat.WithClock(fake))
	ctx := context.Background()

	a, _ := svc.CreateSession(ctx, "", "first")
	fake.Advance(time.Minute)
	b, _ := svc.CreateSession(ctx, "", "second")

	renamed, err := svc.RenameSession(ctx, a.ID, "  renamed ")
	require.NoError(t, err)
	assert.Equal(t, "renamed", renamed.Title)

	_, err = svc.RenameSession(ctx, a.ID, " ")
	assert.ErrorIs(t, err, chat.ErrTitleRequired)

	list := svc.ListSessions(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	require.NoError(t, svc.DeleteSession(ctx, a.ID))
	assert.ErrorIs(t, svc.DeleteSession(ctx, a.ID), chat.ErrSessionNotFound)
	assert.Len(t, svc.ListSessions(ctx), 1)
}

func TestServiceClearTranscript(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "", "")

	require.NoError(t, svc.SaveMessage(ctx, session.ID, model.NewTurn(model.RoleUser, "hi", time.Now())))
	require.NoError(t, svc.SaveMessage(ctx, session.ID, model.NewTurn(model.RoleAssistant, "hello", time.Now())))
	require.NoError(t, svc.ClearTranscript(ctx, session.ID))

	turns, err := svc.LoadTranscript(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestServiceLockExchangeSerialises(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "", "")

	release, err := svc.LockExchange(ctx, session.ID)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = svc.LockExchange(waitCtx, session.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	again, err := svc.LockExchange(ctx, session.ID)
	require.NoError(t, err)
	again()
}

func TestServiceDeleteSessionWaitsForExchange(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "", "")

	release, err := svc.LockExchange(ctx, session.ID)
	require.NoError(t, err)

	deleted := make(chan error, 1)
	go func() { deleted <- svc.DeleteSession(ctx, session.ID) }()

	select {
	case err := <-deleted:
		t.Fatalf("delete finished while the exchange held the session: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	_, err = svc.GetSession(ctx, session.ID)
	require.NoError(t, err)

	release()
	require.NoError(t, <-deleted)
	_, err = svc.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestServiceDeleteAndClearHonourCancelledWait(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "", "")
	require.NoError(t, svc.SaveMessage(ctx, session.ID, model.NewTurn(model.RoleUser, "hi", time.Now())))

	release, err := svc.LockExchange(ctx, session.ID)
	require.NoError(t, err)
	defer release()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.ClearTranscript(waitCtx, session.ID), context.DeadlineExceeded)
	assert.ErrorIs(t, svc.DeleteSession(waitCtx, session.ID), context.DeadlineExceeded)

	turns, err := svc.LoadTranscript(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}
