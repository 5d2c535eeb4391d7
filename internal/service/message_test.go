package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/preview"
	"github.com/dmchat/internal/ws"
)

func TestSendValidatesAndClassifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dm(t, f.alice, f.bob)

	_, err := f.chat.Send(ctx, c.ID, f.alice, SendInput{Text: "   "})
	require.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.chat.Send(ctx, c.ID, f.alice, SendInput{Media: &model.Media{URL: "  "}})
	require.ErrorIs(t, err, ErrEmptyMessage)

	bad := "not-a-uuid"
	_, err = f.chat.Send(ctx, c.ID, f.alice, SendInput{Text: "hi", ReplyTo: &bad})
	require.ErrorIs(t, err, ErrInvalidTarget)

	_, err = f.chat.Send(ctx, c.ID, f.carol, SendInput{Text: "hi"})
	require.ErrorIs(t, err, ErrAccessDenied)

	m, err := f.chat.Send(ctx, c.ID, f.alice, SendInput{Media: &model.Media{URL: "/m/1", MIME: "image/jpeg"}})
	require.NoError(t, err)
	require.Equal(t, model.KindImage, m.Kind)
	require.Nil(t, m.Text)
	require.Equal(t, preview.Image, f.preview(t, c.ID))

	m, err = f.chat.Send(ctx, c.ID, f.alice, SendInput{Text: "  hello  "})
	require.NoError(t, err)
	require.Equal(t, model.KindText, m.Kind)
	require.Equal(t, "hello", *m.Text)
	require.Equal(t, []string{f.alice}, m.ReadBy)
	require.Equal(t, []string{f.alice}, m.DeliveredTo)
	require.NotNil(t, m.Sender)
	require.Equal(t, "alice", m.Sender.Username)
	require.Equal(t, "hello", f.preview(t, c.ID))
}

func TestSendLeavesCallerMediaUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dm(t, f.alice, f.bob)

	in := &model.Media{URL: "  /m/2  ", MIME: "video/mp4"}
	m, err := f.chat.Send(ctx, c.ID, f.alice, SendInput{Media: in})
	require.NoError(t, err)
	require.Equal(t, "/m/2", m.Media.URL)
	require.Equal(t, model.KindVideo, m.Kind)
	require.Equal(t, "  /m/2  ", in.URL)
	require.NotSame(t, in, m.Media)
}

func TestSendFansOut(t *testing.T) {
	f := newFixture(t)
	c := f.dm(t, f.alice, f.bob)
	f.rec.reset()

	m := f.send(t, c.ID, f.alice, "hey")

	msgs := f.rec.ofType(ws.EventNewMessage)
	require.Len(t, msgs, 1)
	require.Equal(t, ws.AudienceRoom, msgs[0].Audience)
	require.Equal(t, c.ID, msgs[0].Target)
	require.Equal(t, m.ID, msgs[0].Message.Payload.(ws.MessagePayload).MessageID)

	bumps := f.rec.ofType(ws.EventChatBumped)
	require.Len(t, bumps, 2)
	require.ElementsMatch(t, []string{f.alice, f.bob}, []string{bumps[0].Target, bumps[1].Target})
	payload := bumps[0].Message.Payload.(ws.ChatBumpedPayload)
	require.Equal(t, "hey", payload.LastMessagePreview)
	require.Equal(t, m.CreatedAt, *payload.LastMessageAt)
}

func TestReceiptsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dm(t, f.alice, f.bob)
	m := f.send(t, c.ID, f.alice, "one")
	f.rec.reset()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.chat.MarkRead(ctx, c.ID, f.bob)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := f.store.Messages().GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{f.alice, f.bob}, got.ReadBy)
	require.Len(t, f.rec.ofType(ws.EventMessageRead), 1)

	n, err := f.chat.MarkRead(ctx, c.ID, f.bob)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, f.rec.ofType(ws.EventMessageRead), 1)

	meta, err := f.store.Chats().GetMeta(ctx, c.ID, f.bob)
	require.NoError(t, err)
	require.NotNil(t, meta.LastReadAt)

	n, err = f.chat.MarkDelivered(ctx, c.ID, f.bob)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = f.chat.MarkDelivered(ctx, c.ID, f.bob)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, f.rec.ofType(ws.EventMessageDelivered), 1)

	_, err = f.chat.MarkRead(ctx, c.ID, f.carol)
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestUnreadCountDropsAfterRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dm(t, f.alice, f.bob)
	f.send(t, c.ID, f.alice, "one")
	f.send(t, c.ID, f.alice, "two")
	f.send(t, c.ID, f.bob, "mine")

	list, err := f.chat.ListConversations(ctx, f.bob)
	require.NoError(t, err)
	require.Equal(t, 2, list[0].UnreadCount)

	_, err = f.chat.MarkRead(ctx, c.ID, f.bob)
	require.NoError(t, err)

	list, err = f.chat.ListConversations(ctx, f.bob)
	require.NoError(t, err)
	require.Zero(t, list[0].UnreadCount)
	require.NotNil(t, list[0].LastReadAt)
}

func TestEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dm(t, f.alice, f.bob)
	first := f.send(t, c.ID, f.alice, "first")
	last := f.send(t, c.ID, f.alice, "last")

	_, err := f.chat.Edit(ctx, uuid.NewString(), f.alice, "x")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.chat.Edit(ctx, last.ID, f.bob, "x")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.chat.Edit(ctx, last.ID, f.alice, "  ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	f.rec.reset()
	edited, err := f.chat.Edit(ctx, first.ID, f.alice, "first, fixed")
	require.NoError(t, err)
	require.Equal(t, "first, fixed", *edited.Text)
	require.NotNil(t, edited.EditedAt)
	require.Equal(t, "last", f.preview(t, c.ID))
	require.Len(t, f.rec.ofType(ws.EventMessageEdited), 1)
	require.Empty(t, f.rec.ofType(ws.EventChatBumped))

	_, err = f.chat.Edit(ctx, last.ID, f.alice, "last, fixed")
	require.NoError(t, err)
	require.Equal(t, "last, fixed", f.preview(t, c.ID))
	require.Len(t, f.rec.ofType(ws.EventChatBumped), 2)

	require.NoError(t, f.chat.Remove(ctx, last.ID, f.alice, true))
	_, err = f.chat.Edit(ctx, last.ID, f.alice, "again")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRemoveForEveryone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dm(t, f.alice, f.bob)
	m := f.send(t, c.ID, f.alice, "oops")
	_, err := f.chat.MarkRead(ctx, c.ID, f.bob)
	require.NoError(t, err)
	_, _, err = f.chat.React(ctx, m.ID, f.bob, "👍")
	require.NoError(t, err)

	require.ErrorIs(t, f.chat.Remove(ctx, m.ID, f.bob, true), ErrForbidden)

	f.rec.reset()
	require.NoError(t, f.chat.Remove(ctx, m.ID, f.alice, true))

	got, err := f.store.Messages().GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, got.IsDeleted)
	require.Nil(t, got.Text)
	require.Nil(t, got.Media)
	require.Empty(t, got.Reactions)
	require.ElementsMatch(t, []string{f.alice, f.bob}, got.ReadBy)
	require.Equal(t, preview.Deleted, f.preview(t, c.ID))

	evs := f.rec.ofType(ws.EventMessageDeleted)
	require.Len(t, evs, 1)
	require.Equal(t, ws.AudienceRoom, evs[0].Audience)
	require.True(t, evs[0].Message.Payload.(ws.MessageDeletedPayload).ForEveryone)

	// A second delete is a no-op.
	require.NoError(t, f.chat.Remove(ctx, m.ID, f.alice, true))
	require.Len(t, f.rec.ofType(ws.EventMessageDeleted), 1)
}

func TestRemoveOlderMessageKeepsPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dm(t, f.alice, f.bob)
	old := f.send(t, c.ID, f.alice, "old")
	f.send(t, c.ID, f.bob, "newest")

	require.NoError(t, f.chat.Remove(ctx, old.ID, f.alice, true))
	require.Equal(t, "newest", f.preview(t, c.ID))
}

func TestRemoveForMe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dm(t, f.alice, f.bob)
	m := f.send(t, c.ID, f.alice, "private")

	require.ErrorIs(t, f.chat.Remove(ctx, m.ID, f.carol, false), ErrAccessDenied)

	f.rec.reset()
	require.NoError(t, f.chat.Remove(ctx, m.ID, f.bob, false))

	evs := f.rec.ofType(ws.EventMessageDeleted)
	require.Len(t, evs, 1)
	require.Equal(t, ws.AudienceUser, evs[0].Audience)
	require.Equal(t, f.bob, evs[0].Target)
	require.Equal(t, "private", f.preview(t, c.ID))

	bobPage, err := f.chat.List(ctx, c.ID, f.bob, "", 0)
	require.NoError(t, err)
	require.Empty(t, bobPage.Items)

	alicePage, err := f.chat.List(ctx, c.ID, f.alice, "", 0)
	require.NoError(t, err)
	require.Len(t, alicePage.Items, 1)
	require.False(t, alicePage.Items[0].IsDeleted)
}

func TestReactToggles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dm(t, f.alice, f.bob)
	m := f.send(t, c.ID, f.alice, "react to me")

	added, reactions, err := f.chat.React(ctx, m.ID, f.bob, "❤️")
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, []model.Reaction{{UserID: f.bob, Emoji: "❤️"}}, reactions)

	added, reactions, err = f.chat.React(ctx, m.ID, f.bob, "❤️")
	require.NoError(t, err)
	require.False(t, added)
	require.Empty(t, reactions)

	added, _, err = f.chat.React(ctx, m.ID, f.bob, "❤️")
	require.NoError(t, err)
	require.True(t, added)
	require.Len(t, f.rec.ofType(ws.EventMessageReacted), 3)

	_, _, err = f.chat.React(ctx, m.ID, f.bob, " ")
	require.ErrorIs(t, err, ErrInvalidTarget)

	_, _, err = f.chat.React(ctx, m.ID, f.carol, "❤️")
	require.ErrorIs(t, err, ErrAccessDenied)

	require.NoError(t, f.chat.Remove(ctx, m.ID, f.alice, true))
	_, _, err = f.chat.React(ctx, m.ID, f.bob, "❤️")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestForwardKeepsOriginalAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ab := f.dm(t, f.alice, f.bob)
	bc := f.dm(t, f.bob, f.carol)
	ca := f.dm(t, f.carol, f.alice)

	src := f.send(t, ab.ID, f.alice, "pass it on")

	fwd, err := f.chat.Forward(ctx, src.ID, f.bob, bc.ID)
	require.NoError(t, err)
	require.Equal(t, f.bob, fwd.SenderID)
	require.Equal(t, f.alice, *fwd.ForwardedFrom)
	require.Equal(t, "pass it on", *fwd.Text)
	require.Equal(t, "pass it on", f.preview(t, bc.ID))

	again, err := f.chat.Forward(ctx, fwd.ID, f.carol, ca.ID)
	require.NoError(t, err)
	require.Equal(t, f.carol, again.SenderID)
	require.Equal(t, f.alice, *again.ForwardedFrom)

	_, err = f.chat.Forward(ctx, src.ID, f.carol, ca.ID)
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.chat.Forward(ctx, src.ID, f.bob, ca.ID)
	require.ErrorIs(t, err, ErrAccessDenied)

	require.NoError(t, f.chat.Remove(ctx, src.ID, f.alice, true))
	_, err = f.chat.Forward(ctx, src.ID, f.bob, bc.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.chat.Forward(ctx, uuid.NewString(), f.bob, bc.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dm(t, f.alice, f.bob)
	m1 := f.send(t, c.ID, f.alice, "1")
	m2 := f.send(t, c.ID, f.bob, "2")
	m3 := f.send(t, c.ID, f.alice, "3")

	page, err := f.chat.List(ctx, c.ID, f.bob, FormatCursor(m1.CreatedAt), 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, m2.ID, page.Items[0].ID)
	require.Equal(t, m3.ID, page.Items[1].ID)
	require.NotNil(t, page.NextCursor)
	require.Equal(t, FormatCursor(m3.CreatedAt), *page.NextCursor)

	page, err = f.chat.List(ctx, c.ID, f.bob, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, m1.ID, page.Items[0].ID)

	page, err = f.chat.List(ctx, c.ID, f.bob, *page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, m3.ID, page.Items[0].ID)

	page, err = f.chat.List(ctx, c.ID, f.bob, *page.NextCursor, 2)
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.Nil(t, page.NextCursor)

	_, err = f.chat.List(ctx, c.ID, f.bob, "yesterday", 0)
	require.ErrorIs(t, err, ErrInvalidTarget)

	_, err = f.chat.List(ctx, c.ID, f.carol, "", 0)
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, DefaultPageSize, ClampLimit(0))
	require.Equal(t, DefaultPageSize, ClampLimit(-3))
	require.Equal(t, 7, ClampLimit(7))
	require.Equal(t, MaxPageSize, ClampLimit(MaxPageSize+1))
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC)
	got, err := ParseCursor(FormatCursor(at))
	require.NoError(t, err)
	require.True(t, at.Equal(*got))

	got, err = ParseCursor("")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestListMediaNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dm(t, f.alice, f.bob)
	img, err := f.chat.Send(ctx, c.ID, f.alice, SendInput{Media: &model.Media{URL: "/m/a", MIME: "image/png"}})
	require.NoError(t, err)
	f.send(t, c.ID, f.bob, "text only")
	doc, err := f.chat.Send(ctx, c.ID, f.bob, SendInput{Media: &model.Media{URL: "/m/b", MIME: "application/pdf", Filename: "a.pdf"}})
	require.NoError(t, err)
	gone, err := f.chat.Send(ctx, c.ID, f.alice, SendInput{Media: &model.Media{URL: "/m/c", MIME: "video/mp4"}})
	require.NoError(t, err)
	require.NoError(t, f.chat.Remove(ctx, gone.ID, f.alice, true))

	items, err := f.chat.ListMedia(ctx, c.ID, f.bob)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, doc.ID, items[0].ID)
	require.Equal(t, img.ID, items[1].ID)

	_, err = f.chat.ListMedia(ctx, c.ID, f.carol)
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestSearchIsScopedToParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ab := f.dm(t, f.alice, f.bob)
	bc := f.dm(t, f.bob, f.carol)
	f.send(t, ab.ID, f.alice, "Lunch tomorrow?")
	f.send(t, bc.ID, f.carol, "lunch is on me")

	got, err := f.chat.Search(ctx, f.bob, "LUNCH", "")
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = f.chat.Search(ctx, f.alice, "lunch", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, ab.ID, got[0].ConversationID)

	got, err = f.chat.Search(ctx, f.bob, "lunch", bc.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = f.chat.Search(ctx, f.alice, "lunch", bc.ID)
	require.ErrorIs(t, err, ErrAccessDenied)

	got, err = f.chat.Search(ctx, f.alice, "  ", "")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPushGoesToOfflineUnmutedPeer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := &pushRecorder{}
	f.chat.SetPushNotifier(p)
	c := f.dm(t, f.alice, f.bob)

	f.send(t, c.ID, f.alice, "you there?")
	require.Eventually(t, func() bool { return p.count() == 1 }, time.Second, 5*time.Millisecond)
	p.mu.Lock()
	require.Equal(t, notification{f.bob, "alice", "you there?"}, p.sent[0])
	p.mu.Unlock()

	muted := true
	_, err := f.chat.SetMeta(ctx, c.ID, f.bob, model.MetaUpdate{Muted: &muted})
	require.NoError(t, err)
	f.send(t, c.ID, f.alice, "muted")

	require.NoError(t, f.store.Users().SetOnline(ctx, f.alice, true, time.Now()))
	f.send(t, c.ID, f.bob, "alice is online")

	require.Never(t, func() bool { return p.count() > 1 }, 100*time.Millisecond, 5*time.Millisecond)
}
