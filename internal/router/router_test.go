package router_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/memory"
	"parley/internal/pipeline"
	"parley/internal/router"
	"parley/internal/telegram"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages []string
	actions  []string
}

func (f *fakeTransport) SendMessage(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeTransport) SendChatAction(_ context.Context, _ int64, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

type fakeReplier struct {
	ReplyFn func(ctx context.Context, sess *memory.Session, text string) (string, error)
}

func (f *fakeReplier) Reply(ctx context.Context, sess *memory.Session, text string) (string, error) {
	return f.ReplyFn(ctx, sess, text)
}

type fakeVoice struct {
	RunFn func(ctx context.Context, sess *memory.Session, chatID int64, fileID string) error
}

func (f *fakeVoice) Run(ctx context.Context, sess *memory.Session, chatID int64, fileID string) error {
	return f.RunFn(ctx, sess, chatID, fileID)
}

func textUpdate(chatID int64, text string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{
		Chat: telegram.Chat{ID: chatID, Type: "private"},
		Text: text,
	}}
}

func voiceUpdate(chatID int64, fileID string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{
		Chat:  telegram.Chat{ID: chatID, Type: "private"},
		Voice: &telegram.Voice{FileID: fileID},
	}}
}

func echoReplier(sessRecord bool) *fakeReplier {
	return &fakeReplier{ReplyFn: func(_ context.Context, sess *memory.Session, text string) (string, error) {
		if sessRecord {
			sess.AppendExchange(text, "echo:"+text)
		}
		return "echo:" + text, nil
	}}
}

func TestTextMessageRepliedAndRecorded(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	store := memory.NewStore(0)
	r := router.New(router.Config{
		Transport: tr,
		Replier:   echoReplier(true),
		Voice:     &fakeVoice{},
		Store:     store,
	})

	r.Dispatch(textUpdate(10, "hello"))

	require.Eventually(t, func() bool { return len(tr.sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"echo:hello"}, tr.sent())
	assert.Equal(t, 2, store.Get(10).Len())
}

func TestNTextMessagesYieldTwoNTurns(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	store := memory.NewStore(0)
	r := router.New(router.Config{
		Transport: tr,
		Replier:   echoReplier(true),
		Voice:     &fakeVoice{},
		Store:     store,
	})

	const n = 5
	for i := 0; i < n; i++ {
		r.Dispatch(textUpdate(10, "msg"))
	}

	require.Eventually(t, func() bool { return store.Get(10).Len() == 2*n }, time.Second, 5*time.Millisecond)

	turns := store.Get(10).History()
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, memory.RoleHuman, turns[i].Role)
		assert.Equal(t, memory.RoleAssistant, turns[i+1].Role)
	}
}

func TestCommandsNeverReachReplier(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	store := memory.NewStore(0)
	called := atomic.Bool{}
	r := router.New(router.Config{
		Transport: tr,
		Replier: &fakeReplier{ReplyFn: func(context.Context, *memory.Session, string) (string, error) {
			called.Store(true)
			return "", nil
		}},
		Voice: &fakeVoice{},
		Store: store,
	})

	r.Dispatch(textUpdate(10, "/help"))
	r.Dispatch(textUpdate(10, "/unknowncmd arg"))
	r.Dispatch(textUpdate(10, "/reset@parley_bot"))

	require.Eventually(t, func() bool { return len(tr.sent()) == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, called.Load())
	assert.Zero(t, store.Get(10).Len())
}

func TestResetClearsHistory(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	store := memory.NewStore(0)
	store.Get(10).AppendExchange("hi", "hello")

	r := router.New(router.Config{
		Transport: tr,
		Replier:   echoReplier(false),
		Voice:     &fakeVoice{},
		Store:     store,
	})

	r.Dispatch(textUpdate(10, "/reset"))

	require.Eventually(t, func() bool { return len(tr.sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, store.Get(10).Len())
}

func TestVoiceDispatchedToPipeline(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	var gotFile atomic.Value
	r := router.New(router.Config{
		Transport: tr,
		Replier:   echoReplier(false),
		Voice: &fakeVoice{RunFn: func(_ context.Context, _ *memory.Session, chatID int64, fileID string) error {
			gotFile.Store(fileID)
			return nil
		}},
		Store: memory.NewStore(0),
	})

	r.Dispatch(voiceUpdate(10, "F1"))

	require.Eventually(t, func() bool { return gotFile.Load() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "F1", gotFile.Load())
}

func TestVoiceFailureSendsApologyNotCrash(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	r := router.New(router.Config{
		Transport: tr,
		Replier:   echoReplier(false),
		Voice: &fakeVoice{RunFn: func(context.Context, *memory.Session, int64, string) error {
			return &pipeline.StageError{Stage: pipeline.StageTranscribe, Err: errors.New("garbled")}
		}},
		Store: memory.NewStore(0),
	})

	r.Dispatch(voiceUpdate(10, "F1"))

	require.Eventually(t, func() bool { return len(tr.sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, tr.sent()[0], "Sorry")
}

func TestSameChatRunsSerially(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	store := memory.NewStore(0)

	var inFlight, maxInFlight int32
	var mu sync.Mutex
	var order []string

	r := router.New(router.Config{
		Transport: tr,
		Replier: &fakeReplier{ReplyFn: func(_ context.Context, sess *memory.Session, text string) (string, error) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				prev := atomic.LoadInt32(&maxInFlight)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			order = append(order, text)
			mu.Unlock()
			atomic.AddInt32(&inFlight, -1)
			sess.AppendExchange(text, "ok")
			return "ok", nil
		}},
		Voice: &fakeVoice{},
		Store: store,
	})

	r.Dispatch(textUpdate(10, "first"))
	r.Dispatch(textUpdate(10, "second"))
	r.Dispatch(textUpdate(10, "third"))

	require.Eventually(t, func() bool { return store.Get(10).Len() == 6 }, 2*time.Second, 5*time.Millisecond)

	assert.EqualValues(t, 1, atomic.LoadInt32(&maxInFlight), "same-chat jobs must not overlap")
	mu.Lock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
	mu.Unlock()
}

func TestDifferentChatsRunConcurrently(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	store := memory.NewStore(0)

	release := make(chan struct{})
	started := make(chan int64, 2)

	r := router.New(router.Config{
		Transport: tr,
		Replier: &fakeReplier{ReplyFn: func(_ context.Context, sess *memory.Session, text string) (string, error) {
			started <- sess.Key()
			<-release
			sess.AppendExchange(text, "ok")
			return "ok", nil
		}},
		Voice: &fakeVoice{},
		Store: store,
	})

	r.Dispatch(textUpdate(1, "a"))
	r.Dispatch(textUpdate(2, "b"))

	// Both chats must enter their handler while neither has finished.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("chats blocked each other")
		}
	}
	close(release)

	require.Eventually(t, func() bool {
		return store.Get(1).Len() == 2 && store.Get(2).Len() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestReplierPanicDoesNotKillWorker(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	store := memory.NewStore(0)

	first := atomic.Bool{}
	r := router.New(router.Config{
		Transport: tr,
		Replier: &fakeReplier{ReplyFn: func(_ context.Context, sess *memory.Session, text string) (string, error) {
			if first.CompareAndSwap(false, true) {
				panic("boom")
			}
			sess.AppendExchange(text, "ok")
			return "ok", nil
		}},
		Voice: &fakeVoice{},
		Store: store,
	})

	r.Dispatch(textUpdate(10, "panics"))
	r.Dispatch(textUpdate(10, "survives"))

	require.Eventually(t, func() bool { return store.Get(10).Len() == 2 }, time.Second, 5*time.Millisecond)
}
